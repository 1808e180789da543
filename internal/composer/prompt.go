package composer

import (
	"fmt"
	"sort"
	"strings"

	"industrychat/internal/retrieval"
	"industrychat/internal/storage"
)

const (
	defaultMaxContextTokens = 4000

	fallbackSystemPrompt = "You are a helpful assistant."

	citeInstruction = "When your answer draws on the documents above, cite them inline " +
		"by writing [Source: <name>] with the exact source name. Do not cite documents " +
		"you did not use."

	noContextDisclosure = "No relevant documents were found for this question. Answer " +
		"from general knowledge and tell the user the answer is not based on their documents."

	noRetrievalInstruction = "Answer from general knowledge and do not cite documents."
)

// Composer builds the system prompt sent to the chat model from a profile
// and the retrieved chunks. Exactly one of three shapes comes out: context
// plus citation instructions, a no-documents disclosure, or a
// general-knowledge instruction when retrieval is off.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns the system prompt for one chat turn. The result is never
// empty.
func (c *Composer) Compose(profile storage.IndustryProfile, chunks []retrieval.ScoredChunk, retrievalEnabled bool) string {
	base := strings.TrimSpace(profile.SystemPrompt)
	if base == "" {
		base = fallbackSystemPrompt
	}

	if !retrievalEnabled {
		return base + "\n\n" + noRetrievalInstruction
	}
	if len(chunks) == 0 {
		return base + "\n\n" + noContextDisclosure
	}

	var sb strings.Builder
	sb.WriteString(base)

	// Budget: injected context must stay under MaxContextTokens. Sort by
	// score descending so the budget drops the weakest chunks first.
	sorted := make([]retrieval.ScoredChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	contextHeader := "\n\n[Retrieved Context]\n"
	remaining := c.MaxContextTokens - EstimateTokens(sb.String()) - EstimateTokens(contextHeader)

	var entries []string
	for _, ch := range sorted {
		entry := formatChunk(ch)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		entries = append(entries, entry)
		remaining -= tokens
	}

	if len(entries) == 0 {
		return base + "\n\n" + noContextDisclosure
	}

	sb.WriteString(contextHeader)
	for _, entry := range entries {
		sb.WriteString(entry)
	}
	sb.WriteString(citeInstruction)
	return sb.String()
}

func formatChunk(ch retrieval.ScoredChunk) string {
	return fmt.Sprintf("Source: %s\n%s\n\n", ch.SourceName, ch.Content)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
