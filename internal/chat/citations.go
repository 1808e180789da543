package chat

import (
	"strings"

	"industrychat/internal/retrieval"
)

// excerptRunes bounds the chunk excerpt attached to each citation.
const excerptRunes = 200

// Citation points a reader back at the source a cited answer drew from.
type Citation struct {
	Source  string `json:"source"`
	URL     string `json:"url,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
}

// ExtractCitations finds which retrieved chunks the answer actually cites: a
// chunk counts when its source name appears in the answer, matched without
// regard to case. One citation per source name; the first matching chunk
// supplies the excerpt and URL.
func ExtractCitations(answer string, chunks []retrieval.ScoredChunk) []Citation {
	if answer == "" || len(chunks) == 0 {
		return nil
	}

	lowered := strings.ToLower(answer)
	seen := make(map[string]bool, len(chunks))

	var citations []Citation
	for _, ch := range chunks {
		name := strings.TrimSpace(ch.SourceName)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		if !strings.Contains(lowered, key) {
			continue
		}
		seen[key] = true
		citations = append(citations, Citation{
			Source:  name,
			URL:     ch.SourceURL,
			Excerpt: excerpt(ch.Content),
		})
	}
	return citations
}

// excerpt returns the first excerptRunes runes of content, with an ellipsis
// when truncated.
func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= excerptRunes {
		return content
	}
	return string(runes[:excerptRunes]) + "…"
}
