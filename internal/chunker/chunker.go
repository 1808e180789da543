package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	defaultChunkSize = 1000
	// Overlap defaults to 15% of the chunk size.
	defaultOverlapPercent = 15
)

// Chunk is one bounded span of a source document. Index is the zero-based
// position of the chunk within its source.
type Chunk struct {
	Content string
	Index   int
}

// Splitter splits text into overlapping chunks sized for embedding.
// Splitting tries separators in priority order (paragraph breaks, line
// breaks, spaces, raw runes), preferring the coarsest separator that keeps
// fragments under the chunk size. A single indivisible token longer than the
// chunk size is hard-split at the rune level; no content is dropped.
//
// Splitting is deterministic: the same input and configuration always yield
// the same chunk sequence.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// New creates a Splitter. chunkSize <= 0 selects the default (1000 runes);
// an overlap outside [0, chunkSize) selects the default (15% of chunk size).
func New(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize * defaultOverlapPercent / 100
	}
	return &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: []string{"\n\n", "\n", " ", ""},
	}
}

// Split returns the ordered chunk sequence for text. Empty (or
// whitespace-only) input yields zero chunks, which is legal, not an error.
// Concatenating chunk contents in index order covers the original text,
// modulo the overlap duplication between neighboring chunks.
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	frags := s.fragment(text, s.separators)

	var chunks []Chunk
	cur := ""
	carried := 0 // runes of cur carried over from the previous chunk
	for _, frag := range frags {
		curLen := utf8.RuneCountInString(cur)
		if curLen > carried && curLen+utf8.RuneCountInString(frag) > s.chunkSize {
			chunks = append(chunks, Chunk{Content: cur, Index: len(chunks)})
			cur = tailRunes(cur, s.overlap)
			carried = utf8.RuneCountInString(cur)
		}
		cur += frag
	}
	if utf8.RuneCountInString(cur) > carried {
		chunks = append(chunks, Chunk{Content: cur, Index: len(chunks)})
	}
	return chunks
}

// fragment recursively splits text into pieces no longer than chunkSize
// where the separators allow it. Separators stay attached to the preceding
// piece so that the pieces concatenate back to the original text.
func (s *Splitter) fragment(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= s.chunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return []string{text}
	}

	sep := separators[0]
	if sep == "" {
		return splitEveryN(text, s.chunkSize)
	}

	parts := strings.Split(text, sep)
	frags := make([]string, 0, len(parts))
	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) <= s.chunkSize {
			frags = append(frags, part)
		} else {
			frags = append(frags, s.fragment(part, separators[1:])...)
		}
	}
	return frags
}

// splitEveryN hard-splits text into pieces of at most n runes.
func splitEveryN(text string, n int) []string {
	runes := []rune(text)
	pieces := make([]string, 0, (len(runes)+n-1)/n)
	for start := 0; start < len(runes); start += n {
		end := start + n
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

// tailRunes returns the last n runes of text.
func tailRunes(text string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}
