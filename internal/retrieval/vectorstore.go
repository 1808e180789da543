package retrieval

import (
	"context"
	"errors"
	"time"
)

// ErrStoreWrite is returned when persisting chunks fails; no partial writes
// survive a failed call.
var ErrStoreWrite = errors.New("chunk store write failed")

// Chunk is one embedded fragment of a data source, carrying enough source
// metadata to build a citation without joining back to the source row.
type Chunk struct {
	ID         string
	ProfileID  string
	SourceID   string
	SourceName string
	SourceURL  string
	SourceType string
	Index      int
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredChunk pairs a chunk with its cosine similarity to a query vector.
type ScoredChunk struct {
	Chunk
	Score float32
}

// ChunkStore persists embedded chunks and answers similarity queries scoped
// to a single profile.
type ChunkStore interface {
	// Replace atomically swaps all chunks of a data source for the given
	// set. Passing an empty set clears the source's chunks.
	Replace(ctx context.Context, sourceID string, chunks []Chunk) error

	// Search returns up to topK chunks of the profile ranked by cosine
	// similarity to vector, highest first.
	Search(ctx context.Context, vector []float32, profileID string, topK int) ([]ScoredChunk, error)

	// DeleteBySource removes every chunk belonging to a data source.
	DeleteBySource(ctx context.Context, sourceID string) error

	// CountByProfile reports how many chunks a profile currently holds.
	CountByProfile(ctx context.Context, profileID string) (int, error)
}
