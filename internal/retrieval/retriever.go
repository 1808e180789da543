package retrieval

import (
	"context"
	"fmt"

	"industrychat/internal/storage"
)

// defaultTopK applies when a profile does not pin its own retrieval depth.
const defaultTopK = 5

// QueryEmbedder is the slice of Embedder the retriever needs.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Retriever answers "which chunks are relevant to this query" for a profile.
type Retriever struct {
	embedder QueryEmbedder
	store    ChunkStore
}

func NewRetriever(embedder QueryEmbedder, store ChunkStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns the profile's top-K most similar
// chunks, highest score first. A profile with no chunks yields an empty
// result and no error.
func (r *Retriever) Retrieve(ctx context.Context, query string, profile storage.IndustryProfile) ([]ScoredChunk, error) {
	topK := profile.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	chunks, err := r.store.Search(ctx, vector, profile.ID, topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	return chunks, nil
}
