package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize = 64
	embedConcurrency = 4
)

// EmbeddingClient turns texts into vectors. Satisfied by llm.Client.
type EmbeddingClient interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Embedder batches texts through an embedding client, keeping output order
// aligned with input order.
type Embedder struct {
	client    EmbeddingClient
	model     string
	batchSize int
}

func NewEmbedder(client EmbeddingClient, model string) *Embedder {
	return &Embedder{client: client, model: model, batchSize: defaultBatchSize}
}

// EmbedTexts embeds all texts, splitting them into batches that run with
// bounded concurrency. Vector i corresponds to texts[i]. Any batch failure
// fails the whole call.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			batch, err := e.client.Embed(ctx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch at %d: %w", start, err)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := e.client.Embed(ctx, e.model, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 query vector, got %d", len(vectors))
	}
	return vectors[0], nil
}
