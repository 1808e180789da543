package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"industrychat/internal/chunker"
	"industrychat/internal/extract"
	"industrychat/internal/retrieval"
)

// TextExtractor turns a raw source into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, src extract.Source) (string, error)
}

// TextSplitter cuts extracted text into overlapping chunks.
type TextSplitter interface {
	Split(text string) []chunker.Chunk
}

// TextEmbedder embeds chunk contents in input order.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkReplacer swaps a data source's stored chunks atomically.
type ChunkReplacer interface {
	Replace(ctx context.Context, sourceID string, chunks []retrieval.Chunk) error
}

// SourceMeta identifies where ingested chunks belong and how citations will
// label them.
type SourceMeta struct {
	ProfileID string
	SourceID  string
	Name      string
	URL       string
	Type      string
}

// Service runs the ingestion pipeline: extract, chunk, embed, store.
type Service struct {
	extractor TextExtractor
	splitter  TextSplitter
	embedder  TextEmbedder
	store     ChunkReplacer
}

func NewService(extractor TextExtractor, splitter TextSplitter, embedder TextEmbedder, store ChunkReplacer) *Service {
	return &Service{extractor: extractor, splitter: splitter, embedder: embedder, store: store}
}

// Ingest processes one source end to end and returns the number of chunks
// stored. A source that extracts to empty text clears any previously stored
// chunks and returns 0. On error the source's prior chunks stay untouched.
func (s *Service) Ingest(ctx context.Context, src extract.Source, meta SourceMeta) (int, error) {
	start := time.Now()

	text, err := s.extractor.Extract(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("extracting %s: %w", meta.Name, err)
	}

	pieces := s.splitter.Split(text)
	if len(pieces) == 0 {
		if err := s.store.Replace(ctx, meta.SourceID, nil); err != nil {
			return 0, err
		}
		slog.Info("ingested empty source", "source", meta.Name, "profile_id", meta.ProfileID)
		return 0, nil
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding %s: %w", meta.Name, err)
	}
	if len(vectors) != len(pieces) {
		return 0, fmt.Errorf("embedding %s: got %d vectors for %d chunks", meta.Name, len(vectors), len(pieces))
	}

	now := time.Now().UTC()
	chunks := make([]retrieval.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = retrieval.Chunk{
			ID:         uuid.NewString(),
			ProfileID:  meta.ProfileID,
			SourceID:   meta.SourceID,
			SourceName: meta.Name,
			SourceURL:  meta.URL,
			SourceType: meta.Type,
			Index:      p.Index,
			Content:    p.Content,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
	}

	if err := s.store.Replace(ctx, meta.SourceID, chunks); err != nil {
		return 0, err
	}

	slog.Info("ingested source",
		"source", meta.Name,
		"profile_id", meta.ProfileID,
		"chunks", len(chunks),
		"duration", time.Since(start).Round(time.Millisecond))
	return len(chunks), nil
}
