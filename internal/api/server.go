package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"industrychat/internal/chat"
	"industrychat/internal/composer"
	"industrychat/internal/extract"
	"industrychat/internal/ingest"
	"industrychat/internal/retrieval"
	"industrychat/internal/storage"
)

const maxRequestBodySize = 10 << 20 // 10MB, covers base64 file uploads

// Ingestor runs the ingestion pipeline for one source.
type Ingestor interface {
	Ingest(ctx context.Context, src extract.Source, meta ingest.SourceMeta) (int, error)
}

// ChunkRetriever finds chunks relevant to a query within a profile.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, query string, profile storage.IndustryProfile) ([]retrieval.ScoredChunk, error)
}

// AnswerStreamer streams a model answer as chat events.
type AnswerStreamer interface {
	Respond(ctx context.Context, req chat.Request) <-chan chat.Event
}

// Deps holds everything the HTTP API needs.
type Deps struct {
	Store     *storage.Store
	Ingestor  Ingestor
	Retriever ChunkRetriever
	Composer  *composer.Composer
	Responder AnswerStreamer
	Chunks    retrieval.ChunkStore
	Token     string // empty disables auth
}

// NewHandler returns the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/profiles", handleCreateProfile(deps))
		r.Get("/profiles", handleListProfiles(deps))
		r.Get("/profiles/{id}", handleGetProfile(deps))
		r.Patch("/profiles/{id}", handlePatchProfile(deps))
		r.Delete("/profiles/{id}", handleDeleteProfile(deps))

		r.Post("/profiles/{id}/sources", handleAddSource(deps))
		r.Get("/profiles/{id}/sources", handleListSources(deps))
		r.Get("/profiles/{id}/messages", handleListMessages(deps))

		r.Delete("/sources/{id}", handleDeleteSource(deps))
		r.Post("/sources/{id}/ingest", handleReingestSource(deps))

		r.Post("/chat", handleChat(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
