package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"industrychat/internal/extract"
	"industrychat/internal/ingest"
	"industrychat/internal/storage"
)

type sourceRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"` // file, url, text
	Content string `json:"content"` // pasted text, or base64 file data
	MIME    string `json:"mime"`
	URL     string `json:"url"`
}

type sourceResponse struct {
	DataSourceID    string `json:"data_source_id"`
	ChunksProcessed int    `json:"chunks_processed"`
}

func handleAddSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, err := deps.Store.GetProfile(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req sourceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		src, ds, msg := buildSource(req, profile.ID)
		if msg != "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", msg)
			return
		}

		if err := deps.Store.SaveDataSource(ds); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save data source: %v", err)
			return
		}

		n, err := deps.Ingestor.Ingest(r.Context(), src, sourceMeta(ds))
		if err != nil {
			// Roll the source row back so a failed ingestion leaves nothing
			// half-registered.
			_ = deps.Store.DeleteDataSource(ds.ID)
			status, errType := ingestErrorStatus(err)
			httpError(w, status, errType, "ingestion failed: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, sourceResponse{DataSourceID: ds.ID, ChunksProcessed: n})
	}
}

// buildSource validates a source request and produces both the extraction
// input and the row to persist. Returns a non-empty message on invalid input.
func buildSource(req sourceRequest, profileID string) (extract.Source, storage.DataSource, string) {
	name := strings.TrimSpace(req.Name)
	ds := storage.DataSource{
		ID:                uuid.NewString(),
		IndustryProfileID: profileID,
		Name:              name,
		Type:              req.Type,
		CreatedAt:         time.Now().UTC(),
	}

	switch req.Type {
	case "text":
		if req.Content == "" {
			return extract.Source{}, ds, "content is required for text sources"
		}
		if name == "" {
			return extract.Source{}, ds, "name is required"
		}
		ds.Content = req.Content
		return extract.Source{Type: extract.TypeText, Name: name, Text: req.Content}, ds, ""

	case "file":
		if req.Content == "" {
			return extract.Source{}, ds, "content is required for file sources"
		}
		if name == "" {
			return extract.Source{}, ds, "name is required"
		}
		data, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return extract.Source{}, ds, "content must be base64 for file sources"
		}
		ds.MIME = req.MIME
		ds.Content = req.Content
		return extract.Source{Type: extract.TypeFile, Name: name, MIME: req.MIME, Data: data}, ds, ""

	case "url":
		if req.URL == "" {
			return extract.Source{}, ds, "url is required for url sources"
		}
		if name == "" {
			name = req.URL
			ds.Name = name
		}
		ds.URL = req.URL
		return extract.Source{Type: extract.TypeURL, Name: name, URL: req.URL}, ds, ""

	default:
		return extract.Source{}, ds, "type must be one of file, url, text"
	}
}

func sourceMeta(ds storage.DataSource) ingest.SourceMeta {
	return ingest.SourceMeta{
		ProfileID: ds.IndustryProfileID,
		SourceID:  ds.ID,
		Name:      ds.Name,
		URL:       ds.URL,
		Type:      ds.Type,
	}
}

// ingestErrorStatus maps pipeline failures onto HTTP semantics: bad input is
// the caller's fault, everything else is upstream or internal.
func ingestErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, extract.ErrUnsupportedFormat), errors.Is(err, extract.ErrExtractionFailure):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, extract.ErrFetchFailure):
		return http.StatusBadGateway, "api_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func handleListSources(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profileID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetProfile(profileID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}

		sources, err := deps.Store.ListDataSources(profileID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sources: %v", err)
			return
		}
		if sources == nil {
			sources = []storage.DataSource{}
		}
		writeJSON(w, http.StatusOK, sources)
	}
}

func handleDeleteSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Store.DeleteDataSource(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "data source not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete source: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleReingestSource rebuilds a source's chunks from its stored content
// (or by refetching its URL). Useful after changing chunking settings or the
// embedding model.
func handleReingestSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds, err := deps.Store.GetDataSource(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "data source not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get source: %v", err)
			return
		}

		src, msg := rebuildSource(ds)
		if msg != "" {
			httpError(w, http.StatusConflict, "api_error", "%s", msg)
			return
		}

		n, err := deps.Ingestor.Ingest(r.Context(), src, sourceMeta(ds))
		if err != nil {
			status, errType := ingestErrorStatus(err)
			httpError(w, status, errType, "ingestion failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sourceResponse{DataSourceID: ds.ID, ChunksProcessed: n})
	}
}

// rebuildSource reconstructs extraction input from a stored data source row.
func rebuildSource(ds storage.DataSource) (extract.Source, string) {
	switch ds.Type {
	case "text":
		return extract.Source{Type: extract.TypeText, Name: ds.Name, Text: ds.Content}, ""
	case "url":
		return extract.Source{Type: extract.TypeURL, Name: ds.Name, URL: ds.URL}, ""
	case "file":
		data, err := base64.StdEncoding.DecodeString(ds.Content)
		if err != nil {
			return extract.Source{}, "stored file content is not valid base64"
		}
		return extract.Source{Type: extract.TypeFile, Name: ds.Name, MIME: ds.MIME, Data: data}, ""
	default:
		return extract.Source{}, "unknown source type " + ds.Type
	}
}
