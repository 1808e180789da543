package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"industrychat/internal/storage"
)

type profileRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"system_prompt"`
	Temperature  *float64 `json:"temperature"`
	TopK         *int     `json:"top_k"`
}

func handleCreateProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req profileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if strings.TrimSpace(req.Name) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		p := storage.IndustryProfile{
			ID:           uuid.NewString(),
			Name:         req.Name,
			Description:  req.Description,
			SystemPrompt: req.SystemPrompt,
			Temperature:  0.7,
			TopK:         5,
			CreatedAt:    time.Now().UTC(),
		}
		if req.Temperature != nil {
			p.Temperature = *req.Temperature
		}
		if req.TopK != nil {
			p.TopK = *req.TopK
		}
		if msg := validateProfile(p); msg != "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", msg)
			return
		}

		if err := deps.Store.SaveProfile(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save profile: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func validateProfile(p storage.IndustryProfile) string {
	if p.Temperature < 0 || p.Temperature > 2 {
		return "temperature must be between 0 and 2"
	}
	if p.TopK < 1 || p.TopK > 20 {
		return "top_k must be between 1 and 20"
	}
	return ""
}

func handleListProfiles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := deps.Store.ListProfiles()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list profiles: %v", err)
			return
		}
		if profiles == nil {
			profiles = []storage.IndustryProfile{}
		}
		writeJSON(w, http.StatusOK, profiles)
	}
}

// profileDetail adds the profile's stored chunk count to the profile view.
type profileDetail struct {
	storage.IndustryProfile
	ChunkCount int `json:"chunk_count"`
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetProfile(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}

		count, err := deps.Chunks.CountByProfile(r.Context(), p.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count chunks: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, profileDetail{IndustryProfile: p, ChunkCount: count})
	}
}

func handlePatchProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetProfile(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req profileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Name != "" {
			p.Name = req.Name
		}
		if req.Description != "" {
			p.Description = req.Description
		}
		if req.SystemPrompt != "" {
			p.SystemPrompt = req.SystemPrompt
		}
		if req.Temperature != nil {
			p.Temperature = *req.Temperature
		}
		if req.TopK != nil {
			p.TopK = *req.TopK
		}
		if msg := validateProfile(p); msg != "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", msg)
			return
		}

		if err := deps.Store.UpdateProfile(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleDeleteProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteProfile(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profileID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetProfile(profileID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}

		limit := parseIntParam(r, "limit", 50, 500)
		messages, err := deps.Store.ListMessages(profileID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}
		if messages == nil {
			messages = []storage.Message{}
		}
		writeJSON(w, http.StatusOK, messages)
	}
}
