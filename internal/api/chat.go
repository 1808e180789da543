package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"industrychat/internal/chat"
	"industrychat/internal/llm"
	"industrychat/internal/storage"
)

// historyTurns bounds how many stored messages are replayed to the model.
const historyTurns = 10

type chatRequest struct {
	ProfileID string `json:"profile_id"`
	Message   string `json:"message"`
	// Retrieval defaults to on; set false to answer from the model alone.
	Retrieval *bool `json:"retrieval"`
}

// handleChat streams one answered chat turn as server-sent events. The user
// message is persisted before streaming starts; the assistant message is
// persisted only after the stream completes, so an aborted or failed turn
// leaves no half answer in history.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ProfileID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "profile_id is required")
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		retrievalEnabled := req.Retrieval == nil || *req.Retrieval

		profile, err := deps.Store.GetProfile(req.ProfileID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		history, err := deps.Store.ListMessages(profile.ID, historyTurns)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}

		chatReq := chat.Request{
			Profile: profile,
			History: toLLMMessages(history),
			Message: req.Message,
		}
		if retrievalEnabled {
			chunks, err := deps.Retriever.Retrieve(r.Context(), req.Message, profile)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "retrieval failed: %v", err)
				return
			}
			chatReq.Chunks = chunks
		}
		chatReq.Instructions = deps.Composer.Compose(profile, chatReq.Chunks, retrievalEnabled)

		if err := deps.Store.SaveMessage(storage.Message{
			ID:                uuid.NewString(),
			IndustryProfileID: profile.ID,
			Role:              "user",
			Content:           req.Message,
			CreatedAt:         time.Now().UTC(),
		}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save message: %v", err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		var answer strings.Builder
		var citations []chat.Citation
		completed := false

		for ev := range deps.Responder.Respond(r.Context(), chatReq) {
			switch ev.Type {
			case chat.EventContent:
				answer.WriteString(ev.Content)
			case chat.EventCitations:
				citations = ev.Citations
			case chat.EventDone:
				completed = true
			}
			writeSSE(w, flusher, ev)
		}

		if completed {
			citationsJSON := "[]"
			if len(citations) > 0 {
				if b, err := json.Marshal(citations); err == nil {
					citationsJSON = string(b)
				}
			}
			// The stream already completed on the wire, so the request
			// cannot fail here; the lost turn still has to be diagnosable.
			if err := deps.Store.SaveMessage(storage.Message{
				ID:                uuid.NewString(),
				IndustryProfileID: profile.ID,
				Role:              "assistant",
				Content:           answer.String(),
				CitationsJSON:     citationsJSON,
				CreatedAt:         time.Now().UTC(),
			}); err != nil {
				slog.Error("failed to save assistant message", "profile_id", profile.ID, "error", err)
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev chat.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

func toLLMMessages(messages []storage.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
