package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"industrychat/internal/chat"
	"industrychat/internal/retrieval"
	"industrychat/internal/storage"
)

func parseSSE(t *testing.T, body string) []chat.Event {
	t.Helper()
	var events []chat.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var ev chat.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("decoding event %q: %v", payload, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestChatStreamsEvents(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProfile(t)
	env.retriever.chunks = []retrieval.ScoredChunk{
		{Chunk: retrieval.Chunk{SourceName: "handbook.pdf", Content: "Rules."}, Score: 0.9},
	}
	env.responder.events = []chat.Event{
		{Type: chat.EventContent, Content: "Per "},
		{Type: chat.EventContent, Content: "handbook.pdf, yes."},
		{Type: chat.EventCitations, Citations: []chat.Citation{{Source: "handbook.pdf", Excerpt: "Rules."}}},
		{Type: chat.EventDone},
	}

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/chat", map[string]any{
		"profile_id": p.ID,
		"message":    "is it allowed?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) != 4 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Type != chat.EventContent || events[3].Type != chat.EventDone {
		t.Errorf("events = %+v", events)
	}
	if events[2].Citations[0].Source != "handbook.pdf" {
		t.Errorf("citations event = %+v", events[2])
	}

	if env.retriever.gotQuery != "is it allowed?" {
		t.Errorf("retriever query = %q", env.retriever.gotQuery)
	}
	if len(env.responder.gotReq.Chunks) != 1 {
		t.Errorf("responder chunks = %+v", env.responder.gotReq.Chunks)
	}
	if !strings.Contains(env.responder.gotReq.Instructions, "handbook.pdf") {
		t.Errorf("instructions missing context: %q", env.responder.gotReq.Instructions)
	}
}

func TestChatPersistsTurn(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProfile(t)
	env.responder.events = []chat.Event{
		{Type: chat.EventContent, Content: "The answer."},
		{Type: chat.EventCitations, Citations: []chat.Citation{{Source: "doc"}}},
		{Type: chat.EventDone},
	}

	doJSON(t, env.handler, http.MethodPost, "/v1/chat", map[string]any{
		"profile_id": p.ID,
		"message":    "question",
	})

	messages, err := env.deps.Store.ListMessages(p.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want user+assistant", len(messages))
	}
	if messages[0].Role != "user" || messages[0].Content != "question" {
		t.Errorf("messages[0] = %+v", messages[0])
	}
	if messages[1].Role != "assistant" || messages[1].Content != "The answer." {
		t.Errorf("messages[1] = %+v", messages[1])
	}
	if !strings.Contains(messages[1].CitationsJSON, "doc") {
		t.Errorf("citations = %q", messages[1].CitationsJSON)
	}
}

func TestChatFailedStreamNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProfile(t)
	env.responder.events = []chat.Event{
		{Type: chat.EventContent, Content: "partial"},
		{Type: chat.EventError, Message: "answer generation failed"},
	}

	doJSON(t, env.handler, http.MethodPost, "/v1/chat", map[string]any{
		"profile_id": p.ID,
		"message":    "question",
	})

	messages, err := env.deps.Store.ListMessages(p.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	// Only the user turn survives a failed stream.
	if len(messages) != 1 || messages[0].Role != "user" {
		t.Errorf("messages = %+v", messages)
	}
}

func TestChatRetrievalDisabled(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProfile(t)
	env.retriever.err = errors.New("should not be called")
	env.responder.events = []chat.Event{{Type: chat.EventDone}}

	off := false
	rec := doJSON(t, env.handler, http.MethodPost, "/v1/chat", map[string]any{
		"profile_id": p.ID,
		"message":    "hi",
		"retrieval":  off,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	instructions := env.responder.gotReq.Instructions
	if !strings.HasPrefix(instructions, p.SystemPrompt) {
		t.Errorf("instructions do not start with profile prompt: %q", instructions)
	}
	if !strings.Contains(instructions, "do not cite documents") {
		t.Errorf("instructions missing general-knowledge suffix: %q", instructions)
	}
	if strings.Contains(instructions, "[Retrieved Context]") {
		t.Errorf("instructions carry a context block with retrieval off: %q", instructions)
	}
}

func TestChatRetrievalFailure(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProfile(t)
	env.retriever.err = errors.New("embeddings down")

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/chat", map[string]any{
		"profile_id": p.ID,
		"message":    "hi",
	})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}

	messages, _ := env.deps.Store.ListMessages(p.ID, 0)
	if len(messages) != 0 {
		t.Errorf("messages persisted despite failed retrieval: %+v", messages)
	}
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProfile(t)

	cases := []map[string]any{
		{"message": "hi"},
		{"profile_id": p.ID},
		{"profile_id": p.ID, "message": "  "},
	}
	for i, body := range cases {
		rec := doJSON(t, env.handler, http.MethodPost, "/v1/chat", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("case %d: status = %d, want 400", i, rec.Code)
		}
	}

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/chat", map[string]any{
		"profile_id": "missing", "message": "hi",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown profile status = %d, want 404", rec.Code)
	}
}

// hookResponder runs a callback before replaying its events, so tests can
// change state between the start of the stream and its completion.
type hookResponder struct {
	events []chat.Event
	before func()
}

func (h *hookResponder) Respond(ctx context.Context, req chat.Request) <-chan chat.Event {
	ch := make(chan chat.Event)
	go func() {
		defer close(ch)
		h.before()
		for _, ev := range h.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func TestChatAssistantSaveFailureLoggedNotFatal(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProfile(t)

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	// Deleting the profile mid-stream cascades its messages away, so the
	// assistant insert hits a foreign key failure after a completed stream.
	env.deps.Responder = &hookResponder{
		events: []chat.Event{
			{Type: chat.EventContent, Content: "The answer."},
			{Type: chat.EventDone},
		},
		before: func() {
			if err := env.deps.Store.DeleteProfile(p.ID); err != nil {
				t.Errorf("deleting profile: %v", err)
			}
		},
	}
	handler := NewHandler(env.deps)

	rec := doJSON(t, handler, http.MethodPost, "/v1/chat", map[string]any{
		"profile_id": p.ID,
		"message":    "question",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) == 0 || events[len(events)-1].Type != chat.EventDone {
		t.Fatalf("stream did not complete cleanly: %+v", events)
	}
	if !strings.Contains(logs.String(), "assistant message") {
		t.Errorf("save failure not logged: %q", logs.String())
	}
}

func TestChatHistoryPassedToResponder(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProfile(t)
	env.responder.events = []chat.Event{{Type: chat.EventDone}}

	seed := []storage.Message{
		{Role: "user", Content: "old question"},
		{Role: "assistant", Content: "old answer"},
	}
	for i, m := range seed {
		m.ID = p.ID + "-m" + string(rune('0'+i))
		m.IndustryProfileID = p.ID
		m.CreatedAt = p.CreatedAt
		if err := env.deps.Store.SaveMessage(m); err != nil {
			t.Fatalf("seeding message: %v", err)
		}
	}

	doJSON(t, env.handler, http.MethodPost, "/v1/chat", map[string]any{
		"profile_id": p.ID,
		"message":    "new question",
	})

	// History covers prior turns only; the current message travels separately.
	history := env.responder.gotReq.History
	if len(history) != 2 {
		t.Fatalf("history has %d turns, want 2", len(history))
	}
	if history[0].Content != "old question" || history[1].Content != "old answer" {
		t.Errorf("history = %+v", history)
	}
}
