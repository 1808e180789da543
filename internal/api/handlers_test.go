package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"industrychat/internal/chat"
	"industrychat/internal/composer"
	"industrychat/internal/extract"
	"industrychat/internal/ingest"
	"industrychat/internal/retrieval"
	"industrychat/internal/storage"
)

// --- fakes ---

type fakeIngestor struct {
	n       int
	err     error
	calls   int
	gotSrc  extract.Source
	gotMeta ingest.SourceMeta
}

func (f *fakeIngestor) Ingest(ctx context.Context, src extract.Source, meta ingest.SourceMeta) (int, error) {
	f.calls++
	f.gotSrc = src
	f.gotMeta = meta
	if f.err != nil {
		return 0, f.err
	}
	return f.n, nil
}

type fakeRetriever struct {
	chunks   []retrieval.ScoredChunk
	err      error
	gotQuery string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, profile storage.IndustryProfile) ([]retrieval.ScoredChunk, error) {
	f.gotQuery = query
	return f.chunks, f.err
}

// fakeResponder replays a fixed event sequence.
type fakeResponder struct {
	events []chat.Event
	gotReq chat.Request
}

func (f *fakeResponder) Respond(ctx context.Context, req chat.Request) <-chan chat.Event {
	f.gotReq = req
	ch := make(chan chat.Event)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// --- helpers ---

type testEnv struct {
	deps      Deps
	handler   http.Handler
	ingestor  *fakeIngestor
	retriever *fakeRetriever
	responder *fakeResponder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		ingestor:  &fakeIngestor{n: 3},
		retriever: &fakeRetriever{},
		responder: &fakeResponder{},
	}
	env.deps = Deps{
		Store:     store,
		Ingestor:  env.ingestor,
		Retriever: env.retriever,
		Composer:  composer.New(0),
		Responder: env.responder,
		Chunks:    retrieval.NewSQLiteStore(store.DB()),
	}
	env.handler = NewHandler(env.deps)
	return env
}

func (e *testEnv) seedProfile(t *testing.T) storage.IndustryProfile {
	t.Helper()
	p := storage.IndustryProfile{
		ID:           uuid.NewString(),
		Name:         "Logistics",
		SystemPrompt: "You advise on logistics.",
		Temperature:  0.7,
		TopK:         5,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.deps.Store.SaveProfile(p); err != nil {
		t.Fatalf("seeding profile: %v", err)
	}
	return p
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

// --- tests ---

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateProfile(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/profiles", map[string]any{
		"name":          "Legal",
		"system_prompt": "You are a legal assistant.",
		"temperature":   0.3,
		"top_k":         8,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	p := decodeBody[storage.IndustryProfile](t, rec)
	if p.ID == "" || p.Name != "Legal" || p.Temperature != 0.3 || p.TopK != 8 {
		t.Errorf("profile = %+v", p)
	}

	got, err := env.deps.Store.GetProfile(p.ID)
	if err != nil {
		t.Fatalf("profile not persisted: %v", err)
	}
	if got.Name != "Legal" {
		t.Errorf("persisted name = %q", got.Name)
	}
}

func TestCreateProfileDefaults(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/profiles", map[string]any{"name": "Retail"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	p := decodeBody[storage.IndustryProfile](t, rec)
	if p.Temperature != 0.7 || p.TopK != 5 {
		t.Errorf("defaults = %f/%d, want 0.7/5", p.Temperature, p.TopK)
	}
}

func TestCreateProfileValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []map[string]any{
		{},
		{"name": "   "},
		{"name": "x", "temperature": 2.5},
		{"name": "x", "temperature": -0.1},
		{"name": "x", "top_k": 0},
		{"name": "x", "top_k": 21},
	}
	for i, body := range cases {
		rec := doJSON(t, env.handler, http.MethodPost, "/v1/profiles", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("case %d: status = %d, want 400", i, rec.Code)
		}
	}
}

func TestGetAndListProfiles(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProfile(t)

	rec := doJSON(t, env.handler, http.MethodGet, "/v1/profiles/"+p.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doJSON(t, env.handler, http.MethodGet, "/v1/profiles", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decodeBody[[]storage.IndustryProfile](t, rec)
	if len(list) != 1 || list[0].ID != p.ID {
		t.Errorf("list = %+v", list)
	}

	rec = doJSON(t, env.handler, http.MethodGet, "/v1/profiles/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing profile status = %d, want 404", rec.Code)
	}
}

func TestListProfilesEmpty(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.handler, http.MethodGet, "/v1/profiles", nil)
	if rec.Body.String() != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", rec.Body.String())
	}
}

func TestPatchProfile(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProfile(t)

	rec := doJSON(t, env.handler, http.MethodPatch, "/v1/profiles/"+p.ID, map[string]any{
		"system_prompt": "Updated prompt.",
		"top_k":         3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	got, err := env.deps.Store.GetProfile(p.ID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.SystemPrompt != "Updated prompt." || got.TopK != 3 {
		t.Errorf("profile = %+v", got)
	}
	if got.Name != p.Name {
		t.Errorf("name changed to %q", got.Name)
	}

	rec = doJSON(t, env.handler, http.MethodPatch, "/v1/profiles/"+p.ID, map[string]any{"top_k": 99})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid patch status = %d, want 400", rec.Code)
	}
}

func TestDeleteProfile(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProfile(t)

	rec := doJSON(t, env.handler, http.MethodDelete, "/v1/profiles/"+p.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, err := env.deps.Store.GetProfile(p.ID); err == nil {
		t.Error("profile still present after delete")
	}

	rec = doJSON(t, env.handler, http.MethodDelete, "/v1/profiles/"+p.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Token = "s3cret"
	handler := NewHandler(env.deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/profiles", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/profiles", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/profiles", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", rec.Code)
	}

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestErrorEnvelope(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.handler, http.MethodGet, "/v1/profiles/missing", nil)
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if envelope.Error.Type != "not_found" || envelope.Error.Message == "" {
		t.Errorf("envelope = %+v", envelope)
	}
}
