package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// IndustryProfile configures one retrieval-augmented chat vertical: the
// system prompt sent to the model, the sampling temperature, and how many
// chunks are retrieved per query.
type IndustryProfile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	SystemPrompt string    `json:"system_prompt"`
	Temperature  float64   `json:"temperature"` // 0–2
	TopK         int       `json:"top_k"`       // 1–20
	CreatedAt    time.Time `json:"created_at"`
}

// DataSource is one ingested document owned by a profile. Type is one of
// "file", "url", "text". Content holds pasted text (and, for url sources,
// stays empty: the payload is re-fetched on re-ingest). MIME is set for file
// sources so re-ingestion extracts with the type the upload declared.
type DataSource struct {
	ID                string    `json:"id"`
	IndustryProfileID string    `json:"industry_profile_id"`
	Name              string    `json:"name"`
	Type              string    `json:"type"`
	MIME              string    `json:"mime,omitempty"`
	Content           string    `json:"content,omitempty"`
	URL               string    `json:"url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Message is one persisted conversation turn. CitationsJSON is a JSON array
// of citation records, "[]" when the turn cited nothing.
type Message struct {
	ID                string    `json:"id"`
	IndustryProfileID string    `json:"industry_profile_id"`
	Role              string    `json:"role"` // "user" or "assistant"
	Content           string    `json:"content"`
	CitationsJSON     string    `json:"citations,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
