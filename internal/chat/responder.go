package chat

import (
	"context"
	"log/slog"

	"industrychat/internal/llm"
	"industrychat/internal/retrieval"
	"industrychat/internal/storage"
)

// EventType labels one server-sent event in a response stream.
type EventType string

const (
	EventContent   EventType = "content"
	EventCitations EventType = "citations"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one item of a response stream. Content carries a text delta on
// content events; Citations is set only on citations events; Message holds
// the error text on error events.
type Event struct {
	Type      EventType  `json:"type"`
	Content   string     `json:"content,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// streamState tracks a response's lifecycle. A stream moves from idle to
// streaming and ends in exactly one terminal state.
type streamState int

const (
	stateIdle streamState = iota
	stateStreaming
	stateCompleted
	stateAborted
	stateFailed
)

func (s streamState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateStreaming:
		return "streaming"
	case stateCompleted:
		return "completed"
	case stateAborted:
		return "aborted"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// StreamClient produces a model answer as a stream of deltas. Satisfied by
// llm.Client.
type StreamClient interface {
	StreamChat(ctx context.Context, opts llm.ChatOptions, messages []llm.Message, onDelta func(delta string) error) (string, error)
}

// Request carries everything needed to answer one chat turn.
type Request struct {
	Profile      storage.IndustryProfile
	Instructions string // composed system prompt
	History      []llm.Message
	Message      string
	Chunks       []retrieval.ScoredChunk
}

// Responder streams model answers as event sequences.
type Responder struct {
	client StreamClient
	model  string
}

func NewResponder(client StreamClient, model string) *Responder {
	return &Responder{client: client, model: model}
}

// Respond streams the answer to req. The returned channel yields zero or
// more content events, then on success an optional citations event followed
// by exactly one done event; on failure a single error event ends the
// stream instead. Cancelling ctx closes the channel with no terminal event.
// The channel is always closed.
//
// The done event carries no text. Callers that persist the answer should
// accumulate content deltas themselves.
func (r *Responder) Respond(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		state := stateStreaming
		log := slog.With("profile_id", req.Profile.ID, "model", r.model)
		log.Debug("response stream started", "state", state.String())

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		messages := make([]llm.Message, 0, len(req.History)+2)
		messages = append(messages, llm.Message{Role: "system", Content: req.Instructions})
		messages = append(messages, req.History...)
		messages = append(messages, llm.Message{Role: "user", Content: req.Message})

		opts := llm.ChatOptions{Model: r.model, Temperature: req.Profile.Temperature}
		answer, err := r.client.StreamChat(ctx, opts, messages, func(delta string) error {
			if !send(Event{Type: EventContent, Content: delta}) {
				return context.Canceled
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				state = stateAborted
				log.Debug("response stream aborted", "state", state.String())
				return
			}
			state = stateFailed
			log.Error("response stream failed", "state", state.String(), "error", err)
			send(Event{Type: EventError, Message: "answer generation failed"})
			return
		}

		if citations := ExtractCitations(answer, req.Chunks); len(citations) > 0 {
			if !send(Event{Type: EventCitations, Citations: citations}) {
				return
			}
		}
		if !send(Event{Type: EventDone}) {
			return
		}
		state = stateCompleted
		log.Debug("response stream completed", "state", state.String(), "answer_len", len(answer))
	}()

	return events
}
