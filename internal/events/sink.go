package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type Type string

const (
	TypeToolCall            Type = "tool_call"
	TypeConversationSummary Type = "conversation_summary"
	TypeCallStarted         Type = "call_started"
	TypeCallEnded           Type = "call_ended"
)

// Event is the structured side-channel payload published to frontends.
type Event struct {
	Type          Type            `json:"type"`
	CallID        string          `json:"call_id,omitempty"`
	Tool          string          `json:"tool,omitempty"`
	Args          json.RawMessage `json:"args,omitempty"`
	Summary       string          `json:"summary,omitempty"`
	Appointments  []string        `json:"appointments,omitempty"`
	ContactNumber string          `json:"contact_number,omitempty"`
	At            time.Time       `json:"at"`
}

// Sink receives structured events. Publishing is fire-and-forget from the
// caller's perspective: errors are reported so they can be logged and
// counted, never propagated into tool results.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// Capture is a Sink that records events for inspection in tests.
type Capture struct {
	mu     sync.Mutex
	events []Event

	// Err, when set, is returned from every Publish.
	Err error
}

func NewCapture() *Capture { return &Capture{} }

func (c *Capture) Publish(_ context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.events = append(c.events, evt)
	return nil
}

func (c *Capture) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *Capture) ByType(t Type) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, evt := range c.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}
