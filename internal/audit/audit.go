package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// EventType names an auth flow outcome class. The set is closed: every
// event the engine emits carries one of the constants below.
type EventType string

const (
	EventRegister     EventType = "register"
	EventLogin        EventType = "login"
	EventRefresh      EventType = "refresh"
	EventRefreshReuse EventType = "refresh_reuse"
	EventLogout       EventType = "logout"
	EventLogoutAll    EventType = "logout_all"
)

// Event is one audit record. UserID and SessionID are empty on failed
// attempts so the log never ties a failure to a guessed identity.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"event_type"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel. Intended for
// tests and in-process consumers.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line. Safe for concurrent use.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
