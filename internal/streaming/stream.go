// Package streaming carries ordered status-update events from the control loop
// to callers: a bounded per-request Stream for the wire, and a pub/sub Hub for
// side observers of a context.
package streaming

import (
	"context"
	"sync"

	"github.com/maestro-ai/maestro/pkg/schema"
)

const defaultStreamBuffer = 16

// Sink receives status-update events produced by the control loop.
type Sink interface {
	Emit(ctx context.Context, event schema.StatusUpdateEvent) error
}

// Stream is the event channel for one logical request. The producer pushes,
// the transport drains; when the buffer is full Emit blocks rather than drops,
// so delivery order always matches production order. Exactly one event with
// Final=true terminates the stream.
type Stream struct {
	ch        chan schema.StatusUpdateEvent
	closeOnce sync.Once

	mu        sync.Mutex
	finalSent bool
	closed    bool
}

// NewStream creates a stream with the given buffer size (default 16).
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	return &Stream{ch: make(chan schema.StatusUpdateEvent, buffer)}
}

// Emit pushes one event, blocking until the transport drains it or ctx is
// cancelled. The event carrying Final=true closes the stream; any emit after
// that fails.
func (s *Stream) Emit(ctx context.Context, event schema.StatusUpdateEvent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "stream is closed")
	}
	if s.finalSent {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "final event already emitted")
	}
	if event.Final {
		s.finalSent = true
	}
	s.mu.Unlock()

	select {
	case s.ch <- event:
	case <-ctx.Done():
		return ctx.Err()
	}

	if event.Final {
		s.close()
	}
	return nil
}

// Events returns the receive side. The channel closes after the final event
// or when the stream is abandoned via Close.
func (s *Stream) Events() <-chan schema.StatusUpdateEvent {
	return s.ch
}

// Close abandons the stream without a final event (caller went away).
// Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.close()
}

func (s *Stream) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Discard is a Sink that drops every event, for non-streaming entry points.
type Discard struct{}

func (Discard) Emit(ctx context.Context, event schema.StatusUpdateEvent) error { return nil }
