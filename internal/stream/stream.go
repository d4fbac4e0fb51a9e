// Package stream implements the assistant event pipeline: a multi-consumer
// event queue with a one-shot terminal result, the SSE wire parser, and
// best-effort parsing of truncated streaming JSON.
package stream

import (
	"context"
	"sync"

	"github.com/gq3171/piagent/internal/msg"
)

// EventType discriminates assistant stream events.
type EventType string

const (
	EventStart         EventType = "start"
	EventTextStart     EventType = "text_start"
	EventTextDelta     EventType = "text_delta"
	EventTextEnd       EventType = "text_end"
	EventThinkingStart EventType = "thinking_start"
	EventThinkingDelta EventType = "thinking_delta"
	EventThinkingEnd   EventType = "thinking_end"
	EventToolCallStart EventType = "toolcall_start"
	EventToolCallDelta EventType = "toolcall_delta"
	EventToolCallEnd   EventType = "toolcall_end"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is one assistant stream event. Detail events carry a snapshot of the
// partial assistant message built up to that point, so detached consumers can
// render without reconstructing state.
type Event struct {
	Type         EventType
	ContentIndex int
	Delta        string
	Content      string
	ToolCall     *msg.ToolCall
	Reason       msg.StopReason
	// Message is the sealed assistant message on Done, or the error-tagged
	// message on Error.
	Message *msg.AssistantMessage
	// Partial is the snapshot carried by non-terminal events.
	Partial *msg.AssistantMessage
}

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Stream is a multi-producer queue of assistant events with a one-shot result.
// All methods are safe for concurrent use; producers and consumers may share
// the same Stream value.
type Stream struct {
	mu         sync.Mutex
	queue      []Event
	done       bool
	signal     chan struct{}
	resultCh   chan *msg.AssistantMessage
	resultSent bool
}

// New creates an open stream.
func New() *Stream {
	return &Stream{
		signal:   make(chan struct{}),
		resultCh: make(chan *msg.AssistantMessage, 1),
	}
}

// Push enqueues an event and wakes all waiting consumers. The first terminal
// event seals the stream and resolves the result; pushes after closure are
// silently discarded.
func (s *Stream) Push(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	if event.Terminal() {
		s.done = true
		if !s.resultSent {
			s.resultSent = true
			s.resultCh <- event.Message
			close(s.resultCh)
		}
	}
	s.queue = append(s.queue, event)
	close(s.signal)
	s.signal = make(chan struct{})
}

// End seals the stream without pushing a terminal event. A nil result makes
// Result return (nil, false).
func (s *Stream) End(result *msg.AssistantMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	if !s.resultSent {
		s.resultSent = true
		if result != nil {
			s.resultCh <- result
		}
		close(s.resultCh)
	}
	close(s.signal)
	s.signal = make(chan struct{})
}

// Done reports whether the stream is sealed.
func (s *Stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Next blocks until an event is available, the stream is drained and sealed,
// or the context is cancelled. Returns false when no further events will come.
func (s *Stream) Next(ctx context.Context) (Event, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			event := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return event, true
		}
		if s.done {
			s.mu.Unlock()
			return Event{}, false
		}
		signal := s.signal
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, false
		case <-signal:
		}
	}
}

// Drain consumes and returns all remaining events until closure.
func (s *Stream) Drain(ctx context.Context) []Event {
	var events []Event
	for {
		event, ok := s.Next(ctx)
		if !ok {
			return events
		}
		events = append(events, event)
	}
}

// Result returns the final assistant message exactly once. Subsequent calls,
// and calls on a stream ended without a result, return (nil, false).
func (s *Stream) Result(ctx context.Context) (*msg.AssistantMessage, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case m, ok := <-s.resultCh:
		if !ok || m == nil {
			return nil, false
		}
		return m, true
	}
}
