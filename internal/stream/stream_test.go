package stream

import (
	"context"
	"testing"
	"time"

	"github.com/gq3171/piagent/internal/msg"
)

func testAssistant(text string) *msg.AssistantMessage {
	return &msg.AssistantMessage{
		Content:    []msg.ContentBlock{msg.TextContent{Text: text}},
		API:        "test",
		Provider:   "test",
		ModelID:    "test",
		StopReason: msg.StopReasonStop,
	}
}

func TestPushAndConsume(t *testing.T) {
	s := New()
	done := testAssistant("hello")

	go func() {
		s.Push(Event{Type: EventStart, Partial: done.Clone()})
		s.Push(Event{Type: EventTextDelta, Delta: "he", Partial: done.Clone()})
		s.Push(Event{Type: EventTextEnd, Content: "hello", Partial: done.Clone()})
		s.Push(Event{Type: EventDone, Reason: msg.StopReasonStop, Message: done})
	}()

	events := s.Drain(context.Background())
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[3].Type != EventDone {
		t.Fatalf("last event = %s", events[3].Type)
	}
}

func TestPushAfterDoneIgnored(t *testing.T) {
	s := New()
	s.Push(Event{Type: EventDone, Reason: msg.StopReasonStop, Message: testAssistant("x")})
	s.Push(Event{Type: EventStart})
	s.Push(Event{Type: EventTextDelta, Delta: "late"})

	events := s.Drain(context.Background())
	if len(events) != 1 {
		t.Fatalf("got %d events after terminal, want 1", len(events))
	}
}

func TestResultIdempotence(t *testing.T) {
	s := New()
	s.Push(Event{Type: EventDone, Reason: msg.StopReasonStop, Message: testAssistant("x")})

	ctx := context.Background()
	m, ok := s.Result(ctx)
	if !ok || m == nil {
		t.Fatal("first Result should return the message")
	}
	if _, ok := s.Result(ctx); ok {
		t.Fatal("second Result should return nothing")
	}
}

func TestEndWithoutResult(t *testing.T) {
	s := New()
	s.Push(Event{Type: EventStart})
	s.End(nil)

	if _, ok := s.Result(context.Background()); ok {
		t.Fatal("Result after End(nil) should return nothing")
	}
	events := s.Drain(context.Background())
	if len(events) != 1 {
		t.Fatalf("got %d events, want the pre-End Start only", len(events))
	}
}

func TestEndWithResult(t *testing.T) {
	s := New()
	s.Push(Event{Type: EventStart})
	s.End(testAssistant("final"))

	m, ok := s.Result(context.Background())
	if !ok || m.TextBlock() != "final" {
		t.Fatalf("got %v %v", m, ok)
	}
}

func TestNextBlocksUntilPush(t *testing.T) {
	s := New()
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Push(Event{Type: EventStart})
		s.End(nil)
	}()
	event, ok := s.Next(context.Background())
	if !ok || event.Type != EventStart {
		t.Fatalf("got %v %v", event, ok)
	}
	if _, ok := s.Next(context.Background()); ok {
		t.Fatal("stream should be drained")
	}
}

func TestNextHonorsContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := s.Next(ctx); ok {
		t.Fatal("Next should give up on context cancellation")
	}
}

func TestErrorIsTerminal(t *testing.T) {
	s := New()
	errMsg := testAssistant("")
	errMsg.StopReason = msg.StopReasonError
	errMsg.ErrorMessage = "boom"
	s.Push(Event{Type: EventError, Reason: msg.StopReasonError, Message: errMsg})
	s.Push(Event{Type: EventDone, Reason: msg.StopReasonStop, Message: testAssistant("late")})

	events := s.Drain(context.Background())
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v", events)
	}
	m, ok := s.Result(context.Background())
	if !ok || m.ErrorMessage != "boom" {
		t.Fatalf("result = %+v %v", m, ok)
	}
}
