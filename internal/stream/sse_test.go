package stream

import (
	"strings"
	"testing"
)

func feed(t *testing.T, p *SSEParser, chunk string) []SSEEvent {
	t.Helper()
	events, err := p.Feed(chunk)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	return events
}

func TestSSESingleEvent(t *testing.T) {
	p := NewSSEParser()
	events := feed(t, p, "event: message_start\ndata: {\"type\": \"message_start\"}\n\n")
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].EventType != "message_start" || events[0].Data != `{"type": "message_start"}` {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestSSEChunkedAtArbitraryBoundary(t *testing.T) {
	p := NewSSEParser()
	events := feed(t, p, "event: a\ndata: 1\n\nev")
	if len(events) != 1 || events[0].EventType != "a" || events[0].Data != "1" {
		t.Fatalf("first chunk events = %+v", events)
	}
	events = feed(t, p, "ent: b\ndata: 2\n\n")
	if len(events) != 1 || events[0].EventType != "b" || events[0].Data != "2" {
		t.Fatalf("second chunk events = %+v", events)
	}
}

func TestSSEByteByByte(t *testing.T) {
	input := "event: t\ndata: hello\ndata: world\n\n: comment\nid: 7\nretry: 100\ndata: solo\n\n"
	p := NewSSEParser()
	var all []SSEEvent
	for i := 0; i < len(input); i++ {
		all = append(all, feed(t, p, input[i:i+1])...)
	}
	if len(all) != 2 {
		t.Fatalf("got %d events", len(all))
	}
	if all[0].EventType != "t" || all[0].Data != "hello\nworld" {
		t.Fatalf("first = %+v", all[0])
	}
	if all[1].EventType != "message" || all[1].Data != "solo" {
		t.Fatalf("second = %+v", all[1])
	}
}

func TestSSECRLFTerminators(t *testing.T) {
	p := NewSSEParser()
	events := feed(t, p, "event: x\r\ndata: y\r\n\r\n")
	if len(events) != 1 || events[0].EventType != "x" || events[0].Data != "y" {
		t.Fatalf("events = %+v", events)
	}
}

func TestSSEDefaultEventName(t *testing.T) {
	p := NewSSEParser()
	events := feed(t, p, "data: hello world\n\n")
	if len(events) != 1 || events[0].EventType != "message" {
		t.Fatalf("events = %+v", events)
	}
}

func TestSSEFinishFlushesTrailingRecord(t *testing.T) {
	p := NewSSEParser()
	if events := feed(t, p, "event: done\ndata: final"); len(events) != 0 {
		t.Fatalf("unterminated record should not flush: %+v", events)
	}
	event, ok := p.Finish()
	if !ok || event.EventType != "done" || event.Data != "final" {
		t.Fatalf("finish = %+v %v", event, ok)
	}
	if _, ok := p.Finish(); ok {
		t.Fatal("second finish should be empty")
	}
}

func TestSSEBufferOverflow(t *testing.T) {
	p := NewSSEParser()
	huge := strings.Repeat("x", maxSSEBufferSize+1)
	if _, err := p.Feed(huge); err == nil {
		t.Fatal("expected overflow error")
	}
	// State is cleared; parser keeps working.
	events := feed(t, p, "event: ok\ndata: 1\n\n")
	if len(events) != 1 || events[0].EventType != "ok" {
		t.Fatalf("events after reset = %+v", events)
	}
}
