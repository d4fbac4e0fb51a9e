package stream

import (
	"fmt"
	"strings"
)

// maxSSEBufferSize caps the parse buffer so a malformed stream that never
// sends a newline cannot grow memory without bound.
const maxSSEBufferSize = 4 * 1024 * 1024

// SSEEvent is one parsed server-sent event record.
type SSEEvent struct {
	EventType string
	Data      string
}

// SSEParser incrementally parses `event:`/`data:` records from a chunked byte
// stream. Chunks may split records (and even lines) at arbitrary byte
// boundaries; feeding the same serialized bytes in any chunking yields the
// same records.
type SSEParser struct {
	pending   string
	eventType string
	dataLines []string
}

// NewSSEParser creates an empty parser.
func NewSSEParser() *SSEParser {
	return &SSEParser{}
}

// Feed appends a chunk and returns any records completed by it.
// Returns an error (and resets all state) if the internal buffer would exceed
// the maximum size.
func (p *SSEParser) Feed(chunk string) ([]SSEEvent, error) {
	p.pending += chunk
	if len(p.pending) > maxSSEBufferSize {
		p.pending = ""
		p.eventType = ""
		p.dataLines = nil
		return nil, fmt.Errorf("sse buffer exceeded maximum size of %d bytes", maxSSEBufferSize)
	}

	var events []SSEEvent
	for {
		idx := strings.IndexByte(p.pending, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(p.pending[:idx], "\r")
		p.pending = p.pending[idx+1:]

		if line == "" {
			// Blank line terminates the record.
			if event, ok := p.flush(); ok {
				events = append(events, event)
			}
			continue
		}
		p.consumeLine(line)
	}
	return events, nil
}

// Finish flushes an unterminated trailing record, common at stream EOF where
// the final record is not followed by a blank line.
func (p *SSEParser) Finish() (SSEEvent, bool) {
	remaining := p.pending
	p.pending = ""
	for _, line := range strings.Split(remaining, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		p.consumeLine(line)
	}
	return p.flush()
}

func (p *SSEParser) consumeLine(line string) {
	switch {
	case strings.HasPrefix(line, ":"):
		// Comment.
	case strings.HasPrefix(line, "event:"):
		p.eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		p.dataLines = append(p.dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
	case strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
		// Recognized but unused.
	}
}

func (p *SSEParser) flush() (SSEEvent, bool) {
	if len(p.dataLines) == 0 && p.eventType == "" {
		return SSEEvent{}, false
	}
	eventType := p.eventType
	if eventType == "" {
		eventType = "message"
	}
	event := SSEEvent{
		EventType: eventType,
		Data:      strings.Join(p.dataLines, "\n"),
	}
	p.eventType = ""
	p.dataLines = nil
	return event, true
}
