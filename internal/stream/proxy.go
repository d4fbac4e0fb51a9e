package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"go.uber.org/zap"

	"github.com/gq3171/piagent/internal/msg"
)

// proxyEvent is the wire shape of a proxied assistant event. Delta events omit
// the partial snapshot to save bandwidth; the receiver rebuilds it locally.
type proxyEvent struct {
	Type             string         `json:"type"`
	ContentIndex     int            `json:"contentIndex"`
	Delta            string         `json:"delta"`
	ContentSignature string         `json:"contentSignature"`
	ID               string         `json:"id"`
	ToolName         string         `json:"toolName"`
	Reason           msg.StopReason `json:"reason"`
	ErrorMessage     string         `json:"errorMessage"`
	Usage            *msg.Usage     `json:"usage"`
}

// ConsumeProxyStream reads `data: <json>` lines from a proxied event stream,
// reconstructs the partial assistant message, and pushes full events onto the
// returned stream. The read loop stops on context cancellation, terminal
// event, or EOF.
func ConsumeProxyStream(ctx context.Context, r io.Reader, model msg.Model, logger *zap.Logger) *Stream {
	s := New()
	go func() {
		partial := msg.EmptyAssistant(model)
		partialJSON := make(map[int]string)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSEBufferSize)

		for scanner.Scan() {
			if ctx.Err() != nil {
				s.End(nil)
				return
			}
			line := scanner.Text()
			data, ok := cutPrefix(line, "data: ")
			if !ok || data == "" {
				continue
			}

			var pe proxyEvent
			if err := json.Unmarshal([]byte(data), &pe); err != nil {
				logger.Warn("skipping unparseable proxy event", zap.Error(err))
				continue
			}
			event, ok := applyProxyEvent(pe, partial, partialJSON)
			if !ok {
				continue
			}
			s.Push(event)
			if event.Terminal() {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			partial.StopReason = msg.StopReasonError
			partial.ErrorMessage = "proxy stream read error: " + err.Error()
			s.Push(Event{Type: EventError, Reason: msg.StopReasonError, Message: partial.Clone()})
			return
		}
		s.End(nil)
	}()
	return s
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}

// ensureBlocks pads partial.Content with empty text blocks up to index.
func ensureBlocks(partial *msg.AssistantMessage, index int) {
	for len(partial.Content) <= index {
		partial.Content = append(partial.Content, msg.TextContent{})
	}
}

// blockAt returns the block at index as T, when in range and of that type.
func blockAt[T msg.ContentBlock](partial *msg.AssistantMessage, index int) (T, bool) {
	var zero T
	if index < 0 || index >= len(partial.Content) {
		return zero, false
	}
	t, ok := partial.Content[index].(T)
	if !ok {
		return zero, false
	}
	return t, true
}

func applyProxyEvent(pe proxyEvent, partial *msg.AssistantMessage, partialJSON map[int]string) (Event, bool) {
	switch pe.Type {
	case "start":
		return Event{Type: EventStart, Partial: partial.Clone()}, true

	case "text_start":
		ensureBlocks(partial, pe.ContentIndex)
		partial.Content[pe.ContentIndex] = msg.TextContent{}
		return Event{Type: EventTextStart, ContentIndex: pe.ContentIndex, Partial: partial.Clone()}, true

	case "text_delta":
		if t, ok := blockAt[msg.TextContent](partial, pe.ContentIndex); ok {
			t.Text += pe.Delta
			partial.Content[pe.ContentIndex] = t
		}
		return Event{Type: EventTextDelta, ContentIndex: pe.ContentIndex, Delta: pe.Delta, Partial: partial.Clone()}, true

	case "text_end":
		var content string
		if t, ok := blockAt[msg.TextContent](partial, pe.ContentIndex); ok {
			t.TextSignature = pe.ContentSignature
			partial.Content[pe.ContentIndex] = t
			content = t.Text
		}
		return Event{Type: EventTextEnd, ContentIndex: pe.ContentIndex, Content: content, Partial: partial.Clone()}, true

	case "thinking_start":
		ensureBlocks(partial, pe.ContentIndex)
		partial.Content[pe.ContentIndex] = msg.ThinkingContent{}
		return Event{Type: EventThinkingStart, ContentIndex: pe.ContentIndex, Partial: partial.Clone()}, true

	case "thinking_delta":
		if t, ok := blockAt[msg.ThinkingContent](partial, pe.ContentIndex); ok {
			t.Thinking += pe.Delta
			partial.Content[pe.ContentIndex] = t
		}
		return Event{Type: EventThinkingDelta, ContentIndex: pe.ContentIndex, Delta: pe.Delta, Partial: partial.Clone()}, true

	case "thinking_end":
		var content string
		if t, ok := blockAt[msg.ThinkingContent](partial, pe.ContentIndex); ok {
			t.ThinkingSignature = pe.ContentSignature
			partial.Content[pe.ContentIndex] = t
			content = t.Thinking
		}
		return Event{Type: EventThinkingEnd, ContentIndex: pe.ContentIndex, Content: content, Partial: partial.Clone()}, true

	case "toolcall_start":
		ensureBlocks(partial, pe.ContentIndex)
		partial.Content[pe.ContentIndex] = msg.ToolCall{
			ID:        pe.ID,
			Name:      pe.ToolName,
			Arguments: map[string]any{},
		}
		partialJSON[pe.ContentIndex] = ""
		return Event{Type: EventToolCallStart, ContentIndex: pe.ContentIndex, Partial: partial.Clone()}, true

	case "toolcall_delta":
		if acc, ok := partialJSON[pe.ContentIndex]; ok {
			acc += pe.Delta
			partialJSON[pe.ContentIndex] = acc
			if tc, ok := blockAt[msg.ToolCall](partial, pe.ContentIndex); ok {
				tc.Arguments = ParseStreamingJSON(acc)
				partial.Content[pe.ContentIndex] = tc
			}
		}
		return Event{Type: EventToolCallDelta, ContentIndex: pe.ContentIndex, Delta: pe.Delta, Partial: partial.Clone()}, true

	case "toolcall_end":
		delete(partialJSON, pe.ContentIndex)
		tc, ok := blockAt[msg.ToolCall](partial, pe.ContentIndex)
		if !ok {
			return Event{}, false
		}
		return Event{Type: EventToolCallEnd, ContentIndex: pe.ContentIndex, ToolCall: &tc, Partial: partial.Clone()}, true

	case "done":
		partial.StopReason = pe.Reason
		if pe.Usage != nil {
			partial.Usage = *pe.Usage
		}
		return Event{Type: EventDone, Reason: pe.Reason, Message: partial.Clone()}, true

	case "error":
		partial.StopReason = pe.Reason
		partial.ErrorMessage = pe.ErrorMessage
		if pe.Usage != nil {
			partial.Usage = *pe.Usage
		}
		return Event{Type: EventError, Reason: pe.Reason, Message: partial.Clone()}, true

	default:
		return Event{}, false
	}
}
