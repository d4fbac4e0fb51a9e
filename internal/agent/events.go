// Package agent orchestrates the turn loop: assistant streaming, concurrent
// tool dispatch through the extension runner, compaction, retry, and
// append-only session persistence, behind the AgentSession facade.
package agent

import (
	"github.com/gq3171/piagent/internal/msg"
	"github.com/gq3171/piagent/internal/stream"
	"github.com/gq3171/piagent/internal/tools"
)

// EventKind discriminates agent events.
type EventKind string

const (
	EventTurnStart           EventKind = "turn_start"
	EventTurnEnd             EventKind = "turn_end"
	EventMessageStart        EventKind = "message_start"
	EventMessageUpdate       EventKind = "message_update"
	EventMessageEnd          EventKind = "message_end"
	EventToolExecutionStart  EventKind = "tool_execution_start"
	EventToolExecutionUpdate EventKind = "tool_execution_update"
	EventToolExecutionEnd    EventKind = "tool_execution_end"
	EventCompacted           EventKind = "compacted"
	EventRetryStart          EventKind = "retry_start"
	EventRetryEnd            EventKind = "retry_end"
	EventSessionStart        EventKind = "session_start"
	EventModelChanged        EventKind = "model_changed"
	EventForked              EventKind = "forked"
	EventError               EventKind = "error"
)

// Event is one agent-level notification. Stream events are forwarded
// verbatim in StreamEvent on message_update.
type Event struct {
	Kind EventKind

	// message_* events
	Message     msg.Message
	StreamEvent *stream.Event

	// tool_execution_* events
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]any
	ToolResult *tools.Result
	IsError    bool

	// compacted
	MessagesBefore int
	MessagesAfter  int
	TokensBefore   int64

	// retry_*
	Attempt     int
	MaxAttempts int
	DelayMs     int64
	Success     bool

	// session_start / forked
	SessionID string
	IsNew     bool

	// model_changed
	Model *msg.Model

	// error / retry_start
	ErrorMessage string
}

// Listener receives agent events. Listeners are called from the turn
// goroutine and, for tool_execution_* events, from the concurrent per-call
// dispatch goroutines; they must not block.
type Listener func(Event)
