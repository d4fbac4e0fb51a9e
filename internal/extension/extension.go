// Package extension hosts user-supplied extensions: components that provide
// tools, observe context events, and intercept tool calls before and after
// execution.
package extension

import (
	"context"

	"github.com/gq3171/piagent/internal/tools"
)

// ToolDefinition describes a tool provided by an extension. Names must be
// unique across the whole session.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Context is what an extension learns about its host at registration.
type Context struct {
	WorkingDir string         `json:"workingDir"`
	SessionID  string         `json:"sessionId,omitempty"`
	ModelID    string         `json:"modelId,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// EventKind discriminates context events.
type EventKind string

const (
	EventTurnStart          EventKind = "turn_start"
	EventTurnEnd            EventKind = "turn_end"
	EventMessageStart       EventKind = "message_start"
	EventMessageEnd         EventKind = "message_end"
	EventFileRead           EventKind = "file_read"
	EventFileWritten        EventKind = "file_written"
	EventFileEdited         EventKind = "file_edited"
	EventCommandExecuted    EventKind = "command_executed"
	EventToolCall           EventKind = "tool_call"
	EventToolResult         EventKind = "tool_result"
	EventToolExecutionStart EventKind = "tool_execution_start"
	EventToolExecutionEnd   EventKind = "tool_execution_end"
)

// Event is a context notification broadcast to extensions in registration
// order.
type Event struct {
	Kind       EventKind
	ToolName   string
	ToolCallID string
	Args       map[string]any
	Path       string
	Command    string
	ExitCode   *int
	IsError    bool
}

// Decision is an extension's verdict on a pending tool call.
type Decision struct {
	Block  bool
	Reason string
}

// Allow is the pass-through decision.
func Allow() Decision { return Decision{} }

// Block stops the call with an optional reason.
func Block(reason string) Decision { return Decision{Block: true, Reason: reason} }

// Extension is a user-supplied component. Implementations should embed
// NopExtension and override what they need.
type Extension interface {
	Name() string

	// Init runs once at registration.
	Init(ctx context.Context, ec Context) error

	// Tools lists extension-provided tools. May be empty.
	Tools() []ToolDefinition

	// HandleToolCall executes one of this extension's own tools.
	HandleToolCall(ctx context.Context, toolName string, params map[string]any) (any, error)

	// OnEvent receives context events.
	OnEvent(ctx context.Context, event Event) error

	// OnToolCall can veto any tool call before it executes.
	OnToolCall(ctx context.Context, toolName, toolCallID string, params map[string]any) (Decision, error)

	// OnToolResult may replace a tool result; return (nil, nil) to keep it.
	OnToolResult(ctx context.Context, toolName, toolCallID string, result *tools.Result, isError bool) (*tools.Result, error)

	// Shutdown runs when the session closes.
	Shutdown(ctx context.Context) error
}

// NopExtension implements Extension with no behavior.
type NopExtension struct{}

func (NopExtension) Init(context.Context, Context) error { return nil }
func (NopExtension) Tools() []ToolDefinition             { return nil }
func (NopExtension) HandleToolCall(_ context.Context, toolName string, _ map[string]any) (any, error) {
	return nil, &NotImplementedError{ToolName: toolName}
}
func (NopExtension) OnEvent(context.Context, Event) error { return nil }
func (NopExtension) OnToolCall(context.Context, string, string, map[string]any) (Decision, error) {
	return Allow(), nil
}
func (NopExtension) OnToolResult(context.Context, string, string, *tools.Result, bool) (*tools.Result, error) {
	return nil, nil
}
func (NopExtension) Shutdown(context.Context) error { return nil }

// NotImplementedError marks an extension asked to run a tool it doesn't own.
type NotImplementedError struct {
	ToolName string
}

func (e *NotImplementedError) Error() string {
	return "extension tool not implemented: " + e.ToolName
}
