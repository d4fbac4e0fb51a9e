// Package tools implements the sandboxed tool substrate: read, write, edit,
// bash, grep and ls over a working directory, plus JSON-Schema argument
// validation. Every path is confined to the working directory, and the text
// output of read, bash, grep and ls passes through the shared truncator.
package tools

import (
	"context"

	"github.com/gq3171/piagent/internal/msg"
)

// Definition is the provider-facing description of a tool.
type Definition struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
	// Parameters is a JSON Schema object. Nil or empty means "accept anything".
	Parameters map[string]any `json:"parameters"`
}

// Result is what a tool execution produces.
type Result struct {
	Content []msg.ContentBlock
	Details any
}

// TextResult wraps plain text as a result.
func TextResult(text string) Result {
	return Result{Content: []msg.ContentBlock{msg.TextContent{Text: text}}}
}

// UpdateFunc streams partial results back to subscribers during execution.
type UpdateFunc func(partial Result)

// Tool is one executable capability. Execute honors ctx for cancellation:
// long-running work either selects on ctx.Done or races it against blocking
// I/O, and cancellation errors contain "cancelled" so callers can tell them
// from failures.
type Tool interface {
	Name() string
	Label() string
	Definition() Definition
	Execute(ctx context.Context, toolCallID string, args map[string]any, onUpdate UpdateFunc) (Result, error)
}

// DefaultTools returns the built-in tool set rooted at workingDir.
func DefaultTools(workingDir string) []Tool {
	return []Tool{
		NewReadTool(workingDir),
		NewWriteTool(workingDir),
		NewEditTool(workingDir),
		NewBashTool(workingDir),
		NewGrepTool(workingDir),
		NewLsTool(workingDir),
	}
}

// Arg helpers. Provider JSON decodes numbers as float64; these accept the
// usual aliases.

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}
