package extension

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/gq3171/piagent/internal/tools"
)

type registeredTool struct {
	owner      int
	definition ToolDefinition
}

// Runner owns the extension list. Extensions register before the first turn
// and the list is immutable while turns run.
type Runner struct {
	ctx        Context
	extensions []Extension
	tools      map[string]registeredTool
	logger     *zap.Logger
}

// NewRunner creates an empty runner for the given host context.
func NewRunner(ec Context, logger *zap.Logger) *Runner {
	return &Runner{
		ctx:    ec,
		tools:  make(map[string]registeredTool),
		logger: logger,
	}
}

// Add initializes and registers an extension. Registration is rejected when
// one of its tool names is already taken.
func (r *Runner) Add(ctx context.Context, ext Extension) error {
	if err := ext.Init(ctx, r.ctx); err != nil {
		return fmt.Errorf("initialize extension %s: %w", ext.Name(), err)
	}
	owner := len(r.extensions)
	added := make([]string, 0)
	for _, def := range ext.Tools() {
		if _, exists := r.tools[def.Name]; exists {
			for _, name := range added {
				delete(r.tools, name)
			}
			return fmt.Errorf("duplicate extension tool %q from extension %q", def.Name, ext.Name())
		}
		r.tools[def.Name] = registeredTool{owner: owner, definition: def}
		added = append(added, def.Name)
	}
	r.extensions = append(r.extensions, ext)
	return nil
}

// RegisteredTools lists extension tool definitions, sorted by name.
func (r *Runner) RegisteredTools() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ExecuteRegisteredTool routes a call to the owning extension.
func (r *Runner) ExecuteRegisteredTool(ctx context.Context, toolName string, params map[string]any) (any, error) {
	registered, ok := r.tools[toolName]
	if !ok {
		return nil, fmt.Errorf("extension tool not found: %s", toolName)
	}
	return r.extensions[registered.owner].HandleToolCall(ctx, toolName, params)
}

// Emit broadcasts a context event to every extension in registration order.
// A failing extension is logged, not fatal.
func (r *Runner) Emit(ctx context.Context, event Event) {
	for _, ext := range r.extensions {
		if err := ext.OnEvent(ctx, event); err != nil {
			r.logger.Warn("extension event handler failed",
				zap.String("extension", ext.Name()),
				zap.String("event", string(event.Kind)),
				zap.Error(err))
		}
	}
}

// BeforeToolCall notifies extensions of a pending call; the first Block
// short-circuits it.
func (r *Runner) BeforeToolCall(ctx context.Context, toolName, toolCallID string, params map[string]any) error {
	r.Emit(ctx, Event{
		Kind:       EventToolCall,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Args:       params,
	})
	for _, ext := range r.extensions {
		decision, err := ext.OnToolCall(ctx, toolName, toolCallID, params)
		if err != nil {
			return fmt.Errorf("extension %s on_tool_call: %w", ext.Name(), err)
		}
		if decision.Block {
			reason := decision.Reason
			if reason == "" {
				reason = fmt.Sprintf("Tool call blocked by extension: %s", toolName)
			}
			return fmt.Errorf("%s", reason)
		}
	}
	return nil
}

// AfterToolResult lets extensions replace a result; replacements chain in
// registration order and the final non-nil wins. Returns nil when no
// extension replaced it.
func (r *Runner) AfterToolResult(ctx context.Context, toolName, toolCallID string, result *tools.Result, isError bool) *tools.Result {
	r.Emit(ctx, Event{
		Kind:       EventToolResult,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		IsError:    isError,
	})

	current := result
	replaced := false
	for _, ext := range r.extensions {
		next, err := ext.OnToolResult(ctx, toolName, toolCallID, current, isError)
		if err != nil {
			r.logger.Warn("extension on_tool_result failed",
				zap.String("extension", ext.Name()), zap.Error(err))
			continue
		}
		if next != nil {
			current = next
			replaced = true
		}
	}
	if !replaced {
		return nil
	}
	return current
}

// Shutdown stops every extension.
func (r *Runner) Shutdown(ctx context.Context) {
	for _, ext := range r.extensions {
		if err := ext.Shutdown(ctx); err != nil {
			r.logger.Warn("extension shutdown failed",
				zap.String("extension", ext.Name()), zap.Error(err))
		}
	}
}
