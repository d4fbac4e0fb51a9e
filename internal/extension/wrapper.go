package extension

import (
	"context"
	"encoding/json"

	"github.com/gq3171/piagent/internal/msg"
	"github.com/gq3171/piagent/internal/tools"
)

// wrappedTool runs the extension before/after hooks around a built-in tool.
type wrappedTool struct {
	inner  tools.Tool
	runner *Runner
}

func (w *wrappedTool) Name() string                 { return w.inner.Name() }
func (w *wrappedTool) Label() string                { return w.inner.Label() }
func (w *wrappedTool) Definition() tools.Definition { return w.inner.Definition() }

func (w *wrappedTool) Execute(ctx context.Context, toolCallID string, args map[string]any, onUpdate tools.UpdateFunc) (tools.Result, error) {
	if err := w.runner.BeforeToolCall(ctx, w.Name(), toolCallID, args); err != nil {
		return tools.Result{}, err
	}

	result, err := w.inner.Execute(ctx, toolCallID, args, onUpdate)
	if err != nil {
		// Hooks still observe failures, as a synthetic error text block.
		synthetic := tools.TextResult(err.Error())
		w.runner.AfterToolResult(ctx, w.Name(), toolCallID, &synthetic, true)
		return tools.Result{}, err
	}
	if replaced := w.runner.AfterToolResult(ctx, w.Name(), toolCallID, &result, false); replaced != nil {
		return *replaced, nil
	}
	return result, nil
}

// WrapTool hooks a built-in tool into the runner.
func WrapTool(tool tools.Tool, runner *Runner) tools.Tool {
	return &wrappedTool{inner: tool, runner: runner}
}

// WrapTools hooks a tool list into the runner.
func WrapTools(list []tools.Tool, runner *Runner) []tools.Tool {
	wrapped := make([]tools.Tool, len(list))
	for i, tool := range list {
		wrapped[i] = WrapTool(tool, runner)
	}
	return wrapped
}

// providedTool adapts an extension tool definition into an executable tool.
type providedTool struct {
	def    ToolDefinition
	runner *Runner
}

func (p *providedTool) Name() string  { return p.def.Name }
func (p *providedTool) Label() string { return p.def.Label }

func (p *providedTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        p.def.Name,
		Label:       p.def.Label,
		Description: p.def.Description,
		Parameters:  p.def.Parameters,
	}
}

func (p *providedTool) Execute(ctx context.Context, toolCallID string, args map[string]any, onUpdate tools.UpdateFunc) (tools.Result, error) {
	if err := p.runner.BeforeToolCall(ctx, p.Name(), toolCallID, args); err != nil {
		return tools.Result{}, err
	}
	value, err := p.runner.ExecuteRegisteredTool(ctx, p.Name(), args)
	if err != nil {
		synthetic := tools.TextResult(err.Error())
		p.runner.AfterToolResult(ctx, p.Name(), toolCallID, &synthetic, true)
		return tools.Result{}, err
	}
	result := valueToResult(value)
	if replaced := p.runner.AfterToolResult(ctx, p.Name(), toolCallID, &result, false); replaced != nil {
		return *replaced, nil
	}
	return result, nil
}

// ProvidedTools converts every registered extension tool into a callable.
func ProvidedTools(runner *Runner) []tools.Tool {
	defs := runner.RegisteredTools()
	list := make([]tools.Tool, len(defs))
	for i, def := range defs {
		list[i] = &providedTool{def: def, runner: runner}
	}
	return list
}

// valueToResult maps an extension's JSON return into a tool result. An
// object with a "content" key contributes text or blocks; anything else is
// pretty-printed as text with the raw value kept in details.
func valueToResult(value any) tools.Result {
	if obj, ok := value.(map[string]any); ok {
		details := obj["details"]
		if details == nil {
			details = value
		}
		if content, ok := obj["content"]; ok {
			if text, ok := content.(string); ok {
				result := tools.TextResult(text)
				result.Details = details
				return result
			}
			if raw, err := json.Marshal(content); err == nil {
				var list []json.RawMessage
				if json.Unmarshal(raw, &list) == nil {
					blocks := make([]msg.ContentBlock, 0, len(list))
					ok := true
					for _, item := range list {
						block, err := msg.UnmarshalContentBlock(item)
						if err != nil {
							ok = false
							break
						}
						blocks = append(blocks, block)
					}
					if ok && len(blocks) > 0 {
						return tools.Result{Content: blocks, Details: details}
					}
				}
			}
		}
	}

	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		pretty = []byte("(unprintable)")
	}
	result := tools.TextResult(string(pretty))
	result.Details = value
	return result
}
