package extension

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/gq3171/piagent/internal/msg"
	"github.com/gq3171/piagent/internal/tools"
)

type recordingExtension struct {
	NopExtension
	name     string
	toolDefs []ToolDefinition
	events   []EventKind
	decision Decision
	replace  *tools.Result
	handled  map[string]any
}

func (e *recordingExtension) Name() string            { return e.name }
func (e *recordingExtension) Tools() []ToolDefinition { return e.toolDefs }

func (e *recordingExtension) HandleToolCall(_ context.Context, toolName string, params map[string]any) (any, error) {
	if e.handled == nil {
		return nil, &NotImplementedError{ToolName: toolName}
	}
	return e.handled, nil
}

func (e *recordingExtension) OnEvent(_ context.Context, event Event) error {
	e.events = append(e.events, event.Kind)
	return nil
}

func (e *recordingExtension) OnToolCall(context.Context, string, string, map[string]any) (Decision, error) {
	return e.decision, nil
}

func (e *recordingExtension) OnToolResult(context.Context, string, string, *tools.Result, bool) (*tools.Result, error) {
	return e.replace, nil
}

type echoTool struct{}

func (echoTool) Name() string  { return "echo" }
func (echoTool) Label() string { return "Echo" }
func (echoTool) Definition() tools.Definition {
	return tools.Definition{Name: "echo", Label: "Echo"}
}
func (echoTool) Execute(_ context.Context, _ string, args map[string]any, _ tools.UpdateFunc) (tools.Result, error) {
	text, _ := args["text"].(string)
	return tools.TextResult(text), nil
}

func newRunner(t *testing.T, exts ...Extension) *Runner {
	t.Helper()
	r := NewRunner(Context{WorkingDir: t.TempDir()}, zap.NewNop())
	for _, ext := range exts {
		if err := r.Add(context.Background(), ext); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return r
}

func TestDuplicateToolRejected(t *testing.T) {
	a := &recordingExtension{name: "a", toolDefs: []ToolDefinition{{Name: "deploy"}}}
	b := &recordingExtension{name: "b", toolDefs: []ToolDefinition{{Name: "deploy"}}}

	r := newRunner(t, a)
	if err := r.Add(context.Background(), b); err == nil {
		t.Fatal("duplicate tool name should reject registration")
	}
	if len(r.RegisteredTools()) != 1 {
		t.Fatalf("tools = %+v", r.RegisteredTools())
	}
}

func TestBlockShortCircuits(t *testing.T) {
	blocker := &recordingExtension{name: "blocker", decision: Block("not today")}
	after := &recordingExtension{name: "after"}
	r := newRunner(t, blocker, after)

	wrapped := WrapTool(echoTool{}, r)
	_, err := wrapped.Execute(context.Background(), "c1", map[string]any{"text": "hi"}, nil)
	if err == nil || !strings.Contains(err.Error(), "not today") {
		t.Fatalf("err = %v", err)
	}
}

func TestResultReplacementChains(t *testing.T) {
	first := &recordingExtension{name: "first"}
	replaced := tools.TextResult("replaced")
	second := &recordingExtension{name: "second", replace: &replaced}
	r := newRunner(t, first, second)

	wrapped := WrapTool(echoTool{}, r)
	result, err := wrapped.Execute(context.Background(), "c1", map[string]any{"text": "orig"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	text := result.Content[0].(msg.TextContent).Text
	if text != "replaced" {
		t.Fatalf("text = %q", text)
	}
}

func TestEventsInRegistrationOrder(t *testing.T) {
	a := &recordingExtension{name: "a"}
	b := &recordingExtension{name: "b"}
	r := newRunner(t, a, b)

	wrapped := WrapTool(echoTool{}, r)
	if _, err := wrapped.Execute(context.Background(), "c1", map[string]any{"text": "x"}, nil); err != nil {
		t.Fatal(err)
	}
	for _, ext := range []*recordingExtension{a, b} {
		if len(ext.events) != 2 || ext.events[0] != EventToolCall || ext.events[1] != EventToolResult {
			t.Fatalf("%s events = %v", ext.name, ext.events)
		}
	}
}

func TestProvidedToolExecution(t *testing.T) {
	provider := &recordingExtension{
		name:     "provider",
		toolDefs: []ToolDefinition{{Name: "lookup", Label: "Lookup"}},
		handled:  map[string]any{"content": "found it"},
	}
	r := newRunner(t, provider)

	provided := ProvidedTools(r)
	if len(provided) != 1 || provided[0].Name() != "lookup" {
		t.Fatalf("provided = %+v", provided)
	}
	result, err := provided[0].Execute(context.Background(), "c1", map[string]any{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if text := result.Content[0].(msg.TextContent).Text; text != "found it" {
		t.Fatalf("text = %q", text)
	}
}

func TestCommandExtensionShellOut(t *testing.T) {
	ext := &CommandExtension{
		ExtName: "shell",
		Command: "bash",
		CmdArgs: []string{"-c", `echo '{"content": "from script"}' # payload: $0`},
		ToolDefs: []ToolDefinition{{Name: "script_tool", Label: "Script"}},
	}
	r := newRunner(t, ext)

	value, err := r.ExecuteRegisteredTool(context.Background(), "script_tool", map[string]any{"q": 1})
	if err != nil {
		t.Fatal(err)
	}
	obj := value.(map[string]any)
	if obj["content"] != "from script" {
		t.Fatalf("value = %v", value)
	}
}

func TestCommandExtensionNonJSONStdout(t *testing.T) {
	ext := &CommandExtension{
		ExtName:  "plain",
		Command:  "bash",
		CmdArgs:  []string{"-c", "echo plain text output"},
		ToolDefs: []ToolDefinition{{Name: "plain_tool"}},
	}
	r := newRunner(t, ext)

	value, err := r.ExecuteRegisteredTool(context.Background(), "plain_tool", nil)
	if err != nil {
		t.Fatal(err)
	}
	obj := value.(map[string]any)
	if obj["content"] != "plain text output" {
		t.Fatalf("value = %v", value)
	}
}

func TestCommandExtensionNonZeroExit(t *testing.T) {
	ext := &CommandExtension{
		ExtName:  "failing",
		Command:  "bash",
		CmdArgs:  []string{"-c", "echo oops 1>&2; exit 2"},
		ToolDefs: []ToolDefinition{{Name: "fail_tool"}},
	}
	r := newRunner(t, ext)

	_, err := r.ExecuteRegisteredTool(context.Background(), "fail_tool", nil)
	if err == nil || !strings.Contains(err.Error(), "oops") {
		t.Fatalf("err = %v", err)
	}
}

func TestErrorResultStillReachesHooks(t *testing.T) {
	observer := &recordingExtension{name: "observer"}
	r := newRunner(t, observer)

	failing := failingTool{}
	wrapped := WrapTool(failing, r)
	if _, err := wrapped.Execute(context.Background(), "c1", nil, nil); err == nil {
		t.Fatal("expected error")
	}
	if len(observer.events) != 2 || observer.events[1] != EventToolResult {
		t.Fatalf("events = %v", observer.events)
	}
}

type failingTool struct{}

func (failingTool) Name() string                 { return "fail" }
func (failingTool) Label() string                { return "Fail" }
func (failingTool) Definition() tools.Definition { return tools.Definition{Name: "fail"} }
func (failingTool) Execute(context.Context, string, map[string]any, tools.UpdateFunc) (tools.Result, error) {
	return tools.Result{}, errors.New("tool exploded")
}
