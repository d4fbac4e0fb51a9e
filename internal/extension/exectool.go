package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CommandExtension is an extension whose tools execute by shelling out to a
// configured command. The command receives a single JSON argument:
//
//	{"type":"tool_call","toolName":...,"params":...,"context":...,"config":...}
//
// A zero exit with parseable JSON on stdout becomes the result; non-JSON
// stdout becomes a text block; a non-zero exit is a tool error.
type CommandExtension struct {
	NopExtension

	ExtName  string
	Command  string
	CmdArgs  []string
	ToolDefs []ToolDefinition
	Config   map[string]any

	hostCtx Context
}

func (e *CommandExtension) Name() string { return e.ExtName }

func (e *CommandExtension) Init(_ context.Context, ec Context) error {
	if e.Command == "" {
		return fmt.Errorf("extension %s: command not configured", e.ExtName)
	}
	e.hostCtx = ec
	return nil
}

func (e *CommandExtension) Tools() []ToolDefinition { return e.ToolDefs }

func (e *CommandExtension) HandleToolCall(ctx context.Context, toolName string, params map[string]any) (any, error) {
	payload, err := json.Marshal(map[string]any{
		"type":     "tool_call",
		"toolName": toolName,
		"params":   params,
		"context":  e.hostCtx,
		"config":   e.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tool call payload: %w", err)
	}

	args := append(append([]string(nil), e.CmdArgs...), string(payload))
	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Dir = e.hostCtx.WorkingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("extension tool %s failed: %s", toolName, detail)
	}

	out := strings.TrimSpace(stdout.String())
	var value any
	if err := json.Unmarshal([]byte(out), &value); err != nil {
		// Non-JSON stdout becomes a plain text block.
		return map[string]any{"content": out}, nil
	}
	return value, nil
}
