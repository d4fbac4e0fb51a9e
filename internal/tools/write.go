package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WriteTool creates or overwrites a file inside the working directory,
// creating missing parent directories.
type WriteTool struct {
	workingDir string
}

// NewWriteTool creates the write tool rooted at workingDir.
func NewWriteTool(workingDir string) *WriteTool {
	return &WriteTool{workingDir: workingDir}
}

func (t *WriteTool) Name() string  { return "write" }
func (t *WriteTool) Label() string { return "Write" }

func (t *WriteTool) Definition() Definition {
	return Definition{
		Name:        "write",
		Label:       "Write",
		Description: "Write content to a file, creating it if it doesn't exist.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "The path to the file to write",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The content to write to the file",
				},
			},
			"required": []any{"file_path", "content"},
		},
	}
}

func (t *WriteTool) Execute(ctx context.Context, toolCallID string, args map[string]any, onUpdate UpdateFunc) (Result, error) {
	filePath, ok := stringArg(args, "file_path")
	if !ok {
		return Result{}, fmt.Errorf("missing 'file_path' parameter")
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return Result{}, fmt.Errorf("missing 'content' parameter")
	}

	resolved, err := CheckSandbox(filePath, t.workingDir)
	if err != nil {
		return Result{}, err
	}

	created, err := runBlocking(ctx, func() (bool, error) {
		_, statErr := os.Stat(resolved)
		created := os.IsNotExist(statErr)
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return false, err
		}
		return created, os.WriteFile(resolved, []byte(content), 0o644)
	})
	if err != nil {
		return Result{}, err
	}

	status := "Updated"
	if created {
		status = "Created"
	}
	result := TextResult(fmt.Sprintf("%s %s (%d bytes)", status, resolved, len(content)))
	result.Details = map[string]any{
		"created":      created,
		"bytesWritten": len(content),
	}
	return result, nil
}
