package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EditTool performs exact find-and-replace in a file. old_string must be
// non-empty, differ from new_string, and occur exactly once unless
// replace_all is set.
type EditTool struct {
	workingDir string
}

// NewEditTool creates the edit tool rooted at workingDir.
func NewEditTool(workingDir string) *EditTool {
	return &EditTool{workingDir: workingDir}
}

func (t *EditTool) Name() string  { return "edit" }
func (t *EditTool) Label() string { return "Edit" }

func (t *EditTool) Definition() Definition {
	return Definition{
		Name:        "edit",
		Label:       "Edit",
		Description: "Perform exact string replacement in a file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "The path to the file to edit",
				},
				"old_string": map[string]any{
					"type":        "string",
					"description": "The exact text to find and replace",
				},
				"new_string": map[string]any{
					"type":        "string",
					"description": "The replacement text",
				},
				"replace_all": map[string]any{
					"type":        "boolean",
					"description": "Replace all occurrences (default: false)",
				},
			},
			"required": []any{"file_path", "old_string", "new_string"},
		},
	}
}

type editOutput struct {
	replacements int
	diff         string
}

func (t *EditTool) Execute(ctx context.Context, toolCallID string, args map[string]any, onUpdate UpdateFunc) (Result, error) {
	filePath, ok := stringArg(args, "file_path")
	if !ok {
		return Result{}, fmt.Errorf("missing 'file_path' parameter")
	}
	oldString, ok := stringArg(args, "old_string")
	if !ok {
		return Result{}, fmt.Errorf("missing 'old_string' parameter")
	}
	newString, ok := stringArg(args, "new_string")
	if !ok {
		return Result{}, fmt.Errorf("missing 'new_string' parameter")
	}
	replaceAll := boolArg(args, "replace_all")

	resolved, err := CheckSandbox(filePath, t.workingDir)
	if err != nil {
		return Result{}, err
	}

	out, err := runBlocking(ctx, func() (editOutput, error) {
		return editFile(resolved, oldString, newString, replaceAll)
	})
	if err != nil {
		return Result{}, err
	}

	result := TextResult(fmt.Sprintf("Replaced %d occurrence(s) in %s\n\n%s",
		out.replacements, resolved, out.diff))
	result.Details = map[string]any{"replacements": out.replacements}
	return result, nil
}

func editFile(path, oldString, newString string, replaceAll bool) (editOutput, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return editOutput{}, fmt.Errorf("File not found: %s", path)
		}
		return editOutput{}, err
	}
	if !info.Mode().IsRegular() {
		return editOutput{}, fmt.Errorf("Not a regular file: %s", path)
	}
	if oldString == "" {
		return editOutput{}, fmt.Errorf("old_string must not be empty")
	}
	if oldString == newString {
		return editOutput{}, fmt.Errorf("old_string and new_string are identical")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return editOutput{}, err
	}
	original := string(data)

	count := strings.Count(original, oldString)
	if count == 0 {
		return editOutput{}, fmt.Errorf("old_string not found in file. Make sure it matches exactly (including whitespace).")
	}
	if !replaceAll && count > 1 {
		return editOutput{}, fmt.Errorf("old_string found %d times in the file. Use replace_all=true to replace all, or provide more context to make the match unique.", count)
	}

	var modified string
	replacements := 1
	if replaceAll {
		modified = strings.ReplaceAll(original, oldString, newString)
		replacements = count
	} else {
		modified = strings.Replace(original, oldString, newString, 1)
	}

	if err := os.WriteFile(path, []byte(modified), info.Mode().Perm()); err != nil {
		return editOutput{}, err
	}
	return editOutput{
		replacements: replacements,
		diff:         UnifiedDiff(original, modified, 3),
	}, nil
}
