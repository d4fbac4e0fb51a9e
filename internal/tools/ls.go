package tools

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

const lsDefaultLimit = 500

// LsTool lists a directory, suffixing '/' on directories, sorted
// case-insensitively.
type LsTool struct {
	workingDir string
}

// NewLsTool creates the ls tool rooted at workingDir.
func NewLsTool(workingDir string) *LsTool {
	return &LsTool{workingDir: workingDir}
}

func (t *LsTool) Name() string  { return "ls" }
func (t *LsTool) Label() string { return "Ls" }

func (t *LsTool) Definition() Definition {
	return Definition{
		Name:        "ls",
		Label:       "Ls",
		Description: "List directory contents, appending '/' for directories.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to list (default: current directory)",
				},
				"limit": map[string]any{
					"type":        "number",
					"description": "Maximum number of entries to return (default: 500)",
				},
			},
		},
	}
}

func (t *LsTool) Execute(ctx context.Context, toolCallID string, args map[string]any, onUpdate UpdateFunc) (Result, error) {
	path, _ := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	limit, hasLimit := intArg(args, "limit")
	if !hasLimit || limit < 1 {
		limit = lsDefaultLimit
	}

	resolved, err := CheckSandbox(path, t.workingDir)
	if err != nil {
		return Result{}, err
	}

	type lsOutput struct {
		text         string
		limitReached bool
		wasTruncated bool
	}
	out, err := runBlocking(ctx, func() (lsOutput, error) {
		info, err := os.Stat(resolved)
		if err != nil {
			return lsOutput{}, fmt.Errorf("Path not found: %s", resolved)
		}
		if !info.IsDir() {
			return lsOutput{}, fmt.Errorf("Not a directory: %s", resolved)
		}

		dirEntries, err := os.ReadDir(resolved)
		if err != nil {
			return lsOutput{}, err
		}
		names := make([]string, 0, len(dirEntries))
		for _, de := range dirEntries {
			if de.IsDir() {
				names = append(names, de.Name()+"/")
			} else {
				names = append(names, de.Name())
			}
		}
		sort.Slice(names, func(i, j int) bool {
			return strings.ToLower(names[i]) < strings.ToLower(names[j])
		})

		var result lsOutput
		if len(names) > limit {
			names = names[:limit]
			result.limitReached = true
		}

		raw := "(empty directory)"
		if len(names) > 0 {
			raw = strings.Join(names, "\n")
		}
		truncated := TruncateOutput(raw, 0, 0)
		result.wasTruncated = truncated.WasTruncated
		result.text = truncated.Content

		var notices []string
		if result.limitReached {
			notices = append(notices, fmt.Sprintf("%d entries limit reached", limit))
		}
		if result.wasTruncated {
			notices = append(notices, "output byte/line limit reached")
		}
		if len(notices) > 0 {
			result.text += fmt.Sprintf("\n\n[%s]", strings.Join(notices, ". "))
		}
		return result, nil
	})
	if err != nil {
		return Result{}, err
	}

	result := TextResult(out.text)
	result.Details = map[string]any{
		"path":              resolved,
		"entryLimitReached": out.limitReached,
		"wasTruncated":      out.wasTruncated,
	}
	return result, nil
}
