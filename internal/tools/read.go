package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	units "github.com/docker/go-units"

	"github.com/gq3171/piagent/internal/msg"
)

const (
	maxTextFileSize  = 10 * 1024 * 1024
	maxImageFileSize = 20 * 1024 * 1024
)

// ReadTool reads a file inside the working directory. Images come back as an
// image block with the correct mime type; other binary formats return a stub
// line; text returns a line-numbered window with offset/limit.
type ReadTool struct {
	workingDir string
}

// NewReadTool creates the read tool rooted at workingDir.
func NewReadTool(workingDir string) *ReadTool {
	return &ReadTool{workingDir: workingDir}
}

func (t *ReadTool) Name() string  { return "read" }
func (t *ReadTool) Label() string { return "Read" }

func (t *ReadTool) Definition() Definition {
	return Definition{
		Name:        "read",
		Label:       "Read",
		Description: "Read a file from the filesystem.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "The path to the file to read",
				},
				"offset": map[string]any{
					"type":        "number",
					"description": "Line number to start reading from (0-based)",
				},
				"limit": map[string]any{
					"type":        "number",
					"description": "Maximum number of lines to read",
				},
			},
			"required": []any{"file_path"},
		},
	}
}

type readOutput struct {
	result     Result
	totalLines int
	truncated  bool
	binary     bool
}

func (t *ReadTool) Execute(ctx context.Context, toolCallID string, args map[string]any, onUpdate UpdateFunc) (Result, error) {
	filePath, ok := stringArg(args, "file_path")
	if !ok {
		return Result{}, fmt.Errorf("missing 'file_path' parameter")
	}
	offset, _ := intArg(args, "offset")
	limit, hasLimit := intArg(args, "limit")
	if !hasLimit {
		limit = DefaultMaxLines
	}

	resolved, err := CheckSandbox(filePath, t.workingDir)
	if err != nil {
		return Result{}, err
	}

	out, err := runBlocking(ctx, func() (readOutput, error) {
		return readFile(resolved, offset, limit)
	})
	if err != nil {
		return Result{}, err
	}
	out.result.Details = map[string]any{
		"totalLines":   out.totalLines,
		"wasTruncated": out.truncated,
		"isBinary":     out.binary,
	}
	return out.result, nil
}

func readFile(path string, offset, limit int) (readOutput, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return readOutput{}, fmt.Errorf("File not found: %s", path)
		}
		return readOutput{}, err
	}
	if !info.Mode().IsRegular() {
		return readOutput{}, fmt.Errorf("Not a regular file: %s", path)
	}

	size := info.Size()
	if IsImage(path) {
		if size > maxImageFileSize {
			return readOutput{}, fmt.Errorf("Image too large: %s (limit: %s)",
				units.HumanSize(float64(size)), units.HumanSize(float64(maxImageFileSize)))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return readOutput{}, err
		}
		return readOutput{
			binary: true,
			result: Result{Content: []msg.ContentBlock{msg.ImageContent{
				Data:     base64.StdEncoding.EncodeToString(data),
				MimeType: ImageMimeType(path),
			}}},
		}, nil
	}

	if IsLikelyBinary(path) {
		return readOutput{
			binary: true,
			result: TextResult(fmt.Sprintf("[Binary file: %s]", path)),
		}, nil
	}

	if size > maxTextFileSize {
		return readOutput{}, fmt.Errorf("File too large: %s (limit: %s)",
			units.HumanSize(float64(size)), units.HumanSize(float64(maxTextFileSize)))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return readOutput{}, err
	}
	lines := splitLines(string(data))
	totalLines := len(lines)

	if offset > totalLines {
		offset = totalLines
	}
	end := offset + limit
	if end > totalLines {
		end = totalLines
	}

	var b strings.Builder
	for i := offset; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	truncated := TruncateOutput(strings.TrimSuffix(b.String(), "\n"), 0, 0)

	return readOutput{
		result:     TextResult(truncated.Content),
		totalLines: totalLines,
		truncated:  truncated.WasTruncated,
	}, nil
}

// splitLines splits file content into lines without a phantom final line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
