package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

const (
	grepDefaultLimit = 100
	grepMaxLineChars = 2000
)

// GrepTool searches file contents with a regex (or literal) pattern.
// `.git`, `node_modules`, likely-binary files, and `.gitignore`d paths are
// skipped. Matches print as `path:line: text`; context lines as
// `path-line- text`.
type GrepTool struct {
	workingDir string
}

// NewGrepTool creates the grep tool rooted at workingDir.
func NewGrepTool(workingDir string) *GrepTool {
	return &GrepTool{workingDir: workingDir}
}

func (t *GrepTool) Name() string  { return "grep" }
func (t *GrepTool) Label() string { return "Grep" }

func (t *GrepTool) Definition() Definition {
	return Definition{
		Name:        "grep",
		Label:       "Grep",
		Description: "Search file contents for a pattern and return matching lines.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Search pattern (regex by default)",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Directory or file to search (default: current directory)",
				},
				"glob": map[string]any{
					"type":        "string",
					"description": "Optional file glob filter, e.g. '*.go'",
				},
				"ignoreCase": map[string]any{
					"type":        "boolean",
					"description": "Case-insensitive search",
				},
				"literal": map[string]any{
					"type":        "boolean",
					"description": "Treat pattern as literal string",
				},
				"context": map[string]any{
					"type":        "number",
					"description": "Context lines before/after each match",
				},
				"limit": map[string]any{
					"type":        "number",
					"description": "Maximum number of matches (default: 100)",
				},
			},
			"required": []any{"pattern"},
		},
	}
}

func (t *GrepTool) Execute(ctx context.Context, toolCallID string, args map[string]any, onUpdate UpdateFunc) (Result, error) {
	pattern, ok := stringArg(args, "pattern")
	if !ok {
		return Result{}, fmt.Errorf("missing 'pattern' parameter")
	}
	searchPath, _ := stringArg(args, "path")
	if searchPath == "" {
		searchPath = "."
	}
	globPattern, _ := stringArg(args, "glob")
	ignoreCase := boolArg(args, "ignoreCase")
	literal := boolArg(args, "literal")
	contextLines, _ := intArg(args, "context")
	limit, hasLimit := intArg(args, "limit")
	if !hasLimit || limit < 1 {
		limit = grepDefaultLimit
	}

	resolved, err := CheckSandbox(searchPath, t.workingDir)
	if err != nil {
		return Result{}, err
	}

	source := pattern
	if literal {
		source = regexp.QuoteMeta(pattern)
	}
	if ignoreCase {
		source = "(?i)" + source
	}
	re, err := regexp.Compile(source)
	if err != nil {
		return Result{}, fmt.Errorf("invalid pattern: %w", err)
	}
	if globPattern != "" {
		if _, err := filepath.Match(globPattern, "probe"); err != nil {
			return Result{}, fmt.Errorf("invalid glob: %w", err)
		}
	}

	out, err := runBlocking(ctx, func() (grepOutput, error) {
		return grepTree(ctx, resolved, re, globPattern, contextLines, limit)
	})
	if err != nil {
		return Result{}, err
	}

	result := TextResult(out.text)
	result.Details = map[string]any{
		"path":              resolved,
		"matchLimitReached": out.limitReached,
		"wasTruncated":      out.wasTruncated,
		"linesTruncated":    out.linesTruncated,
	}
	return result, nil
}

type grepOutput struct {
	text           string
	limitReached   bool
	wasTruncated   bool
	linesTruncated bool
}

func grepTree(ctx context.Context, root string, re *regexp.Regexp, globPattern string, contextLines, limit int) (grepOutput, error) {
	info, err := os.Stat(root)
	if err != nil {
		return grepOutput{}, fmt.Errorf("Path not found: %s", root)
	}

	var files []string
	if !info.IsDir() {
		files = []string{root}
	} else {
		matcher := loadGitignore(root)
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil || rel == "." {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if shouldSkipGrepPath(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if matcher != nil && matcher.MatchesPath(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if globPattern != "" && !globMatches(globPattern, rel) {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if walkErr != nil {
			return grepOutput{}, ErrCancelled
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return strings.ToLower(files[i]) < strings.ToLower(files[j])
	})

	var out grepOutput
	var lines []string
	matchCount := 0

files:
	for _, file := range files {
		if ctx.Err() != nil {
			return grepOutput{}, ErrCancelled
		}
		if IsLikelyBinary(file) {
			continue
		}
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		normalized := strings.ReplaceAll(string(data), "\r\n", "\n")
		normalized = strings.ReplaceAll(normalized, "\r", "\n")
		fileLines := strings.Split(normalized, "\n")

		rel := filepath.Base(file)
		if info.IsDir() {
			if r, err := filepath.Rel(root, file); err == nil {
				rel = filepath.ToSlash(r)
			}
		}

		for idx, line := range fileLines {
			if !re.MatchString(line) {
				continue
			}
			matchCount++

			start := idx - contextLines
			if start < 0 {
				start = 0
			}
			end := idx + contextLines
			if end > len(fileLines)-1 {
				end = len(fileLines) - 1
			}
			for i := start; i <= end; i++ {
				text := fileLines[i]
				if len([]rune(text)) > grepMaxLineChars {
					out.linesTruncated = true
					text = string([]rune(text)[:grepMaxLineChars]) + "...[truncated]"
				}
				if i == idx {
					lines = append(lines, fmt.Sprintf("%s:%d: %s", rel, i+1, text))
				} else {
					lines = append(lines, fmt.Sprintf("%s-%d- %s", rel, i+1, text))
				}
			}
			if matchCount >= limit {
				out.limitReached = true
				break files
			}
		}
	}

	if len(lines) == 0 {
		out.text = "No matches found"
		return out, nil
	}

	truncated := TruncateOutput(strings.Join(lines, "\n"), 0, 0)
	out.wasTruncated = truncated.WasTruncated
	out.text = truncated.Content

	var notices []string
	if out.limitReached {
		notices = append(notices, fmt.Sprintf("%d matches limit reached", limit))
	}
	if out.wasTruncated {
		notices = append(notices, "output byte/line limit reached")
	}
	if out.linesTruncated {
		notices = append(notices, fmt.Sprintf("some lines truncated to %d chars", grepMaxLineChars))
	}
	if len(notices) > 0 {
		out.text += fmt.Sprintf("\n\n[%s]", strings.Join(notices, ". "))
	}
	return out, nil
}

func shouldSkipGrepPath(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if part == ".git" || part == "node_modules" {
			return true
		}
	}
	return false
}

// globMatches applies the glob to the relative path and to its basename, so
// '*.go' matches files in subdirectories too.
func globMatches(pattern, rel string) bool {
	if ok, _ := filepath.Match(pattern, rel); ok {
		return true
	}
	ok, _ := filepath.Match(pattern, filepath.Base(rel))
	return ok
}

// loadGitignore compiles the root .gitignore, if present.
func loadGitignore(root string) *gitignore.GitIgnore {
	matcher, err := gitignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return matcher
}
