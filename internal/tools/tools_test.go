package tools

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gq3171/piagent/internal/msg"
)

func textOf(t *testing.T, result Result) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty result content")
	}
	text, ok := result.Content[0].(msg.TextContent)
	if !ok {
		t.Fatalf("first block is %T", result.Content[0])
	}
	return text.Text
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---------- sandbox ----------

func TestIsWithin(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"inside", filepath.Join(dir, "a.txt"), true},
		{"nested inside", filepath.Join(sub, "deep", "b.txt"), true},
		{"root itself", dir, true},
		{"outside", filepath.Join(os.TempDir(), "elsewhere.txt"), false},
		{"traversal", filepath.Join(dir, "..", "escape.txt"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWithin(filepath.Clean(tt.path), dir); got != tt.want {
				t.Fatalf("IsWithin(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestIsWithinSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if IsWithin(filepath.Join(link, "file.txt"), root) {
		t.Fatal("symlink pointing outside the root must be rejected")
	}
}

func TestCheckSandboxErrorText(t *testing.T) {
	dir := t.TempDir()
	_, err := CheckSandbox("../outside.txt", dir)
	if err == nil || !strings.Contains(err.Error(), "Access denied") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "outside the working directory") {
		t.Fatalf("err = %v", err)
	}
}

// ---------- truncation ----------

func TestTruncateOutputByLines(t *testing.T) {
	content := strings.Repeat("line\n", 100)
	result := TruncateOutput(content, 10, 0)
	if !result.WasTruncated {
		t.Fatal("expected truncation")
	}
	if !strings.Contains(result.Content, "[Output truncated: 100 lines,") {
		t.Fatalf("missing notice: %q", result.Content)
	}
}

func TestTruncateOutputByBytesKeepsUTF8(t *testing.T) {
	content := strings.Repeat("世界", 100)
	result := TruncateOutput(content, 0, 7)
	if !result.WasTruncated {
		t.Fatal("expected truncation")
	}
	body := strings.SplitN(result.Content, "\n\n[Output truncated", 2)[0]
	if len(body) > 7 {
		t.Fatalf("body length %d exceeds cap", len(body))
	}
	for _, r := range body {
		if r == '�' {
			t.Fatal("truncation split a rune")
		}
	}
}

func TestTruncateOutputNoOp(t *testing.T) {
	result := TruncateOutput("hello\nworld", 0, 0)
	if result.WasTruncated || result.Content != "hello\nworld" {
		t.Fatalf("result = %+v", result)
	}
}

// ---------- read ----------

func TestReadTool(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "alpha\nbeta\ngamma\n")

	tool := NewReadTool(dir)
	result, err := tool.Execute(context.Background(), "c1", map[string]any{"file_path": "notes.txt"}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	text := textOf(t, result)
	if !strings.Contains(text, "1\talpha") || !strings.Contains(text, "3\tgamma") {
		t.Fatalf("text = %q", text)
	}
}

func TestReadToolOffsetLimit(t *testing.T) {
	dir := t.TempDir()
	var content strings.Builder
	for i := 1; i <= 100; i++ {
		content.WriteString("line " + strconv.Itoa(i) + "\n")
	}
	writeFile(t, dir, "big.txt", content.String())

	tool := NewReadTool(dir)
	result, err := tool.Execute(context.Background(), "c1",
		map[string]any{"file_path": "big.txt", "offset": float64(10), "limit": float64(5)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	text := textOf(t, result)
	if !strings.Contains(text, "line 11") || !strings.Contains(text, "line 15") {
		t.Fatalf("text = %q", text)
	}
	if strings.Contains(text, "line 16") {
		t.Fatalf("limit not honored: %q", text)
	}
}

func TestReadToolMissingFile(t *testing.T) {
	tool := NewReadTool(t.TempDir())
	_, err := tool.Execute(context.Background(), "c1", map[string]any{"file_path": "nope.txt"}, nil)
	if err == nil || !strings.Contains(err.Error(), "File not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestReadToolBinaryStub(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "archive.zip", "PK\x03\x04 not really")

	tool := NewReadTool(dir)
	result, err := tool.Execute(context.Background(), "c1", map[string]any{"file_path": "archive.zip"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(textOf(t, result), "[Binary file:") {
		t.Fatalf("text = %q", textOf(t, result))
	}
}

func TestReadToolImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pic.png", "\x89PNG fake")

	tool := NewReadTool(dir)
	result, err := tool.Execute(context.Background(), "c1", map[string]any{"file_path": "pic.png"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	img, ok := result.Content[0].(msg.ImageContent)
	if !ok {
		t.Fatalf("first block = %T", result.Content[0])
	}
	if img.MimeType != "image/png" || img.Data == "" {
		t.Fatalf("img = %+v", img)
	}
}

func TestReadToolSandbox(t *testing.T) {
	tool := NewReadTool(t.TempDir())
	_, err := tool.Execute(context.Background(), "c1", map[string]any{"file_path": "/etc/passwd"}, nil)
	if err == nil || !strings.Contains(err.Error(), "Access denied") {
		t.Fatalf("err = %v", err)
	}
}

// ---------- write ----------

func TestWriteToolCreatesNestedDirs(t *testing.T) {
	dir := t.TempDir()
	tool := NewWriteTool(dir)
	result, err := tool.Execute(context.Background(), "c1",
		map[string]any{"file_path": "a/b/c.txt", "content": "hi"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(textOf(t, result), "Created") {
		t.Fatalf("text = %q", textOf(t, result))
	}
	data, err := os.ReadFile(filepath.Join(dir, "a", "b", "c.txt"))
	if err != nil || string(data) != "hi" {
		t.Fatalf("data = %q err = %v", data, err)
	}

	// Overwrite reports Updated.
	result, err = tool.Execute(context.Background(), "c1",
		map[string]any{"file_path": "a/b/c.txt", "content": "again"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(textOf(t, result), "Updated") {
		t.Fatalf("text = %q", textOf(t, result))
	}
}

// ---------- edit ----------

func TestEditToolUniqueness(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f.txt", "foo bar foo")
	tool := NewEditTool(dir)

	_, err := tool.Execute(context.Background(), "c1",
		map[string]any{"file_path": "f.txt", "old_string": "foo", "new_string": "x"}, nil)
	if err == nil || !strings.Contains(err.Error(), "2 times") {
		t.Fatalf("err = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "foo bar foo" {
		t.Fatalf("file changed on failed edit: %q", data)
	}

	result, err := tool.Execute(context.Background(), "c1",
		map[string]any{"file_path": "f.txt", "old_string": "foo", "new_string": "x", "replace_all": true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(textOf(t, result), "Replaced 2 occurrence(s)") {
		t.Fatalf("text = %q", textOf(t, result))
	}
	data, _ = os.ReadFile(path)
	if string(data) != "x bar x" {
		t.Fatalf("data = %q", data)
	}
}

func TestEditToolRejectsBadArguments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "f.txt", "hello world")
	tool := NewEditTool(dir)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"identical", map[string]any{"file_path": "f.txt", "old_string": "hello", "new_string": "hello"}, "identical"},
		{"empty old", map[string]any{"file_path": "f.txt", "old_string": "", "new_string": "x"}, "must not be empty"},
		{"not found", map[string]any{"file_path": "f.txt", "old_string": "absent", "new_string": "x"}, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Execute(context.Background(), "c1", tt.args, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestEditToolDiffOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n")
	tool := NewEditTool(dir)

	result, err := tool.Execute(context.Background(), "c1", map[string]any{
		"file_path":  "main.go",
		"old_string": `println("hello")`,
		"new_string": `println("world")`,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	text := textOf(t, result)
	if !strings.Contains(text, `-	println("hello")`) || !strings.Contains(text, `+	println("world")`) {
		t.Fatalf("diff missing change markers:\n%s", text)
	}
	if !strings.Contains(text, "@@") {
		t.Fatalf("diff missing hunk header:\n%s", text)
	}
}

// ---------- bash ----------

func TestBashToolStdout(t *testing.T) {
	tool := NewBashTool(t.TempDir())
	result, err := tool.Execute(context.Background(), "c1", map[string]any{"command": "echo hello"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := textOf(t, result); !strings.Contains(got, "hello") {
		t.Fatalf("text = %q", got)
	}
	details := result.Details.(map[string]any)
	if details["exitCode"] != 0 {
		t.Fatalf("exitCode = %v", details["exitCode"])
	}
}

func TestBashToolStderrSection(t *testing.T) {
	tool := NewBashTool(t.TempDir())
	result, err := tool.Execute(context.Background(), "c1",
		map[string]any{"command": "echo out; echo err 1>&2"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	text := textOf(t, result)
	if !strings.Contains(text, "out") || !strings.Contains(text, "STDERR:\nerr") {
		t.Fatalf("text = %q", text)
	}
}

func TestBashToolExitCodeOnly(t *testing.T) {
	tool := NewBashTool(t.TempDir())
	result, err := tool.Execute(context.Background(), "c1", map[string]any{"command": "exit 3"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := textOf(t, result); got != "Exit code: 3" {
		t.Fatalf("text = %q", got)
	}
}

func TestBashToolCancellation(t *testing.T) {
	tool := NewBashTool(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := tool.Execute(ctx, "c1", map[string]any{"command": "sleep 10"}, nil)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancel took %v", elapsed)
	}
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "cancelled") {
		t.Fatalf("err = %v", err)
	}
}

func TestBashToolTimeout(t *testing.T) {
	tool := NewBashTool(t.TempDir())
	start := time.Now()
	result, err := tool.Execute(context.Background(), "c1",
		map[string]any{"command": "sleep 10", "timeout": float64(100)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not enforced")
	}
	if !strings.Contains(textOf(t, result), "timed out") {
		t.Fatalf("text = %q", textOf(t, result))
	}
}

func TestBashToolRunsInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	tool := NewBashTool(dir)
	result, err := tool.Execute(context.Background(), "c1", map[string]any{"command": "pwd"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.TrimSpace(textOf(t, result))
	resolved, _ := filepath.EvalSymlinks(dir)
	if got != dir && got != resolved {
		t.Fatalf("pwd = %q, want %q", got, dir)
	}
}

// ---------- grep ----------

func TestGrepToolMatchFormat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/a.go", "package a\nfunc Alpha() {}\n")
	writeFile(t, dir, "src/b.go", "package b\nfunc Beta() {}\n")

	tool := NewGrepTool(dir)
	result, err := tool.Execute(context.Background(), "c1", map[string]any{"pattern": "func"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	text := textOf(t, result)
	if !strings.Contains(text, "src/a.go:2: func Alpha() {}") {
		t.Fatalf("text = %q", text)
	}
	if !strings.Contains(text, "src/b.go:2: func Beta() {}") {
		t.Fatalf("text = %q", text)
	}
}

func TestGrepToolContextLines(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "f.txt", "one\ntwo\nthree\nfour\n")

	tool := NewGrepTool(dir)
	result, err := tool.Execute(context.Background(), "c1",
		map[string]any{"pattern": "three", "context": float64(1)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	text := textOf(t, result)
	if !strings.Contains(text, "f.txt-2- two") || !strings.Contains(text, "f.txt:3: three") ||
		!strings.Contains(text, "f.txt-4- four") {
		t.Fatalf("text = %q", text)
	}
}

func TestGrepToolSkipsIgnoredAndBinary(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "vendor/\n")
	writeFile(t, dir, "vendor/dep.go", "func Hidden() {}\n")
	writeFile(t, dir, "node_modules/x.js", "func nope() {}\n")
	writeFile(t, dir, ".git/config", "func git() {}\n")
	writeFile(t, dir, "blob.png", "func binary() {}\n")
	writeFile(t, dir, "keep.go", "func Keep() {}\n")

	tool := NewGrepTool(dir)
	result, err := tool.Execute(context.Background(), "c1", map[string]any{"pattern": "func"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	text := textOf(t, result)
	if !strings.Contains(text, "keep.go") {
		t.Fatalf("missing keep.go: %q", text)
	}
	for _, forbidden := range []string{"vendor", "node_modules", ".git/config", "blob.png"} {
		if strings.Contains(text, forbidden) {
			t.Fatalf("should skip %s: %q", forbidden, text)
		}
	}
}

func TestGrepToolLiteralAndCase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "f.txt", "a.b\naXb\nA.B\n")

	tool := NewGrepTool(dir)
	result, err := tool.Execute(context.Background(), "c1",
		map[string]any{"pattern": "a.b", "literal": true, "ignoreCase": true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	text := textOf(t, result)
	if !strings.Contains(text, "f.txt:1:") || !strings.Contains(text, "f.txt:3:") {
		t.Fatalf("text = %q", text)
	}
	if strings.Contains(text, "aXb") {
		t.Fatalf("literal dot matched X: %q", text)
	}
}

func TestGrepToolLimit(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("match\n")
	}
	writeFile(t, dir, "f.txt", b.String())

	tool := NewGrepTool(dir)
	result, err := tool.Execute(context.Background(), "c1",
		map[string]any{"pattern": "match", "limit": float64(5)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(textOf(t, result), "5 matches limit reached") {
		t.Fatalf("text = %q", textOf(t, result))
	}
}

func TestGrepToolNoMatches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "f.txt", "nothing here\n")
	tool := NewGrepTool(dir)
	result, err := tool.Execute(context.Background(), "c1", map[string]any{"pattern": "zzz"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if textOf(t, result) != "No matches found" {
		t.Fatalf("text = %q", textOf(t, result))
	}
}

// ---------- ls ----------

func TestLsTool(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "b")
	writeFile(t, dir, "A.txt", "a")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	tool := NewLsTool(dir)
	result, err := tool.Execute(context.Background(), "c1", map[string]any{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	text := textOf(t, result)
	lines := strings.Split(text, "\n")
	if len(lines) != 3 || lines[0] != "A.txt" || lines[1] != "b.txt" || lines[2] != "sub/" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestLsToolLimit(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 10; i++ {
		writeFile(t, dir, "f"+strconv.Itoa(i)+".txt", "x")
	}
	tool := NewLsTool(dir)
	result, err := tool.Execute(context.Background(), "c1", map[string]any{"limit": float64(3)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(textOf(t, result), "3 entries limit reached") {
		t.Fatalf("text = %q", textOf(t, result))
	}
}

func TestLsToolNotADirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "f.txt", "x")
	tool := NewLsTool(dir)
	_, err := tool.Execute(context.Background(), "c1", map[string]any{"path": "f.txt"}, nil)
	if err == nil || !strings.Contains(err.Error(), "Not a directory") {
		t.Fatalf("err = %v", err)
	}
}

// ---------- validation ----------

func TestValidateArguments(t *testing.T) {
	def := Definition{
		Name: "search",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "number"},
			},
			"required": []any{"query"},
		},
	}

	if err := ValidateArguments(def, map[string]any{"query": "go"}); err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}

	err := ValidateArguments(def, map[string]any{"limit": "not a number"})
	if err == nil {
		t.Fatal("invalid args accepted")
	}
	message := err.Error()
	if !strings.Contains(message, "Validation failed for tool") {
		t.Fatalf("message = %q", message)
	}
	if !strings.Contains(message, "Received arguments") {
		t.Fatalf("message should include received arguments: %q", message)
	}
}

func TestValidateArgumentsEmptySchema(t *testing.T) {
	def := Definition{Name: "anything"}
	if err := ValidateArguments(def, map[string]any{"whatever": true}); err != nil {
		t.Fatalf("nil schema should accept anything: %v", err)
	}
	def.Parameters = map[string]any{}
	if err := ValidateArguments(def, map[string]any{"whatever": true}); err != nil {
		t.Fatalf("empty schema should accept anything: %v", err)
	}
}

func TestValidateArgumentsFailsClosed(t *testing.T) {
	def := Definition{
		Name: "broken",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"x": map[string]any{"type": "no-such-type"}},
		},
	}
	err := ValidateArguments(def, map[string]any{"x": 1})
	if err == nil {
		t.Fatal("schema compile failure must reject the call")
	}
}
