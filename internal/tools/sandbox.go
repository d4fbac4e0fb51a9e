package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolvePath joins a possibly relative path with the working directory and
// normalizes it lexically. Absolute paths pass through (they still must land
// inside the root to survive IsWithin).
func ResolvePath(path, workingDir string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(workingDir, path)
	}
	return filepath.Clean(path)
}

// IsWithin reports whether path is inside root. Existing paths are
// canonicalized (symlinks resolved) and must remain under the canonical root.
// Not-yet-existing paths (write targets) canonicalize their nearest existing
// ancestor; a wholly nonexistent tree falls back to lexical containment.
func IsWithin(path, root string) bool {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		resolvedRoot = filepath.Clean(root)
	}

	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return isLexicalDescendant(resolved, resolvedRoot)
	}

	// Walk up to the nearest existing ancestor and canonicalize that.
	remainder := ""
	current := filepath.Clean(path)
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			return isLexicalDescendant(filepath.Join(resolved, filepath.Base(current), remainder), resolvedRoot)
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
	return isLexicalDescendant(filepath.Clean(path), resolvedRoot)
}

func isLexicalDescendant(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// CheckSandbox resolves path against workingDir and rejects escapes.
func CheckSandbox(path, workingDir string) (string, error) {
	resolved := ResolvePath(path, workingDir)
	if !IsWithin(resolved, workingDir) {
		return "", fmt.Errorf("Access denied: %s is outside the working directory", resolved)
	}
	return resolved, nil
}

var binaryExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "bmp": true,
	"ico": true, "webp": true, "svg": true, "mp3": true, "mp4": true,
	"wav": true, "ogg": true, "avi": true, "mov": true, "mkv": true,
	"zip": true, "tar": true, "gz": true, "bz2": true, "xz": true,
	"7z": true, "rar": true, "exe": true, "dll": true, "so": true,
	"dylib": true, "o": true, "a": true, "pdf": true, "doc": true,
	"docx": true, "xls": true, "xlsx": true, "ppt": true, "pptx": true,
	"woff": true, "woff2": true, "ttf": true, "otf": true, "eot": true,
	"class": true, "pyc": true, "pyo": true, "wasm": true,
	"sqlite": true, "db": true,
}

var imageExtensions = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
	"bmp":  "image/bmp",
	"ico":  "image/x-icon",
}

func extOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// IsLikelyBinary reports whether the file extension marks a binary format.
func IsLikelyBinary(path string) bool {
	return binaryExtensions[extOf(path)]
}

// IsImage reports whether the file extension is a known image format.
func IsImage(path string) bool {
	_, ok := imageExtensions[extOf(path)]
	return ok
}

// ImageMimeType returns the mime type for an image path, defaulting to
// application/octet-stream.
func ImageMimeType(path string) string {
	if mime, ok := imageExtensions[extOf(path)]; ok {
		return mime
	}
	return "application/octet-stream"
}
