// Package builtin implements the registry's built-in tools (C5):
// read, write, edit, multiedit, patch, bash, grep, webfetch, todo_write,
// todo_read, and the supplemented glob tool.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jarvis-run/turnengine/internal/tool"
	"github.com/sahilm/fuzzy"
)

// readFileVia reads path through tc.Sandbox when present, otherwise
// directly from the host filesystem ("filesystem/exec
// tools MUST route through it" when a sandbox is set).
func readFileVia(ctx context.Context, tc *tool.Context, path string) ([]byte, error) {
	if tc != nil && tc.Sandbox != nil {
		sbPath := tc.Sandbox.ToSandboxPath(path)
		exists, err := tc.Sandbox.PathExists(ctx, sbPath)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, os.ErrNotExist
		}
		return tc.Sandbox.ReadFile(ctx, sbPath)
	}
	return os.ReadFile(path)
}

// writeFileVia writes path atomically (temp file + rename) on the host,
// or through the sandbox's base64-streaming write when sandboxed.
func writeFileVia(ctx context.Context, tc *tool.Context, path string, data []byte) error {
	if tc != nil && tc.Sandbox != nil {
		return tc.Sandbox.WriteFile(ctx, tc.Sandbox.ToSandboxPath(path), data)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// removeHostFile deletes a file directly from the host filesystem.
func removeHostFile(path string) error {
	return os.Remove(path)
}

// pathExistsVia checks existence through the sandbox when present.
func pathExistsVia(ctx context.Context, tc *tool.Context, path string) (bool, error) {
	if tc != nil && tc.Sandbox != nil {
		return tc.Sandbox.PathExists(ctx, tc.Sandbox.ToSandboxPath(path))
	}
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// OutputLimits bounds a tool's returned text via a config-driven
// truncation budget.
type OutputLimits struct {
	MaxLines int
	MaxBytes int64
}

func DefaultOutputLimits() OutputLimits {
	return OutputLimits{MaxLines: 2000, MaxBytes: 256 * 1024}
}

// sensitiveFiles is the fixed denylist of paths tools refuse to read or write.
var sensitiveFiles = []string{
	".env", ".env.local", ".env.development", ".env.production", ".env.staging", ".env.test",
	"credentials.json", "secrets.json", "secrets.yaml", "secrets.yml",
	".npmrc", ".pypirc", ".netrc",
	".aws/credentials",
	".ssh/id_rsa", ".ssh/id_ed25519", ".ssh/id_dsa",
}

// IsSensitiveFile reports whether path matches the fixed denylist, by
// filename-equality or path-suffix match; any ".env.*" filename also
// matches.
func IsSensitiveFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".env.") {
		return true
	}
	slashed := filepath.ToSlash(path)
	for _, pattern := range sensitiveFiles {
		if base == pattern || slashed == pattern || strings.HasSuffix(slashed, "/"+pattern) {
			return true
		}
	}
	return false
}

const maxFileSize = 10 * 1024 * 1024 // 10 MiB

// IsBinaryContent detects binary content by scanning for a null byte in
// the first 8 KiB.
func IsBinaryContent(data []byte) bool {
	n := len(data)
	if n > 8192 {
		n = 8192
	}
	for _, b := range data[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}

// SuggestSimilarFile lists path's parent directory and fuzzy-ranks its
// entries against the requested filename (github.com/sahilm/fuzzy) for
// a "did you mean" suggestion. A candidate is only offered when its
// score clears len(filename)/3, so a wildly dissimilar directory
// listing never produces a spurious suggestion.
func SuggestSimilarFile(path string) string {
	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	matches := fuzzy.Find(filename, names)
	if len(matches) == 0 || matches[0].Score <= len(filename)/3 {
		return ""
	}
	return filepath.Join(dir, matches[0].Str)
}

// FormatToolError renders a *tool.Error the way the model sees it in a
// ToolResult's content.
func FormatToolError(err *tool.Error) string {
	return fmt.Sprintf("Error [%s]: %s", err.Type, err.Message)
}

// sortByName sorts names lexically in place. grep and glob order their
// results by mtime alone and do not call it.
func sortByName(names []string) {
	sort.Strings(names)
}
