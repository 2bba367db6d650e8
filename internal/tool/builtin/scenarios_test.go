package builtin

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarvis-run/turnengine/internal/tool"
)

// S1: sensitive-file block. read() on a denylisted file reports
// PermissionDenied and the rendered error begins with the documented
// phrase.
func TestReadBlocksSensitiveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("X=1"), 0o644); err != nil {
		t.Fatal(err)
	}

	rt := NewReadTool(DefaultOutputLimits())
	args, _ := json.Marshal(map[string]string{"filePath": path})
	_, err := rt.Execute(context.Background(), nil, args)
	if err == nil {
		t.Fatal("expected an error reading a sensitive file")
	}
	terr, ok := err.(*tool.Error)
	if !ok {
		t.Fatalf("expected *tool.Error, got %T", err)
	}
	if terr.Type != tool.ErrPermissionDenied {
		t.Fatalf("error type = %q, want %q", terr.Type, tool.ErrPermissionDenied)
	}
	rendered := FormatToolError(terr)
	wantPrefix := "Error [permission_denied]: Cannot read sensitive file"
	if len(rendered) < len(wantPrefix) || rendered[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("rendered error = %q, want prefix %q", rendered, wantPrefix)
	}
}

// S2: atomic multiedit rollback. When any edit in the batch fails
// validation, no file in the batch is written.
func TestMultiEditRollsBackOnValidationFailure(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.txt")
	bPath := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(aPath, []byte("foo"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bPath, []byte("goodbye"), 0o644); err != nil {
		t.Fatal(err)
	}

	mt := NewMultiEditTool()
	args, _ := json.Marshal(map[string]any{
		"edits": []map[string]any{
			{"filePath": aPath, "oldString": "foo", "newString": "FOO"},
			{"filePath": bPath, "oldString": "xyz", "newString": "abc"},
		},
	})

	_, err := mt.Execute(context.Background(), nil, args)
	if err == nil {
		t.Fatal("expected an error since b.txt's oldString does not match")
	}

	gotA, readErr := os.ReadFile(aPath)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if string(gotA) != "foo" {
		t.Fatalf("a.txt = %q, want unchanged %q", gotA, "foo")
	}
	gotB, readErr := os.ReadFile(bPath)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if string(gotB) != "goodbye" {
		t.Fatalf("b.txt = %q, want unchanged %q", gotB, "goodbye")
	}
}

// S4: grep respects .gitignore, excluding matches under an ignored
// directory.
func TestGrepRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte("target/\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.rs"), []byte("fn main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	targetDir := filepath.Join(root, "target")
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(targetDir, "b.rs"), []byte("fn generated() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	gt := NewGrepTool()
	args, _ := json.Marshal(map[string]string{"pattern": "fn "})
	out, err := gt.Execute(context.Background(), &tool.Context{CWD: root}, args)
	if err != nil {
		t.Fatalf("grep failed: %v", err)
	}
	if !containsSubstring(out.Output, "a.rs") {
		t.Fatalf("expected a.rs in grep output, got %q", out.Output)
	}
	if containsSubstring(out.Output, "target/b.rs") || containsSubstring(out.Output, "target"+string(filepath.Separator)+"b.rs") {
		t.Fatalf("expected target/b.rs to be excluded by .gitignore, got %q", out.Output)
	}
}

// S5: webfetch refuses to return a cross-host redirect's body, instead
// reporting the redirect so the caller can re-request explicitly.
func TestWebFetchGuardsCrossHostRedirect(t *testing.T) {
	finalURL, err := url.Parse("https://b.example/y")
	if err != nil {
		t.Fatal(err)
	}

	out, guarded := crossHostRedirectOutput("a.example", "https://a.example/x", finalURL)
	if !guarded {
		t.Fatal("expected a cross-host redirect to be guarded")
	}
	if len(out.Title) < len("Redirect to") || out.Title[:len("Redirect to")] != "Redirect to" {
		t.Fatalf("title = %q, want prefix %q", out.Title, "Redirect to")
	}
	if !containsSubstring(out.Output, "new request") {
		t.Fatalf("expected guidance to re-request, got %q", out.Output)
	}
	if out.Metadata["final_url"] != "https://b.example/y" {
		t.Fatalf("final_url metadata = %v, want https://b.example/y", out.Metadata["final_url"])
	}
}

func TestWebFetchAllowsSameHostRedirect(t *testing.T) {
	finalURL, err := url.Parse("https://a.example/y")
	if err != nil {
		t.Fatal(err)
	}

	_, guarded := crossHostRedirectOutput("a.example", "https://a.example/x", finalURL)
	if guarded {
		t.Fatal("expected a same-host redirect to pass through ungrounded")
	}
}

func containsSubstring(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
