package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jarvis-run/turnengine/internal/tool"
)

const maxGlobResults = 200

// GlobTool implements glob(pattern, path?): find files by glob pattern,
// returning metadata sorted by modification time.
type GlobTool struct{}

func NewGlobTool() *GlobTool { return &GlobTool{} }

type globArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

type globEntry struct {
	FilePath  string
	IsDir     bool
	SizeBytes int64
	ModTime   time.Time
}

func (t *GlobTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "glob",
		Description: "Find files by glob pattern (supports ** for recursive matching). Returns file metadata sorted by modification time.",
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"pattern"},
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string", "description": "Glob pattern supporting ** for recursive matching, e.g. '**/*.go'"},
				"path":    map[string]any{"type": "string", "description": "Base directory for the search (defaults to current directory)"},
			},
		},
	}
}

func (t *GlobTool) Preview(args json.RawMessage) string {
	var a globArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Pattern == "" {
		return ""
	}
	if a.Path != "" {
		return fmt.Sprintf("%s in %s", a.Pattern, a.Path)
	}
	return a.Pattern
}

func (t *GlobTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var a globArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Output{}, tool.NewError(tool.ErrValidation, err.Error())
	}
	if a.Pattern == "" {
		return tool.Output{}, tool.NewError(tool.ErrValidation, "pattern is required")
	}

	basePath := a.Path
	if basePath == "" {
		if tc != nil && tc.CWD != "" {
			basePath = tc.CWD
		} else {
			wd, err := os.Getwd()
			if err != nil {
				return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "cannot get working directory: %v", err)
			}
			basePath = wd
		}
	}

	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "cannot resolve path: %v", err)
	}

	var entries []globEntry
	walkErr := filepath.WalkDir(absBasePath, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != absBasePath {
			return filepath.SkipDir
		}
		if strings.HasPrefix(d.Name(), ".") && path != absBasePath {
			return nil
		}
		relPath, err := filepath.Rel(absBasePath, path)
		if err != nil {
			return nil
		}
		matched, err := doublestar.Match(a.Pattern, relPath)
		if err != nil || !matched {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, globEntry{FilePath: path, IsDir: d.IsDir(), SizeBytes: info.Size(), ModTime: info.ModTime()})
		if len(entries) >= maxGlobResults {
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "walk error: %v", walkErr)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ModTime.After(entries[j].ModTime) })

	if len(entries) == 0 {
		return tool.Output{Output: "No files matched the pattern."}, nil
	}

	return tool.Output{
		Output:   formatGlobResults(entries, len(entries) >= maxGlobResults),
		Metadata: map[string]any{"matches": len(entries)},
	}, nil
}

func formatGlobResults(entries []globEntry, truncated bool) string {
	var sb strings.Builder
	for _, e := range entries {
		typeIndicator := "f"
		if e.IsDir {
			typeIndicator = "d"
		}
		sb.WriteString(fmt.Sprintf("[%s] %s  %s  %s\n", typeIndicator, formatGlobSize(e.SizeBytes), e.ModTime.Format("2006-01-02 15:04"), e.FilePath))
	}
	if truncated {
		sb.WriteString(fmt.Sprintf("\n[Results truncated at %d files]", maxGlobResults))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func formatGlobSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%4dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%4.0f%c", float64(bytes)/float64(div), "KMGTPE"[exp])
}
