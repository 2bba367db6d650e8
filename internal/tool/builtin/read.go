package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jarvis-run/turnengine/internal/tool"
)

// ReadTool implements read(filePath, offset?, limit=2000).
type ReadTool struct {
	limits OutputLimits
}

func NewReadTool(limits OutputLimits) *ReadTool { return &ReadTool{limits: limits} }

type readArgs struct {
	FilePath string `json:"filePath"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

func (t *ReadTool) Spec() tool.Spec {
	return tool.Spec{
		Name: "read",
		Description: `Reads a file from the local filesystem.

Usage:
- The filePath parameter must be an absolute path, not a relative path
- By default, it reads up to 2000 lines starting from the beginning of the file
- You can optionally specify a line offset and limit
- Results are returned with line numbers starting at 1`,
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"filePath"},
			"properties": map[string]any{
				"filePath": map[string]any{"type": "string", "description": "The absolute path to the file to read"},
				"offset":   map[string]any{"type": "integer", "description": "The line number to start reading from (0-based)"},
				"limit":    map[string]any{"type": "integer", "description": "The number of lines to read (defaults to 2000)"},
			},
		},
	}
}

func (t *ReadTool) Preview(args json.RawMessage) string {
	var a readArgs
	if err := json.Unmarshal(args, &a); err != nil || a.FilePath == "" {
		return ""
	}
	return a.FilePath
}

func (t *ReadTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	var a readArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Output{}, tool.NewError(tool.ErrValidation, err.Error())
	}
	if a.FilePath == "" {
		return tool.Output{}, tool.NewError(tool.ErrValidation, "filePath is required")
	}
	limit := a.Limit
	if limit <= 0 {
		limit = 2000
	}

	if IsSensitiveFile(a.FilePath) {
		return tool.Output{}, tool.Errorf(tool.ErrPermissionDenied,
			"Cannot read sensitive file: %s. This file may contain secrets or credentials.", a.FilePath)
	}

	data, err := readFileVia(ctx, tc, a.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			msg := fmt.Sprintf("File not found: %s", a.FilePath)
			if suggestion := SuggestSimilarFile(a.FilePath); suggestion != "" {
				msg += fmt.Sprintf("\n\nDid you mean: %s", suggestion)
			}
			return tool.Output{}, tool.NewError(tool.ErrFileNotFound, msg)
		}
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "read error: %v", err)
	}

	if int64(len(data)) > maxFileSize {
		return tool.Output{}, tool.Errorf(tool.ErrValidation,
			"File too large (%d bytes). Maximum allowed size is %d bytes.", len(data), maxFileSize)
	}

	if tc != nil && tc.FileTime != nil {
		tc.FileTime.RecordRead(tc.SessionID, a.FilePath)
	}

	if IsBinaryContent(data) {
		return tool.Output{
			Title:  fmt.Sprintf("Read %s", a.FilePath),
			Output: fmt.Sprintf("[Binary file: %d bytes]\n\nThis file appears to be binary and cannot be displayed as text.", len(data)),
			Metadata: map[string]any{
				"binary": true, "size": len(data), "path": a.FilePath,
			},
		}, nil
	}

	content := string(data)
	lines := strings.Split(content, "\n")
	selected := lines
	if a.Offset > 0 && a.Offset < len(lines) {
		selected = lines[a.Offset:]
	} else if a.Offset >= len(lines) {
		selected = nil
	}
	if limit < len(selected) {
		selected = selected[:limit]
	}

	var sb strings.Builder
	for i, line := range selected {
		if len(line) > 2000 {
			line = line[:2000] + "... [truncated]"
		}
		fmt.Fprintf(&sb, "%5d|\t%s\n", a.Offset+i+1, line)
	}
	output := strings.TrimSuffix(sb.String(), "\n")

	truncated := false
	if t.limits.MaxBytes > 0 && int64(len(output)) > t.limits.MaxBytes {
		output = output[:t.limits.MaxBytes]
		truncated = true
	}
	if truncated {
		output += "\n\n[Output truncated.]"
	}

	return tool.Output{
		Title:  fmt.Sprintf("Read %s", a.FilePath),
		Output: output,
		Metadata: map[string]any{
			"lines": len(selected), "offset": a.Offset, "path": a.FilePath,
		},
	}, nil
}
