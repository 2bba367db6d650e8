package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jarvis-run/turnengine/internal/tool"
)

// WriteTool implements write(filePath, content).
type WriteTool struct{}

func NewWriteTool() *WriteTool { return &WriteTool{} }

type writeArgs struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

func (t *WriteTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "write",
		Description: "Create or overwrite a file with the specified content. Creates parent directories if needed.",
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"filePath", "content"},
			"properties": map[string]any{
				"filePath": map[string]any{"type": "string", "description": "Path to the file to write"},
				"content":  map[string]any{"type": "string", "description": "Full file content to write"},
			},
		},
	}
}

func (t *WriteTool) Preview(args json.RawMessage) string {
	var a writeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	return a.FilePath
}

func (t *WriteTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	var a writeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Output{}, tool.NewError(tool.ErrValidation, err.Error())
	}
	if a.FilePath == "" {
		return tool.Output{}, tool.NewError(tool.ErrValidation, "filePath is required")
	}
	if IsSensitiveFile(a.FilePath) {
		return tool.Output{}, tool.Errorf(tool.ErrPermissionDenied, "Cannot write sensitive file: %s", a.FilePath)
	}

	if tc != nil && tc.Snapshot != nil {
		if prior, err := readFileVia(ctx, tc, a.FilePath); err == nil {
			tc.Snapshot.Capture(tc.SessionID, tc.MessageID, "write", a.FilePath, prior)
		}
	}

	if err := writeFileVia(ctx, tc, a.FilePath, []byte(a.Content)); err != nil {
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "write error: %v", err)
	}

	return tool.Output{
		Title:    fmt.Sprintf("Wrote %s", a.FilePath),
		Output:   fmt.Sprintf("File written: %s (%d bytes)", a.FilePath, len(a.Content)),
		Metadata: map[string]any{"path": a.FilePath, "bytes": len(a.Content)},
	}, nil
}
