package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jarvis-run/turnengine/internal/tool"
)

// EditTool implements edit(filePath, oldString, newString, replaceAll?):
// an exact-then-fuzzy single-file string replacement.
type EditTool struct{}

func NewEditTool() *EditTool { return &EditTool{} }

type editArgs struct {
	FilePath   string `json:"filePath"`
	OldString  string `json:"oldString"`
	NewString  string `json:"newString"`
	ReplaceAll bool   `json:"replaceAll"`
}

func (t *EditTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "edit",
		Description: "Replace an exact string occurrence in a file. Fails if oldString is not found or is ambiguous unless replaceAll is set.",
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"filePath", "oldString", "newString"},
			"properties": map[string]any{
				"filePath":   map[string]any{"type": "string"},
				"oldString":  map[string]any{"type": "string"},
				"newString":  map[string]any{"type": "string"},
				"replaceAll": map[string]any{"type": "boolean"},
			},
		},
	}
}

func (t *EditTool) Preview(args json.RawMessage) string {
	var a editArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	return a.FilePath
}

func (t *EditTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	var a editArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Output{}, tool.NewError(tool.ErrValidation, err.Error())
	}
	if a.FilePath == "" || a.OldString == "" {
		return tool.Output{}, tool.NewError(tool.ErrValidation, "filePath and oldString are required")
	}
	if a.OldString == a.NewString {
		return tool.Output{}, tool.NewError(tool.ErrValidation, "oldString and newString must differ")
	}
	if IsSensitiveFile(a.FilePath) {
		return tool.Output{}, tool.Errorf(tool.ErrPermissionDenied, "Cannot edit sensitive file: %s", a.FilePath)
	}

	data, err := readFileVia(ctx, tc, a.FilePath)
	if err != nil {
		return tool.Output{}, tool.Errorf(tool.ErrFileNotFound, "File not found: %s", a.FilePath)
	}
	content := string(data)

	newContent, count, err := applyEdit(content, a.OldString, a.NewString, a.ReplaceAll)
	if err != nil {
		return tool.Output{}, err
	}

	if tc != nil && tc.Snapshot != nil {
		tc.Snapshot.Capture(tc.SessionID, tc.MessageID, "edit", a.FilePath, data)
	}

	if err := writeFileVia(ctx, tc, a.FilePath, []byte(newContent)); err != nil {
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "write error: %v", err)
	}

	return tool.Output{
		Title:    fmt.Sprintf("Edited %s", a.FilePath),
		Output:   fmt.Sprintf("Replaced %d occurrence(s) in %s", count, a.FilePath),
		Metadata: map[string]any{"path": a.FilePath, "replacements": count},
	}, nil
}

// applyEdit runs the exact-then-fuzzy match pipeline, returning the new
// file content and the number of replacements made.
func applyEdit(content, oldString, newString string, replaceAll bool) (string, int, *tool.Error) {
	count := countOccurrences(content, oldString)
	if count == 0 {
		match, ok := findFuzzyMatch(content, oldString)
		if !ok {
			return "", 0, tool.Errorf(tool.ErrValidation, "oldString not found in file (tried exact and fuzzy matching)")
		}
		return applyReplacement(content, match.Start, match.End, newString), 1, nil
	}
	if count > 1 && !replaceAll {
		return "", 0, tool.Errorf(tool.ErrValidation, "oldString occurs %d times; set replaceAll or provide more context", count)
	}
	if replaceAll {
		return strings.ReplaceAll(content, oldString, newString), count, nil
	}
	offsets := findAllOccurrences(content, oldString)
	return applyReplacement(content, offsets[0], offsets[0]+len(oldString), newString), 1, nil
}
