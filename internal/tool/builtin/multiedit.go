package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jarvis-run/turnengine/internal/tool"
)

// MultiEditTool implements multiedit(edits[]): all edits are validated
// in memory first, and only written if every one validates — a failed
// call leaves every targeted file byte-identical to its pre-call state.
//
// Runs a three-phase validate -> snapshot -> write algorithm.
type MultiEditTool struct{}

func NewMultiEditTool() *MultiEditTool { return &MultiEditTool{} }

type editOperation struct {
	FilePath   string `json:"filePath"`
	OldString  string `json:"oldString"`
	NewString  string `json:"newString"`
	ReplaceAll bool   `json:"replaceAll"`
}

type multiEditArgs struct {
	Edits []editOperation `json:"edits"`
}

func (t *MultiEditTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "multiedit",
		Description: "Apply multiple file edits atomically: either every edit succeeds and is written, or none are.",
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"edits"},
			"properties": map[string]any{
				"edits": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":     "object",
						"required": []string{"filePath", "oldString", "newString"},
						"properties": map[string]any{
							"filePath":   map[string]any{"type": "string"},
							"oldString":  map[string]any{"type": "string"},
							"newString":  map[string]any{"type": "string"},
							"replaceAll": map[string]any{"type": "boolean"},
						},
					},
				},
			},
		},
	}
}

func (t *MultiEditTool) Preview(args json.RawMessage) string {
	var a multiEditArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	return fmt.Sprintf("%d edit(s)", len(a.Edits))
}

func (t *MultiEditTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	var a multiEditArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Output{}, tool.NewError(tool.ErrValidation, err.Error())
	}
	if len(a.Edits) == 0 {
		return tool.Output{}, tool.NewError(tool.ErrValidation, "edits must be non-empty")
	}

	// Group edits by file: a file may be touched by more than one edit
	// op, applied in order against an in-memory accumulator.
	order := make([]string, 0, len(a.Edits))
	opsByFile := make(map[string][]editOperation)
	for _, op := range a.Edits {
		if op.FilePath == "" || op.OldString == "" {
			return tool.Output{}, tool.NewError(tool.ErrValidation, "filePath and oldString are required for every edit")
		}
		if op.OldString == op.NewString {
			return tool.Output{}, tool.Errorf(tool.ErrValidation, "%s: oldString and newString must differ", op.FilePath)
		}
		if IsSensitiveFile(op.FilePath) {
			return tool.Output{}, tool.Errorf(tool.ErrPermissionDenied, "Cannot edit sensitive file: %s", op.FilePath)
		}
		if _, seen := opsByFile[op.FilePath]; !seen {
			order = append(order, op.FilePath)
		}
		opsByFile[op.FilePath] = append(opsByFile[op.FilePath], op)
	}

	// Phase 1: validate every edit in memory, without touching disk.
	original := make(map[string][]byte, len(order))
	pending := make(map[string]string, len(order))
	totalOps := 0
	for _, path := range order {
		data, err := readFileVia(ctx, tc, path)
		if err != nil {
			return tool.Output{}, tool.Errorf(tool.ErrFileNotFound, "File not found: %s", path)
		}
		original[path] = data
		content := string(data)
		for _, op := range opsByFile[path] {
			newContent, _, applyErr := applyEdit(content, op.OldString, op.NewString, op.ReplaceAll)
			if applyErr != nil {
				return tool.Output{}, applyErr
			}
			content = newContent
			totalOps++
		}
		pending[path] = content
	}

	// Phase 2: snapshot originals for undo, before any write.
	if tc != nil && tc.Snapshot != nil {
		for _, path := range order {
			tc.Snapshot.Capture(tc.SessionID, tc.MessageID, "multiedit", path, original[path])
		}
	}

	// Phase 3: write every file. All edits already validated above, so
	// this should not fail under normal conditions; if a write fails
	// partway through, the files already written are restored from
	// their original bytes before the error is returned.
	for i, path := range order {
		if err := writeFileVia(ctx, tc, path, []byte(pending[path])); err != nil {
			for _, done := range order[:i] {
				_ = writeFileVia(ctx, tc, done, original[done])
			}
			return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "write error for %s: %v", path, err)
		}
	}

	return tool.Output{
		Title:    fmt.Sprintf("Edited %d file(s)", len(order)),
		Output:   fmt.Sprintf("Applied %d edit(s) across %d file(s)", totalOps, len(order)),
		Metadata: map[string]any{"files": order, "edits": totalOps},
	}, nil
}
