package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jarvis-run/turnengine/internal/tool"
)

// PatchTool implements patch(patchText): a custom sentinel-delimited
// multi-file patch format supporting file add, delete, update (with
// contextual hunks), and move.
type PatchTool struct{}

func NewPatchTool() *PatchTool { return &PatchTool{} }

type patchArgs struct {
	PatchText string `json:"patchText"`
}

func (t *PatchTool) Spec() tool.Spec {
	return tool.Spec{
		Name: "patch",
		Description: `Apply a patch to one or more files.

The patch format supports:
- Adding new files
- Deleting files
- Updating existing files with contextual changes
- Moving/renaming files

Patch Format:
` + "```" + `
*** Begin Patch
*** Add File: path/to/new/file.ts
+line 1
+line 2

*** Delete File: path/to/delete.ts

*** Update File: path/to/existing.ts
*** Move to: path/to/new/location.ts
@@ context line to find location
 unchanged line (for context)
-line to remove
+line to add

*** End Patch
` + "```" + `

Guidelines:
- Use @@ to specify context for finding the change location
- Lines starting with + are added
- Lines starting with - are removed
- Lines starting with space are unchanged context
- Multiple chunks can be in one Update File section`,
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"patchText"},
			"properties": map[string]any{
				"patchText": map[string]any{
					"type":        "string",
					"description": "The full patch text that describes all changes to be made",
				},
			},
		},
	}
}

func (t *PatchTool) Preview(args json.RawMessage) string {
	var a patchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	lines := strings.Count(a.PatchText, "\n")
	return fmt.Sprintf("%d line patch", lines)
}

// hunkKind distinguishes the three patch operations a hunk may describe.
type hunkKind int

const (
	hunkAdd hunkKind = iota
	hunkDelete
	hunkUpdate
)

type updateChunk struct {
	context     string
	hasContext  bool
	oldLines    []string
	newLines    []string
	isEndOfFile bool
}

type hunk struct {
	kind     hunkKind
	path     string
	contents string // hunkAdd only
	moveTo   string // hunkUpdate only
	chunks   []updateChunk
}

func (t *PatchTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	var a patchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Output{}, tool.NewError(tool.ErrValidation, err.Error())
	}

	hunks, perr := parsePatch(a.PatchText)
	if perr != nil {
		return tool.Output{}, perr
	}
	if len(hunks) == 0 {
		return tool.Output{}, tool.NewError(tool.ErrValidation, "No valid hunks found in patch")
	}

	var results []string
	var filesModified, filesAdded, filesDeleted, totalAdditions, totalDeletions int

	for _, h := range hunks {
		switch h.kind {
		case hunkAdd:
			if tc != nil && tc.Snapshot != nil {
				tc.Snapshot.Capture(tc.SessionID, tc.MessageID, "patch: add file", h.path, nil)
			}
			if err := writeFileVia(ctx, tc, h.path, []byte(h.contents)); err != nil {
				return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "Failed to write file %s: %v", h.path, err)
			}
			lines := countLines(h.contents)
			totalAdditions += lines
			filesAdded++
			results = append(results, fmt.Sprintf("Added: %s (+%d lines)", h.path, lines))

		case hunkDelete:
			exists, err := pathExistsVia(ctx, tc, h.path)
			if err != nil {
				return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "%v", err)
			}
			if !exists {
				results = append(results, fmt.Sprintf("Skipped delete (not found): %s", h.path))
				continue
			}
			oldContent, _ := readFileVia(ctx, tc, h.path)
			lines := countLines(string(oldContent))
			totalDeletions += lines
			if tc != nil && tc.Snapshot != nil {
				tc.Snapshot.Capture(tc.SessionID, tc.MessageID, "patch: delete file", h.path, oldContent)
			}
			if err := removeFileVia(ctx, tc, h.path); err != nil {
				return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "Failed to delete file %s: %v", h.path, err)
			}
			filesDeleted++
			results = append(results, fmt.Sprintf("Deleted: %s (-%d lines)", h.path, lines))

		case hunkUpdate:
			exists, err := pathExistsVia(ctx, tc, h.path)
			if err != nil {
				return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "%v", err)
			}
			if !exists {
				return tool.Output{}, tool.Errorf(tool.ErrFileNotFound, "File not found: %s", h.path)
			}

			oldContentB, err := readFileVia(ctx, tc, h.path)
			if err != nil {
				return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "Failed to read file %s: %v", h.path, err)
			}
			oldContent := string(oldContentB)

			if tc != nil && tc.Snapshot != nil {
				tc.Snapshot.Capture(tc.SessionID, tc.MessageID, "patch: update file", h.path, oldContentB)
			}

			newContent, aerr := applyChunks(oldContent, h.chunks)
			if aerr != nil {
				return tool.Output{}, aerr
			}

			additions, deletions := countChanges(oldContent, newContent)
			totalAdditions += additions
			totalDeletions += deletions

			if h.moveTo != "" {
				if err := writeFileVia(ctx, tc, h.moveTo, []byte(newContent)); err != nil {
					return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "Failed to write file %s: %v", h.moveTo, err)
				}
				if err := removeFileVia(ctx, tc, h.path); err != nil {
					return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "Failed to delete old file %s: %v", h.path, err)
				}
				results = append(results, fmt.Sprintf("Moved: %s -> %s (+%d -%d lines)", h.path, h.moveTo, additions, deletions))
			} else {
				if err := writeFileVia(ctx, tc, h.path, []byte(newContent)); err != nil {
					return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "Failed to write file %s: %v", h.path, err)
				}
				results = append(results, fmt.Sprintf("Updated: %s (+%d -%d lines)", h.path, additions, deletions))
			}
			filesModified++
		}
	}

	summary := fmt.Sprintf("%d file(s) modified, %d added, %d deleted (+%d -%d)",
		filesModified, filesAdded, filesDeleted, totalAdditions, totalDeletions)
	output := summary + "\n\n" + strings.Join(results, "\n")

	return tool.Output{
		Title:  "Patch applied",
		Output: output,
		Metadata: map[string]any{
			"files_modified": filesModified,
			"files_added":    filesAdded,
			"files_deleted":  filesDeleted,
			"additions":      totalAdditions,
			"deletions":      totalDeletions,
		},
	}, nil
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(s, "\n"), "\n") + 1
}

// removeFileVia deletes path through tc.Sandbox when present, else on the
// host directly.
func removeFileVia(ctx context.Context, tc *tool.Context, path string) error {
	if tc != nil && tc.Sandbox != nil {
		_, _, _, err := tc.Sandbox.Execute(ctx, fmt.Sprintf("rm -f %q", tc.Sandbox.ToSandboxPath(path)), "")
		return err
	}
	return removeHostFile(path)
}

// --- parsing ---

type chunkBuilder struct {
	context     string
	hasContext  bool
	oldLines    []string
	newLines    []string
	isEndOfFile bool
}

type hunkBuilder struct {
	path    string
	moveTo  string
	chunks  []updateChunk
	current *chunkBuilder
}

func (b *hunkBuilder) startChunk(context string, hasContext bool) {
	b.finalizeCurrent()
	b.current = &chunkBuilder{context: context, hasContext: hasContext}
}

func (b *hunkBuilder) finalizeCurrent() {
	if b.current != nil {
		b.chunks = append(b.chunks, updateChunk{
			context:     b.current.context,
			hasContext:  b.current.hasContext,
			oldLines:    b.current.oldLines,
			newLines:    b.current.newLines,
			isEndOfFile: b.current.isEndOfFile,
		})
		b.current = nil
	}
}

func (b *hunkBuilder) addOldLine(line string) {
	if b.current == nil {
		b.current = &chunkBuilder{}
	}
	b.current.oldLines = append(b.current.oldLines, line)
}

func (b *hunkBuilder) addNewLine(line string) {
	if b.current == nil {
		b.current = &chunkBuilder{}
	}
	b.current.newLines = append(b.current.newLines, line)
}

func (b *hunkBuilder) addContextLine(line string) {
	if b.current == nil {
		return
	}
	b.current.oldLines = append(b.current.oldLines, line)
	b.current.newLines = append(b.current.newLines, line)
}

func (b *hunkBuilder) build() hunk {
	b.finalizeCurrent()
	return hunk{kind: hunkUpdate, path: b.path, moveTo: b.moveTo, chunks: b.chunks}
}

// parsePatch tokenizes a patch document into an ordered list of hunks
// in a single line-oriented pass.
func parsePatch(text string) ([]hunk, *tool.Error) {
	var hunks []hunk
	var current *hunkBuilder

	rawLines := strings.Split(text, "\n")
	i := 0
	for i < len(rawLines) {
		line := strings.TrimRight(rawLines[i], " \t\r")

		if line == "" || line == "*** Begin Patch" || line == "*** End Patch" || line == "```" {
			i++
			continue
		}

		if path, ok := strings.CutPrefix(line, "*** Add File: "); ok {
			if current != nil {
				hunks = append(hunks, current.build())
				current = nil
			}
			i++
			var contentsBuilder strings.Builder
			for i < len(rawLines) {
				next := rawLines[i]
				if strings.HasPrefix(next, "*** ") {
					break
				}
				if content, ok := strings.CutPrefix(next, "+"); ok {
					contentsBuilder.WriteString(content)
					contentsBuilder.WriteByte('\n')
				}
				i++
			}
			hunks = append(hunks, hunk{kind: hunkAdd, path: strings.TrimSpace(path), contents: contentsBuilder.String()})
			continue
		}

		if path, ok := strings.CutPrefix(line, "*** Delete File: "); ok {
			if current != nil {
				hunks = append(hunks, current.build())
				current = nil
			}
			hunks = append(hunks, hunk{kind: hunkDelete, path: strings.TrimSpace(path)})
			i++
			continue
		}

		if path, ok := strings.CutPrefix(line, "*** Update File: "); ok {
			if current != nil {
				hunks = append(hunks, current.build())
			}
			current = &hunkBuilder{path: strings.TrimSpace(path)}
			i++
			continue
		}

		if path, ok := strings.CutPrefix(line, "*** Move to: "); ok {
			if current != nil {
				current.moveTo = strings.TrimSpace(path)
			}
			i++
			continue
		}

		if line == "*** End of File" {
			if current != nil && current.current != nil {
				current.current.isEndOfFile = true
			}
			i++
			continue
		}

		if context, ok := strings.CutPrefix(line, "@@ "); ok {
			if current != nil {
				current.startChunk(context, true)
			}
			i++
			continue
		}

		if line == "@@" {
			if current != nil {
				current.startChunk("", false)
			}
			i++
			continue
		}

		if current != nil {
			if removed, ok := strings.CutPrefix(line, "-"); ok {
				current.addOldLine(removed)
			} else if added, ok := strings.CutPrefix(line, "+"); ok {
				current.addNewLine(added)
			} else if strings.HasPrefix(line, " ") || line == "" {
				content := strings.TrimPrefix(line, " ")
				current.addContextLine(content)
			}
		}
		i++
	}

	if current != nil {
		hunks = append(hunks, current.build())
	}

	return hunks, nil
}

// applyChunks applies every chunk of an update hunk in order.
func applyChunks(content string, chunks []updateChunk) (string, *tool.Error) {
	result := content
	for _, c := range chunks {
		var err *tool.Error
		result, err = applyChunk(result, c)
		if err != nil {
			return "", err
		}
	}
	return result, nil
}

// applyChunk locates a chunk's anchor (context line, end-of-file marker,
// or matching old_lines run) and splices in its new_lines.
func applyChunk(content string, chunk updateChunk) (string, *tool.Error) {
	trailingNewline := strings.HasSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	if trailingNewline && len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var startIdx int
	found := false

	switch {
	case chunk.hasContext:
		for idx, l := range lines {
			if strings.Contains(l, chunk.context) {
				startIdx = idx + 1
				found = true
				break
			}
		}
		// The old lines are searched from the context line on; a chunk
		// with no old lines is inserted right after the context line.
		if found && len(chunk.oldLines) > 0 {
			var offset int
			offset, found = findMatchingLines(lines[startIdx-1:], chunk.oldLines)
			startIdx += offset - 1
		}
	case chunk.isEndOfFile:
		startIdx = len(lines)
		found = true
	default:
		if idx, ok := findMatchingLines(lines, chunk.oldLines); ok {
			startIdx = idx
			found = true
		}
	}

	if !found {
		var first string
		if len(chunk.oldLines) > 0 {
			first = chunk.oldLines[0]
		}
		return "", tool.Errorf(tool.ErrExecutionFailed, "Could not find location to apply chunk. Context: %q, Old line: %q", chunk.context, first)
	}

	var newLines []string
	newLines = append(newLines, lines[:startIdx]...)
	newLines = append(newLines, chunk.newLines...)

	skipCount := len(chunk.oldLines)
	remaining := len(lines) - startIdx
	if skipCount > remaining {
		skipCount = remaining
	}
	afterIdx := startIdx + skipCount
	newLines = append(newLines, lines[afterIdx:]...)

	out := strings.Join(newLines, "\n")
	if trailingNewline {
		out += "\n"
	}
	return out, nil
}

// findMatchingLines locates a run of lines matching chunk.oldLines by
// substring-or-exact match on the first line, then exact match for the
// remainder.
func findMatchingLines(lines []string, oldLines []string) (int, bool) {
	if len(oldLines) == 0 {
		return 0, false
	}
	first := oldLines[0]
	for idx, l := range lines {
		if l != first && !strings.Contains(l, first) {
			continue
		}
		matches := true
		for offset, old := range oldLines[1:] {
			pos := idx + offset + 1
			if pos >= len(lines) || lines[pos] != old {
				matches = false
				break
			}
		}
		if matches {
			return idx, true
		}
	}
	return 0, false
}

// countChanges counts added/removed lines between two line-based texts
// as the lines of each text that fall outside a longest common
// subsequence of the two.
func countChanges(oldContent, newContent string) (additions, deletions int) {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")
	lcs := lcsLength(oldLines, newLines)
	deletions = len(oldLines) - lcs
	additions = len(newLines) - lcs
	return
}

func lcsLength(a, b []string) int {
	n, m := len(a), len(b)
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[m]
}
