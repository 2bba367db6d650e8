package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jarvis-run/turnengine/internal/tool"
)

const (
	grepPerFileCap = 100
	grepGlobalCap  = 1000
)

// GrepTool implements grep(pattern, path?, include?): .gitignore-aware
// regex search, capped per-file and globally, grouped by file with
// files ordered by mtime desc.
//
// Supports .gitignore/global-gitignore/.git/info/exclude exclusion
// (gitignore.go) and sandbox-aware execution.
type GrepTool struct{}

func NewGrepTool() *GrepTool { return &GrepTool{} }

type grepArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Include string `json:"include,omitempty"`
}

type grepMatch struct {
	FilePath   string
	LineNumber int
	Line       string
}

func (t *GrepTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "grep",
		Description: "Search file contents using regex patterns (RE2 syntax), respecting .gitignore.",
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"pattern"},
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string", "description": "Regular expression pattern (RE2 syntax)"},
				"path":    map[string]any{"type": "string", "description": "File or directory to search (defaults to cwd)"},
				"include": map[string]any{"type": "string", "description": "Glob filter for filenames, e.g. '*.go' or '*.{js,ts}'"},
			},
		},
	}
}

func (t *GrepTool) Preview(args json.RawMessage) string {
	var a grepArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Pattern == "" {
		return ""
	}
	pattern := a.Pattern
	if len(pattern) > 30 {
		pattern = pattern[:27] + "..."
	}
	out := fmt.Sprintf("/%s/", pattern)
	if a.Path != "" {
		out += " in " + a.Path
	}
	return out
}

func (t *GrepTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var a grepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Output{}, tool.NewError(tool.ErrValidation, err.Error())
	}
	if a.Pattern == "" {
		return tool.Output{}, tool.NewError(tool.ErrValidation, "pattern is required")
	}
	if _, err := regexp.Compile(a.Pattern); err != nil {
		return tool.Output{}, tool.Errorf(tool.ErrValidation, "invalid regex pattern: %v", err)
	}

	searchPath := a.Path
	if searchPath == "" {
		if tc != nil && tc.CWD != "" {
			searchPath = tc.CWD
		} else {
			wd, err := os.Getwd()
			if err != nil {
				return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "cannot get working directory: %v", err)
			}
			searchPath = wd
		}
	}

	if tc != nil && tc.Sandbox != nil {
		return t.executeSandboxed(ctx, tc, a, searchPath)
	}
	return t.executeHost(ctx, a, searchPath)
}

// executeSandboxed prefers `rg` inside the sandbox, falling back to
// `grep -rn`, then translates reported paths back to host paths via the
// sandbox's path mapper.
func (t *GrepTool) executeSandboxed(ctx context.Context, tc *tool.Context, a grepArgs, searchPath string) (tool.Output, error) {
	sbPath := tc.Sandbox.ToSandboxPath(searchPath)
	rgCmd := fmt.Sprintf("rg -n --max-count %d --hidden --glob '!.git' %s %q %q",
		grepPerFileCap, includeFlag(a.Include), a.Pattern, sbPath)
	stdout, _, exitCode, err := tc.Sandbox.Execute(ctx, rgCmd, "")
	if err != nil || exitCode == 127 {
		grepCmd := fmt.Sprintf("grep -rn %q %q", a.Pattern, sbPath)
		stdout, _, _, err = tc.Sandbox.Execute(ctx, grepCmd, "")
		if err != nil {
			return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "sandboxed grep failed: %v", err)
		}
	}

	matches := parsePlainGrepOutput(stdout, grepGlobalCap)
	for i := range matches {
		matches[i].FilePath = tc.Sandbox.ToHostPath(matches[i].FilePath)
	}
	if len(matches) == 0 {
		return tool.Output{Output: "No matches found."}, nil
	}
	return tool.Output{
		Output:   formatGrepMatches(matches, len(matches) >= grepGlobalCap),
		Metadata: map[string]any{"matches": len(matches)},
	}, nil
}

func includeFlag(include string) string {
	if include == "" {
		return ""
	}
	return fmt.Sprintf("--glob %q", include)
}

// parsePlainGrepOutput parses "path:lineno:text" lines from rg/grep -n.
func parsePlainGrepOutput(output string, cap int) []grepMatch {
	var matches []grepMatch
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		lineno, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		matches = append(matches, grepMatch{FilePath: parts[0], LineNumber: lineno, Line: parts[2]})
		if len(matches) >= cap {
			break
		}
	}
	return matches
}

func (t *GrepTool) executeHost(ctx context.Context, a grepArgs, searchPath string) (tool.Output, error) {
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return tool.Output{}, tool.Errorf(tool.ErrValidation, "invalid regex pattern: %v", err)
	}

	if ripgrepAvailable() {
		matches, err := executeRipgrepPlain(ctx, a.Pattern, searchPath, a.Include)
		if err == nil {
			return finishGrepHost(matches)
		}
		if ctx.Err() != nil {
			return tool.Output{Output: "grep timed out after 1 minute; try a more specific pattern or path"}, nil
		}
	}

	files, err := collectGrepFiles(searchPath, a.Include)
	if err != nil {
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "failed to collect files: %v", err)
	}
	sortGrepFilesByMtime(files)

	var matches []grepMatch
	for _, file := range files {
		if ctx.Err() != nil {
			return tool.Output{Output: "grep timed out after 1 minute; try a more specific pattern or path"}, nil
		}
		if len(matches) >= grepGlobalCap {
			break
		}
		fileMatches, err := searchGrepFile(file, re, grepPerFileCap)
		if err != nil {
			continue
		}
		remaining := grepGlobalCap - len(matches)
		if len(fileMatches) > remaining {
			fileMatches = fileMatches[:remaining]
		}
		matches = append(matches, fileMatches...)
	}

	return finishGrepHost(matches)
}

func finishGrepHost(matches []grepMatch) (tool.Output, error) {
	if len(matches) == 0 {
		return tool.Output{Output: "No matches found."}, nil
	}
	truncated := len(matches) >= grepGlobalCap
	return tool.Output{
		Output:   formatGrepMatches(matches, truncated),
		Metadata: map[string]any{"matches": len(matches)},
	}, nil
}

func ripgrepAvailable() bool {
	_, err := exec.LookPath("rg")
	return err == nil
}

func executeRipgrepPlain(ctx context.Context, pattern, searchPath, include string) ([]grepMatch, error) {
	args := []string{"-n", "--max-count", strconv.Itoa(grepPerFileCap), "--hidden", "--glob", "!.git"}
	if include != "" {
		args = append(args, "--glob", include)
	}
	args = append(args, pattern, searchPath)

	cmd := exec.CommandContext(ctx, "rg", args...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}
	return parsePlainGrepOutput(string(output), grepGlobalCap), nil
}

// collectGrepFiles walks searchPath, skipping hidden entries, symlinks,
// and anything excluded by .gitignore/.git/info/exclude/global gitignore,
// applying the optional include glob to filenames only.
func collectGrepFiles(searchPath, include string) ([]string, error) {
	info, err := os.Lstat(searchPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{searchPath}, nil
	}

	ignore := newIgnoreSet(searchPath)

	var files []string
	err = filepath.WalkDir(searchPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == searchPath {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(searchPath, path)
		if relErr != nil {
			rel = path
		}
		if ignore.Ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if include != "" {
			match, err := doublestar.Match(include, d.Name())
			if err != nil || !match {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func sortGrepFilesByMtime(files []string) {
	type fi struct {
		path  string
		mtime int64
	}
	infos := make([]fi, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			infos = append(infos, fi{path: f})
			continue
		}
		infos = append(infos, fi{path: f, mtime: info.ModTime().Unix()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].mtime > infos[j].mtime })
	for i, info := range infos {
		files[i] = info.path
	}
}

func searchGrepFile(path string, re *regexp.Regexp, maxMatches int) ([]grepMatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if IsBinaryContent(data) {
		return nil, fmt.Errorf("binary file")
	}

	var matches []grepMatch
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			matches = append(matches, grepMatch{FilePath: path, LineNumber: lineNum, Line: line})
			if len(matches) >= maxMatches {
				break
			}
		}
	}
	return matches, nil
}

// formatGrepMatches renders results grouped by file as "<path>:<lineno>:<line>",
// with files ordered by mtime desc.
func formatGrepMatches(matches []grepMatch, truncated bool) string {
	byFile := map[string][]grepMatch{}
	var order []string
	for _, m := range matches {
		if _, ok := byFile[m.FilePath]; !ok {
			order = append(order, m.FilePath)
		}
		byFile[m.FilePath] = append(byFile[m.FilePath], m)
	}
	mtimes := make(map[string]int64, len(order))
	for _, f := range order {
		if info, err := os.Stat(f); err == nil {
			mtimes[f] = info.ModTime().UnixNano()
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return mtimes[order[i]] > mtimes[order[j]] })

	var sb strings.Builder
	for i, f := range order {
		if i > 0 {
			sb.WriteString("\n")
		}
		for _, m := range byFile[f] {
			sb.WriteString(fmt.Sprintf("%s:%d:%s\n", m.FilePath, m.LineNumber, m.Line))
		}
	}
	if truncated {
		sb.WriteString("\n[Results truncated at limit]")
	}
	return strings.TrimRight(sb.String(), "\n")
}
