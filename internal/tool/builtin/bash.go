package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/jarvis-run/turnengine/internal/tool"
)

// BashTool implements bash(command, description): routes
// through the sandbox when present, defaulting timeout from config and
// honoring ctx cancellation.
type BashTool struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	Limits         OutputLimits
	shellPath      string
}

func NewBashTool(defaultTimeout, maxTimeout time.Duration, limits OutputLimits) *BashTool {
	return &BashTool{
		DefaultTimeout: defaultTimeout,
		MaxTimeout:     maxTimeout,
		Limits:         limits,
		shellPath:      detectShell(),
	}
}

type bashArgs struct {
	Command        string `json:"command"`
	Description    string `json:"description,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
	WorkingDir     string `json:"workingDir,omitempty"`
}

type bashResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

func (t *BashTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "bash",
		Description: "Execute a shell command. Returns stdout, stderr, and exit code.",
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"command"},
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Short human-readable label (<=10 words) describing what this command does",
				},
				"timeoutSeconds": map[string]any{
					"type":        "integer",
					"description": "Command timeout in seconds",
				},
				"workingDir": map[string]any{
					"type":        "string",
					"description": "Working directory (defaults to current directory)",
				},
			},
		},
	}
}

func (t *BashTool) Preview(args json.RawMessage) string {
	var a bashArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	if a.Description != "" {
		return a.Description
	}
	cmd := a.Command
	if len(cmd) > 50 {
		cmd = cmd[:47] + "..."
	}
	return cmd
}

func (t *BashTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	var a bashArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Output{}, tool.NewError(tool.ErrValidation, err.Error())
	}
	if a.Command == "" {
		return tool.Output{}, tool.NewError(tool.ErrValidation, "command is required")
	}

	if tc != nil && tc.Approve != nil {
		outcome, err := tc.Approve("bash", FirstWordOf(a.Command))
		if err != nil {
			return tool.Output{}, tool.Errorf(tool.ErrPermissionDenied, "%v", err)
		}
		if outcome == tool.Deny || outcome == tool.Cancel {
			return tool.Output{}, tool.Errorf(tool.ErrPermissionDenied, "command not allowed: %s", truncateCommand(a.Command))
		}
	}

	timeout := t.DefaultTimeout
	if a.TimeoutSeconds > 0 {
		timeout = time.Duration(a.TimeoutSeconds) * time.Second
	}
	if t.MaxTimeout > 0 && timeout > t.MaxTimeout {
		timeout = t.MaxTimeout
	}

	workDir := a.WorkingDir
	if workDir == "" && tc != nil {
		workDir = tc.CWD
	}

	if tc != nil && tc.Sandbox != nil {
		return t.executeSandboxed(ctx, tc, a.Command, workDir, timeout)
	}
	return t.executeHost(ctx, a.Command, workDir, timeout)
}

func (t *BashTool) executeSandboxed(ctx context.Context, tc *tool.Context, command, workDir string, timeout time.Duration) (tool.Output, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sbWorkdir := workDir
	if sbWorkdir != "" {
		sbWorkdir = tc.Sandbox.ToSandboxPath(sbWorkdir)
	}
	stdout, stderr, exitCode, err := tc.Sandbox.Execute(execCtx, command, sbWorkdir)
	result := bashResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
	if execCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		return tool.Output{Output: formatBashResult(result, t.Limits), Metadata: map[string]any{"timed_out": true}}, nil
	}
	if err != nil {
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "command error: %v", err)
	}
	return tool.Output{Output: formatBashResult(result, t.Limits), Metadata: map[string]any{"exit_code": exitCode}}, nil
}

func (t *BashTool) executeHost(ctx context.Context, command, workDir string, timeout time.Duration) (tool.Output, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, t.shellPath, "-c", command)
	if workDir != "" {
		cmd.Dir = workDir
	}

	// Isolate stdin: tools are non-interactive.
	devNull, openErr := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if openErr == nil {
		cmd.Stdin = devNull
		defer devNull.Close()
	}

	// Own process group so exec.CommandContext can kill the whole tree on timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := bashResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if execCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		return tool.Output{Output: formatBashResult(result, t.Limits), Metadata: map[string]any{"timed_out": true}}, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "command error: %v", err)
		}
	}

	return tool.Output{Output: formatBashResult(result, t.Limits), Metadata: map[string]any{"exit_code": result.ExitCode}}, nil
}

func formatBashResult(result bashResult, limits OutputLimits) string {
	var sb strings.Builder

	stdout := result.Stdout
	stderr := result.Stderr
	truncated := false

	if limits.MaxBytes > 0 {
		if int64(len(stdout)) > limits.MaxBytes {
			stdout = stdout[:limits.MaxBytes]
			truncated = true
		}
		if int64(len(stderr)) > limits.MaxBytes {
			stderr = stderr[:limits.MaxBytes]
			truncated = true
		}
	}

	if result.TimedOut {
		sb.WriteString("[Command timed out]\n\n")
	}
	if stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if stderr != "" {
		if stdout != "" {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			sb.WriteString("\n")
		}
	}
	sb.WriteString(fmt.Sprintf("\nexit_code: %d", result.ExitCode))
	if truncated {
		sb.WriteString("\n\n[Output truncated due to size limit]")
	}
	return sb.String()
}

// detectShell returns the user's preferred shell, falling back to bash.
func detectShell() string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		return "bash"
	}
	return shell
}

func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}

// FirstWordOf returns the first whitespace-delimited token of a shell
// command, used as the approval cache's subject so "git status" and
// "git log" can share a decision without re-prompting on each variant.
func FirstWordOf(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
