// Package container is a reference Runtime backed by Podman. It
// demonstrates the container sandbox variant; the core module has no
// dependency on it, since concrete sandbox backends are out of scope
// for the engine itself.
package container

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jarvis-run/turnengine/internal/sandbox"
)

// defaultEnv matches podman.rs's deterministic environment: a non-
// interactive terminal, no ANSI color, and git prompts disabled so
// tool-invoked git operations never block on a credential prompt.
var defaultEnv = []string{"TERM=dumb", "NO_COLOR=1", "GIT_TERMINAL_PROMPT=0"}

// Runtime drives a single Podman container as the sandboxed filesystem
// and exec environment.
type Runtime struct {
	projectPath string
	image       string
	name        string
	mapper      sandbox.PathMapper
	started     bool

	PidsLimit int // 0 = unlimited
}

// New derives a container name deterministically from the project path
// so repeated runs against the same project reuse (or recreate) the
// same container identity, matching podman.rs's naming scheme.
func New(projectPath, image string) *Runtime {
	h := sha256.Sum256([]byte(projectPath))
	name := "turnengine-" + hex.EncodeToString(h[:8])
	return &Runtime{
		projectPath: projectPath,
		image:       image,
		name:        name,
		mapper:      sandbox.PathMapper{HostRoot: projectPath, SandboxRoot: "/workspace"},
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	args := []string{
		"run", "-d", "--name", r.name,
		"-v", fmt.Sprintf("%s:/workspace:rw", r.projectPath),
		"-w", "/workspace",
	}
	for _, e := range defaultEnv {
		args = append(args, "-e", e)
	}
	if r.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(r.PidsLimit))
	}
	args = append(args, r.image, "sleep", "infinity")

	if err := exec.CommandContext(ctx, "podman", args...).Run(); err != nil {
		return sandbox.NewError(sandbox.ErrStartFailed, err.Error())
	}
	r.started = true
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	if !r.started {
		return nil
	}
	_ = exec.CommandContext(ctx, "podman", "rm", "-f", r.name).Run()
	r.started = false
	return nil
}

func (r *Runtime) IsReady(ctx context.Context) bool {
	out, err := exec.CommandContext(ctx, "podman", "inspect", "-f", "{{.State.Running}}", r.name).Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

func (r *Runtime) requireReady() error {
	if !r.started {
		return sandbox.NewError(sandbox.ErrNotRunning, "sandbox not started")
	}
	return nil
}

func (r *Runtime) Execute(ctx context.Context, cmd, workdir string, timeout time.Duration, caps sandbox.ExecCaps) (sandbox.ExecResult, error) {
	if err := r.requireReady(); err != nil {
		return sandbox.ExecResult{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"exec", "-w", workdir, r.name, "/bin/sh", "-c", cmd}
	out, err := exec.CommandContext(cctx, "podman", args...).CombinedOutput()
	if cctx.Err() == context.DeadlineExceeded {
		return sandbox.ExecResult{}, sandbox.NewError(sandbox.ErrTimeout, "command timed out")
	}
	exitCode := 0
	success := err == nil
	if ee, ok := err.(*exec.ExitError); ok {
		exitCode = ee.ExitCode()
	}
	return sandbox.ExecResult{Stdout: string(out), ExitCode: exitCode, Success: success}, nil
}

// WriteFile uses base64 streaming through exec rather than `podman cp`,
// so the same Execute path is exercised for both text and binary
// payloads.
func (r *Runtime) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := r.requireReady(); err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	cmd := fmt.Sprintf("echo '%s' | base64 -d > '%s'", encoded, shellEscape(path))
	res, err := r.Execute(ctx, cmd, "/workspace", 30*time.Second, sandbox.ExecCaps{})
	if err != nil {
		return err
	}
	if !res.Success {
		return sandbox.NewError(sandbox.ErrCreateFailed, res.Stderr)
	}
	return nil
}

func (r *Runtime) ReadFile(ctx context.Context, path string) ([]byte, error) {
	res, err := r.Execute(ctx, "cat '"+shellEscape(path)+"'", "/workspace", 30*time.Second, sandbox.ExecCaps{})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, sandbox.NewError(sandbox.ErrExecFailed, res.Stderr)
	}
	return []byte(res.Stdout), nil
}

func (r *Runtime) PathExists(ctx context.Context, path string) (bool, error) {
	res, err := r.Execute(ctx, "test -e '"+shellEscape(path)+"'", "/workspace", 10*time.Second, sandbox.ExecCaps{})
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

func (r *Runtime) Metadata(ctx context.Context, path string) (sandbox.Metadata, error) {
	res, err := r.Execute(ctx, fmt.Sprintf("stat -c '%%s %%F' '%s'", shellEscape(path)), "/workspace", 10*time.Second, sandbox.ExecCaps{})
	if err != nil || !res.Success {
		return sandbox.Metadata{}, sandbox.NewError(sandbox.ErrExecFailed, "stat failed")
	}
	fields := strings.Fields(strings.TrimSpace(res.Stdout))
	if len(fields) < 2 {
		return sandbox.Metadata{}, sandbox.NewError(sandbox.ErrExecFailed, "unexpected stat output")
	}
	size, _ := strconv.ParseInt(fields[0], 10, 64)
	isDir := strings.Contains(res.Stdout, "directory")
	return sandbox.Metadata{Size: size, IsDir: isDir}, nil
}

func (r *Runtime) ReadDir(ctx context.Context, path string) ([]sandbox.DirEntry, error) {
	res, err := r.Execute(ctx, "ls -A1 '"+shellEscape(path)+"'", "/workspace", 10*time.Second, sandbox.ExecCaps{})
	if err != nil || !res.Success {
		return nil, sandbox.NewError(sandbox.ErrExecFailed, "ls failed")
	}
	var entries []sandbox.DirEntry
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line == "" {
			continue
		}
		entries = append(entries, sandbox.DirEntry{Name: line})
	}
	return entries, nil
}

func (r *Runtime) CreateDirAll(ctx context.Context, path string) error {
	res, err := r.Execute(ctx, "mkdir -p '"+shellEscape(path)+"'", "/workspace", 10*time.Second, sandbox.ExecCaps{})
	if err != nil {
		return err
	}
	if !res.Success {
		return sandbox.NewError(sandbox.ErrExecFailed, res.Stderr)
	}
	return nil
}

func (r *Runtime) RemoveFile(ctx context.Context, path string) error {
	res, err := r.Execute(ctx, "rm -f '"+shellEscape(path)+"'", "/workspace", 10*time.Second, sandbox.ExecCaps{})
	if err != nil {
		return err
	}
	if !res.Success {
		return sandbox.NewError(sandbox.ErrExecFailed, res.Stderr)
	}
	return nil
}

func (r *Runtime) RemoveDir(ctx context.Context, path string, recursive bool) error {
	flag := "-d"
	if recursive {
		flag = "-rf"
	}
	res, err := r.Execute(ctx, "rm "+flag+" '"+shellEscape(path)+"'", "/workspace", 10*time.Second, sandbox.ExecCaps{})
	if err != nil {
		return err
	}
	if !res.Success {
		return sandbox.NewError(sandbox.ErrExecFailed, res.Stderr)
	}
	return nil
}

func (r *Runtime) PathMapper() *sandbox.PathMapper { return &r.mapper }

func shellEscape(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}
