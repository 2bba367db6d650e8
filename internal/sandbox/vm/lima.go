// Package vm is a reference Runtime backed by Lima (macOS lightweight
// Linux VMs). Like package container, it is a demonstration
// collaborator: the core has no dependency on it.
package vm

import (
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jarvis-run/turnengine/internal/sandbox"
)

func toBase64(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

// Runtime drives a named Lima instance via `limactl shell`, matching
// lima.rs's templated-config-then-shell-exec approach.
type Runtime struct {
	instance string
	mapper   sandbox.PathMapper
}

// New targets an existing or to-be-started Lima instance. Config
// templating (the `.lima.yaml` the instance boots from) is out of
// scope for this reference adapter; callers provision the instance
// externally, matching the core's stance that concrete sandbox
// provisioning is a collaborator concern.
func New(instance, hostRoot, vmRoot string) *Runtime {
	return &Runtime{
		instance: instance,
		mapper:   sandbox.PathMapper{HostRoot: hostRoot, SandboxRoot: vmRoot},
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "limactl", "start", r.instance).Run(); err != nil {
		return sandbox.NewError(sandbox.ErrStartFailed, err.Error())
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	return exec.CommandContext(ctx, "limactl", "stop", r.instance).Run()
}

func (r *Runtime) IsReady(ctx context.Context) bool {
	out, err := exec.CommandContext(ctx, "limactl", "list", "--format", "{{.Status}}", r.instance).Output()
	return err == nil && strings.TrimSpace(string(out)) == "Running"
}

func (r *Runtime) shell(ctx context.Context, workdir, cmd string, timeout time.Duration) (sandbox.ExecResult, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	full := fmt.Sprintf("cd %q && %s", workdir, cmd)
	out, err := exec.CommandContext(cctx, "limactl", "shell", r.instance, "/bin/sh", "-c", full).CombinedOutput()
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

func (r *Runtime) Execute(ctx context.Context, cmd, workdir string, timeout time.Duration, caps sandbox.ExecCaps) (sandbox.ExecResult, error) {
	return r.shell(ctx, workdir, cmd, timeout)
}

func (r *Runtime) ReadFile(ctx context.Context, path string) ([]byte, error) {
	res, err := r.shell(ctx, "/", "cat '"+strings.ReplaceAll(path, "'", `'\''`)+"'", 30*time.Second)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, sandbox.NewError(sandbox.ErrExecFailed, res.Stderr)
	}
	return []byte(res.Stdout), nil
}

func (r *Runtime) WriteFile(ctx context.Context, path string, data []byte) error {
	escaped := strings.ReplaceAll(path, "'", `'\''`)
	b64 := toBase64(data)
	cmd := fmt.Sprintf("echo '%s' | base64 -d > '%s'", b64, escaped)
	res, err := r.shell(ctx, "/", cmd, 30*time.Second)
	if err != nil {
		return err
	}
	if !res.Success {
		return sandbox.NewError(sandbox.ErrCreateFailed, res.Stderr)
	}
	return nil
}

func (r *Runtime) PathExists(ctx context.Context, path string) (bool, error) {
	res, err := r.shell(ctx, "/", "test -e '"+strings.ReplaceAll(path, "'", `'\''`)+"'", 10*time.Second)
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

func (r *Runtime) Metadata(ctx context.Context, path string) (sandbox.Metadata, error) {
	res, err := r.shell(ctx, "/", fmt.Sprintf("stat -c '%%s %%F' '%s'", strings.ReplaceAll(path, "'", `'\''`)), 10*time.Second)
	if err != nil || !res.Success {
		return sandbox.Metadata{}, sandbox.NewError(sandbox.ErrExecFailed, "stat failed")
	}
	fields := strings.Fields(strings.TrimSpace(res.Stdout))
	if len(fields) < 2 {
		return sandbox.Metadata{}, sandbox.NewError(sandbox.ErrExecFailed, "unexpected stat output")
	}
	var size int64
	fmt.Sscanf(fields[0], "%d", &size)
	return sandbox.Metadata{Size: size, IsDir: strings.Contains(res.Stdout, "directory")}, nil
}

func (r *Runtime) ReadDir(ctx context.Context, path string) ([]sandbox.DirEntry, error) {
	res, err := r.shell(ctx, "/", "ls -A1 '"+strings.ReplaceAll(path, "'", `'\''`)+"'", 10*time.Second)
	if err != nil || !res.Success {
		return nil, sandbox.NewError(sandbox.ErrExecFailed, "ls failed")
	}
	var out []sandbox.DirEntry
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line != "" {
			out = append(out, sandbox.DirEntry{Name: line})
		}
	}
	return out, nil
}

func (r *Runtime) CreateDirAll(ctx context.Context, path string) error {
	res, err := r.shell(ctx, "/", "mkdir -p '"+strings.ReplaceAll(path, "'", `'\''`)+"'", 10*time.Second)
	if err != nil {
		return err
	}
	if !res.Success {
		return sandbox.NewError(sandbox.ErrExecFailed, res.Stderr)
	}
	return nil
}

func (r *Runtime) RemoveFile(ctx context.Context, path string) error {
	res, err := r.shell(ctx, "/", "rm -f '"+strings.ReplaceAll(path, "'", `'\''`)+"'", 10*time.Second)
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
	res, err := r.shell(ctx, "/", "rm "+flag+" '"+strings.ReplaceAll(path, "'", `'\''`)+"'", 10*time.Second)
	if err != nil {
		return err
	}
	if !res.Success {
		return sandbox.NewError(sandbox.ErrExecFailed, res.Stderr)
	}
	return nil
}

func (r *Runtime) PathMapper() *sandbox.PathMapper { return &r.mapper }
