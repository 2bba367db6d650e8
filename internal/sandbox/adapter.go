package sandbox

import (
	"context"
	"time"
)

// defaultExecTimeout bounds an Adapter.Execute call when the caller (a
// tool.Tool) has no timeout of its own to apply.
const defaultExecTimeout = 2 * time.Minute

// Adapter narrows a Runtime to the tool.Sandbox surface internal/tool
// expects, translating ExecResult's richer shape into the
// (stdout, stderr, exitCode, err) tuple built-in tools consume and
// folding PathMapper's translation into the two path methods.
type Adapter struct {
	Runtime Runtime
	Timeout time.Duration
}

func NewAdapter(rt Runtime) *Adapter {
	return &Adapter{Runtime: rt, Timeout: defaultExecTimeout}
}

func (a *Adapter) ToSandboxPath(hostPath string) string {
	return a.Runtime.PathMapper().ToSandbox(hostPath)
}

func (a *Adapter) ToHostPath(sandboxPath string) string {
	return a.Runtime.PathMapper().ToHost(sandboxPath)
}

func (a *Adapter) PathExists(ctx context.Context, path string) (bool, error) {
	return a.Runtime.PathExists(ctx, path)
}

func (a *Adapter) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return a.Runtime.ReadFile(ctx, path)
}

func (a *Adapter) WriteFile(ctx context.Context, path string, data []byte) error {
	return a.Runtime.WriteFile(ctx, path, data)
}

func (a *Adapter) Execute(ctx context.Context, cmd, workdir string) (stdout, stderr string, exitCode int, err error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	res, execErr := a.Runtime.Execute(ctx, cmd, workdir, timeout, ExecCaps{})
	if execErr != nil {
		return res.Stdout, res.Stderr, res.ExitCode, execErr
	}
	return res.Stdout, res.Stderr, res.ExitCode, nil
}
