package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
	"golang.org/x/sys/unix"
)

// ProcessDriver runs agents as local host processes via os/exec, the way
// the reference executor (steveyegge-vc) builds and runs a coding-
// assistant CLI command. CommandFor maps an agent kind to an argv;
// callers needing container isolation provide their own Driver
// implementation against the same interface.
type ProcessDriver struct {
	// CommandFor builds the argv for a given kind. The prompt is
	// delivered via spec.Prompt on stdin, matching "the prompt as argv
	// or stdin" (spec 4.3 step 6).
	CommandFor func(spec Spec) (name string, args []string)

	mu    sync.Mutex
	procs map[Handle]*exec.Cmd
}

// NewProcessDriver returns a ProcessDriver; commandFor must be supplied
// by the caller (it is configuration, not engine logic, per spec's
// "prompt builder... treats prompts as opaque strings").
func NewProcessDriver(commandFor func(spec Spec) (string, []string)) *ProcessDriver {
	return &ProcessDriver{
		CommandFor: commandFor,
		procs:      make(map[Handle]*exec.Cmd),
	}
}

func (d *ProcessDriver) Start(ctx context.Context, spec Spec) (Handle, io.ReadCloser, io.ReadCloser, error) {
	name, args := d.CommandFor(spec)
	cmd := exec.Command(name, args...)
	cmd.Dir = spec.WorkspaceDir
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	// New process group so Kill can terminate the whole tree, not just
	// the direct child (grounded on the teacher's own use of
	// golang.org/x/sys for process lifecycle management in
	// internal/instance).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", nil, nil, orcherr.Wrap(orcherr.KindSandbox, "create stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", nil, nil, orcherr.Wrap(orcherr.KindSandbox, "create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", nil, nil, orcherr.Wrap(orcherr.KindSandbox, "create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return "", nil, nil, orcherr.Wrap(orcherr.KindSandbox, "start sandbox process", err)
	}

	go func() {
		defer stdin.Close()
		_, _ = stdin.Write([]byte(spec.Prompt))
	}()

	handle := Handle(fmt.Sprintf("%d", cmd.Process.Pid))
	d.mu.Lock()
	d.procs[handle] = cmd
	d.mu.Unlock()

	return handle, stdout, stderr, nil
}

// Wait blocks until the process referenced by h exits.
func (d *ProcessDriver) Wait(ctx context.Context, h Handle) (int, error) {
	d.mu.Lock()
	cmd, ok := d.procs[h]
	d.mu.Unlock()
	if !ok {
		return 0, orcherr.New(orcherr.KindSandbox, "unknown sandbox handle: "+string(h))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, orcherr.Wrap(orcherr.KindSandbox, "wait for sandbox process", err)
	}
}

// Kill terminates the whole process group. Idempotent: killing an
// already-exited process is a no-op error that callers ignore (spec
// 4.3/law L2, "kill is idempotent on terminal agents").
func (d *ProcessDriver) Kill(ctx context.Context, h Handle) error {
	d.mu.Lock()
	cmd, ok := d.procs[h]
	d.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		// Process already gone.
		return nil
	}
	_ = unix.Kill(-pgid, unix.SIGKILL)
	return nil
}

// Inspect reports whether the process is still running, used by the
// crash-recovery sweep (spec 4.3.4 "host process" branch).
func (d *ProcessDriver) Inspect(ctx context.Context, h Handle) (bool, int, error) {
	d.mu.Lock()
	cmd, ok := d.procs[h]
	d.mu.Unlock()
	if !ok || cmd.Process == nil {
		return false, -1, nil
	}
	if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
		return false, -1, nil
	}
	return true, 0, nil
}
