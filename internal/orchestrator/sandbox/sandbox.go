// Package sandbox declares the engine's external sandbox-driver
// collaborator (spec 1, "deliberately out of scope... specified only by
// interface") and provides a local process-based implementation so the
// service is runnable standalone. The interface shape and the exit/kill
// mechanics of processdriver.go are grounded on
// _examples/other_examples/...steveyegge-vc__internal-executor-agent.go.go,
// which models the same spawn/monitor/timeout/kill flow for a coding
// assistant CLI process. The teacher's own internal/agents/spawner.go
// targets WezTerm panes on Windows — explicitly out-of-scope "sandbox
// driver" detail — and is not reused here beyond its Spawner-interface
// seam and ID-format idiom (see DESIGN.md).
package sandbox

import (
	"context"
	"io"
)

// Spec describes what the driver should start: a workspace to bind
// read-write, a prompt to deliver, and environment for the child process
// (spec 4.3 step 6).
type Spec struct {
	AgentID     string
	TaskID      string
	Kind        string
	WorkspaceDir string
	Prompt      string
	Env         map[string]string
	// MemoryLimitMiB and CPULimit are fixed at engine level per spec
	// 4.3 step 6 (2 GiB / 1 vCPU for containers); a host-process driver
	// may treat them as advisory.
	MemoryLimitMiB int
	CPULimit       float64
}

// Handle is an opaque sandbox handle: a container id or a host process id.
type Handle string

// Driver is the sandbox driver collaborator: starts/stops agent
// executables and exposes stdout/stderr streams and an exit code. The
// engine never constructs sandboxes directly; it only calls this
// interface, so any container runtime or local process supervisor can be
// substituted.
type Driver interface {
	// Start launches the sandbox and returns a handle plus live
	// stdout/stderr readers. Must not block waiting for exit.
	Start(ctx context.Context, spec Spec) (Handle, io.ReadCloser, io.ReadCloser, error)
	// Wait blocks until the sandbox exits or ctx is done, returning the
	// exit code.
	Wait(ctx context.Context, h Handle) (int, error)
	// Kill terminates the sandbox. Idempotent on an already-exited
	// handle.
	Kill(ctx context.Context, h Handle) error
	// Inspect reports whether the sandbox the driver knows about is
	// still running, used by the crash-recovery sweep (spec 4.3.4).
	Inspect(ctx context.Context, h Handle) (running bool, exitCode int, err error)
}
