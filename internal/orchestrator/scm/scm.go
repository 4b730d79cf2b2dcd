// Package scm declares the engine's external source-control collaborator,
// spec 1: "clones repositories, pushes branches, and creates/merges pull
// requests on behalf of running agents (invoked by agents, not by the
// engine)." The ALM only needs the narrow clone/checkout surface below to
// prepare a workspace before spawn (spec 4.3 step 4, 4.3.1); everything
// else (push, PR creation/merge) is invoked by the agent process itself
// and never called from engine code.
package scm

import "context"

// Collaborator is the narrow slice of source-control operations the ALM
// invokes directly when preparing a workspace.
type Collaborator interface {
	// Clone clones repo into dir.
	Clone(ctx context.Context, repo, dir string) error
	// Checkout fetches and checks out branch in dir (spec 4.3.1 "fetch
	// origin <branch>; checkout <branch>").
	Checkout(ctx context.Context, dir, branch string) error
	// CreateBranch creates and checks out a new branch from the current
	// head (spec 4.3.1, coding-kind default).
	CreateBranch(ctx context.Context, dir, branch string) error
}

// Stub is a no-op Collaborator: every method returns nil without creating
// any directory, cloning, or touching git state, sufficient to exercise ALM spawn
// sequencing in this repository without a real git/GitHub dependency.
type Stub struct{}

func (Stub) Clone(ctx context.Context, repo, dir string) error       { return nil }
func (Stub) Checkout(ctx context.Context, dir, branch string) error  { return nil }
func (Stub) CreateBranch(ctx context.Context, dir, branch string) error { return nil }
