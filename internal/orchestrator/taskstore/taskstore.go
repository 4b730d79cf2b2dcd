// Package taskstore declares the engine's external upstream-task-store
// collaborator, spec 1: "owns canonical task metadata; the engine mirrors
// a minimal subset needed to route workflow." The only call the engine
// makes outward is posting the final extracted JSON result as a comment
// on exit (spec 4.3 "Exit handling").
package taskstore

import "context"

// UpstreamTaskStore is the narrow outward call the ALM makes on agent
// exit.
type UpstreamTaskStore interface {
	// PostComment posts body as a comment on taskID. Failures are
	// warn-logged only by the caller (spec 7 "Callback HTTP and
	// comment-post HTTP failures are warn-logged only").
	PostComment(ctx context.Context, taskID, body string) error
}

// Stub discards comments; sufficient for running scenarios standalone.
type Stub struct{}

func (Stub) PostComment(ctx context.Context, taskID, body string) error { return nil }
