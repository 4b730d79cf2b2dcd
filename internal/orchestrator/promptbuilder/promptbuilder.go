// Package promptbuilder declares the engine's external prompt-builder
// collaborator, spec 1: "given an agent kind and task context, produces a
// text prompt; the engine treats prompts as opaque strings." Only the
// interface and a trivial stub live here — a real implementation is out
// of scope for this repository.
package promptbuilder

import "github.com/orchestrator/agentctl/internal/orchestrator/model"

// Request carries whatever context the builder needs to render a prompt
// for one spawn; fields mirror AgentSpawnRequest (spec 4.3).
type Request struct {
	Task            *model.Task
	Kind            model.AgentKind
	ExistingBranch  string
	ReviewFeedback  string
	FocusAreas      []string
	DeploymentURL   string
}

// Builder renders an opaque prompt string for a spawn request.
type Builder interface {
	Build(req Request) (string, error)
}

// Stub is a minimal Builder sufficient to exercise the ALM end to end
// without a real prompt-generation backend.
type Stub struct{}

// Build returns a deterministic plain-text prompt describing the task
// and kind; production deployments are expected to supply a real Builder.
func (Stub) Build(req Request) (string, error) {
	prompt := "Task: " + req.Task.Title + "\n\n" + req.Task.Description
	if req.ReviewFeedback != "" {
		prompt += "\n\nReview feedback:\n" + req.ReviewFeedback
	}
	return prompt, nil
}
