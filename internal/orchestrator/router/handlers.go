package router

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/alm"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
)

func (r *Router) onTaskAssigned(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.TaskAssignedPayload](ev)
	if err != nil {
		return err
	}
	if _, err := r.st.GetTask(ctx, p.TaskID); err != nil {
		task := &model.Task{
			ID: p.TaskID, Title: p.Title, Description: p.Description,
			Repo: p.Repo, Repos: p.Repos, InvestigationOnly: p.InvestigationOnly,
			Status: model.TaskStatusQueued, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}
		if err := r.st.SaveTask(ctx, task); err != nil {
			return err
		}
	}
	_, err = r.spawn.Spawn(ctx, alm.SpawnRequest{
		TaskID: p.TaskID, Repo: p.Repo, Title: p.Title, Description: p.Description,
		Kind: model.AgentKindTriage,
	})
	return err
}

func (r *Router) onTaskPlanCreated(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.TaskPlanCreatedPayload](ev)
	if err != nil {
		return err
	}
	task, err := r.st.GetTask(ctx, p.TaskID)
	if err != nil {
		return err
	}
	plan := p.Plan
	task.ExecutionPlan = &plan
	task.Status = model.TaskStatusInProgress
	if err := r.st.SaveTask(ctx, task); err != nil {
		return err
	}
	_, err = r.spawn.Spawn(ctx, alm.SpawnRequest{
		TaskID: p.TaskID, Repo: p.Repo, Title: task.Title, Description: task.Description,
		Kind: model.AgentKindCoding,
	})
	return err
}

func (r *Router) onTaskClosed(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.TaskClosedPayload](ev)
	if err != nil {
		return err
	}
	return completeTaskAndQueue(ctx, r.st, p.TaskID)
}

func (r *Router) onDeployRequested(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.DeployRequestedPayload](ev)
	if err != nil {
		return err
	}
	_, err = r.spawn.Spawn(ctx, alm.SpawnRequest{
		TaskID: p.TaskID, Repo: p.Repo, Kind: model.AgentKindDeployer,
	})
	return err
}

func (r *Router) onPRCreatedOrUpdated(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.PRCreatedPayload](ev)
	if err != nil {
		return err
	}
	_, err = r.spawn.Spawn(ctx, alm.SpawnRequest{
		TaskID: p.TaskID, Repo: p.Repo, Kind: model.AgentKindReviewer,
		PRNumber: p.PRNum, PRUrl: p.PRUrl, Branch: p.Branch,
	})
	return err
}

func (r *Router) onPRChangesRequested(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.PRChangesRequestedPayload](ev)
	if err != nil {
		return err
	}
	task, err := r.st.GetTask(ctx, p.TaskID)
	if err != nil {
		return err
	}
	task.Status = model.TaskStatusInProgress
	if err := r.st.SaveTask(ctx, task); err != nil {
		return err
	}
	_, err = r.spawn.Spawn(ctx, alm.SpawnRequest{
		TaskID: p.TaskID, Repo: p.Repo, Kind: model.AgentKindCoding,
		ExistingBranch: p.Branch, ReviewFeedback: p.ReviewComments,
	})
	return err
}

func (r *Router) onPRMerged(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.PRMergedPayload](ev)
	if err != nil {
		return err
	}
	_, err = r.spawn.Spawn(ctx, alm.SpawnRequest{
		TaskID: p.TaskID, Repo: p.Repo, Kind: model.AgentKindDeployer, Branch: p.Branch,
	})
	return err
}

func (r *Router) onDeployCompleted(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.DeployCompletedPayload](ev)
	if err != nil {
		return err
	}
	_, err = r.spawn.Spawn(ctx, alm.SpawnRequest{
		TaskID: p.TaskID, Repo: p.Repo, Kind: model.AgentKindVerifier, DeploymentURL: p.URL,
	})
	return err
}

func (r *Router) onDeployFailed(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.DeployFailedPayload](ev)
	if err != nil {
		return err
	}
	return r.st.SetTaskStatus(ctx, p.TaskID, model.TaskStatusFailed)
}

func (r *Router) onVerifyPassed(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.VerifyPassedPayload](ev)
	if err != nil {
		return err
	}
	return completeTaskAndQueue(ctx, r.st, p.TaskID)
}

func (r *Router) onVerifyFailed(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.VerifyFailedPayload](ev)
	if err != nil {
		return err
	}
	bugTask := &model.Task{
		ID:          p.TaskID + "-bug-" + fmt.Sprint(time.Now().UnixNano()),
		Title:       "Verification failure: " + p.Bug.Description,
		Description: describeBug(p.Bug),
		Kind:        "bug",
		Repo:        p.Repo,
		Status:      model.TaskStatusQueued,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := r.st.InsertBugTask(ctx, bugTask); err != nil {
		return err
	}
	return r.st.SetTaskStatus(ctx, p.TaskID, model.TaskStatusFailed)
}

func describeBug(b model.Bug) string {
	return fmt.Sprintf("Steps: %s\nExpected: %s\nActual: %s", b.Steps, b.Expected, b.Actual)
}

func (r *Router) onAuditRequested(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.AuditRequestedPayload](ev)
	if err != nil {
		return err
	}
	_, err = r.spawn.Spawn(ctx, alm.SpawnRequest{
		TaskID: p.TaskID, Repo: p.Repo, Kind: model.AgentKindAuditor,
		DeploymentURL: p.URL, FocusAreas: p.FocusAreas,
	})
	return err
}

func (r *Router) onAuditFinding(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.AuditFindingPayload](ev)
	if err != nil {
		return err
	}
	bugTask := &model.Task{
		ID:          p.TaskID + "-finding-" + fmt.Sprint(time.Now().UnixNano()),
		Title:       fmt.Sprintf("[%s/%s] %s", p.Finding.Severity, p.Finding.Category, p.Finding.Title),
		Description: p.Finding.Description,
		Kind:        "bug",
		Repo:        p.Repo,
		Status:      model.TaskStatusQueued,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	return r.st.InsertBugTask(ctx, bugTask)
}

func (r *Router) onAuditCompleted(ctx context.Context, ev *model.Event) error {
	p, err := decode[model.AuditCompletedPayload](ev)
	if err != nil {
		return err
	}
	return completeTaskAndQueue(ctx, r.st, p.TaskID)
}

func (r *Router) onAgentEscalation(_ context.Context, ev *model.Event) error {
	p, err := decode[model.AgentEscalationPayload](ev)
	if err != nil {
		return err
	}
	log.Printf("[ROUTER] agent escalation: task=%s agent=%s reason=%s", p.TaskID, p.AgentID, p.Reason)
	return nil
}
