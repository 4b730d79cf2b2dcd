package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
)

const taskColumns = `id, title, description, kind, status, repo, repos, investigation_only, execution_plan, assigned_agent_id, created_at, updated_at`

// SaveTask inserts or updates a Task row.
func (s *Store) SaveTask(ctx context.Context, t *model.Task) error {
	repos, _ := json.Marshal(t.Repos)
	var plan []byte
	if t.ExecutionPlan != nil {
		plan, _ = json.Marshal(t.ExecutionPlan)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, kind, status, repo, repos, investigation_only, execution_plan, assigned_agent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			description=excluded.description,
			kind=excluded.kind,
			status=excluded.status,
			repo=excluded.repo,
			repos=excluded.repos,
			investigation_only=excluded.investigation_only,
			execution_plan=excluded.execution_plan,
			assigned_agent_id=excluded.assigned_agent_id,
			updated_at=excluded.updated_at
	`, t.ID, t.Title, t.Description, t.Kind, t.Status, t.Repo, string(repos), t.InvestigationOnly, string(plan), t.AssignedAgentID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return orcherr.Wrap(orcherr.KindStore, "save task", err)
	}
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var repos, plan sql.NullString
	var investigationOnly int

	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Kind, &t.Status, &t.Repo, &repos, &investigationOnly, &plan, &t.AssignedAgentID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.InvestigationOnly = investigationOnly != 0
	if repos.Valid && repos.String != "" {
		_ = json.Unmarshal([]byte(repos.String), &t.Repos)
	}
	if plan.Valid && plan.String != "" {
		var p model.ExecutionPlan
		if err := json.Unmarshal([]byte(plan.String), &p); err == nil {
			t.ExecutionPlan = &p
		}
	}
	return &t, nil
}

// GetTask retrieves a Task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM tasks WHERE id = ?`, taskColumns), id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, orcherr.New(orcherr.KindNotFound, "task not found: "+id)
	}
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStore, "get task", err)
	}
	return t, nil
}

// GetTasksByStatus returns all tasks with the given status.
func (s *Store) GetTasksByStatus(ctx context.Context, status model.TaskStatus) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM tasks WHERE status = ? ORDER BY created_at`, taskColumns), status)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStore, "get tasks by status", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.KindStore, "scan task row", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// SetTaskStatus is a convenience helper that loads, mutates, and saves a
// Task's status in one call; used by the Event Router for terminal-state
// transitions (spec 4.4).
func (s *Store) SetTaskStatus(ctx context.Context, id string, status model.TaskStatus) error {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	t.Status = status
	return s.SaveTask(ctx, t)
}

// InsertBugTask inserts a new Task of kind=bug, used by verify.failed and
// audit.finding handlers (spec 4.4) to surface structured findings as new
// workflow units.
func (s *Store) InsertBugTask(ctx context.Context, t *model.Task) error {
	if !strings.EqualFold(t.Kind, "bug") {
		t.Kind = "bug"
	}
	return s.SaveTask(ctx, t)
}
