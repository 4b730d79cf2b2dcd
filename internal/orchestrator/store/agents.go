package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
)

// SaveAgent inserts or updates an Agent row, mirroring the teacher's
// INSERT ... ON CONFLICT(id) DO UPDATE idiom in internal/tasks/store.go.
func (s *Store) SaveAgent(ctx context.Context, a *model.Agent) error {
	metadata, _ := json.Marshal(a.Metadata)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, task_id, sandbox_handle, kind, status, started_at, completed_at, exit_code, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_id=excluded.task_id,
			sandbox_handle=excluded.sandbox_handle,
			kind=excluded.kind,
			status=excluded.status,
			started_at=excluded.started_at,
			completed_at=excluded.completed_at,
			exit_code=excluded.exit_code,
			error=excluded.error,
			metadata=excluded.metadata
	`, a.ID, a.TaskID, a.SandboxHandle, a.Kind, a.Status, a.StartedAt, a.CompletedAt, a.ExitCode, a.Error, string(metadata))
	if err != nil {
		return orcherr.Wrap(orcherr.KindStore, "save agent", err)
	}
	return nil
}

const agentColumns = `id, task_id, sandbox_handle, kind, status, started_at, completed_at, exit_code, error, metadata`

func scanAgent(row interface{ Scan(...any) error }) (*model.Agent, error) {
	var a model.Agent
	var metadata sql.NullString
	var completedAt sql.NullTime
	var exitCode sql.NullInt64

	if err := row.Scan(&a.ID, &a.TaskID, &a.SandboxHandle, &a.Kind, &a.Status, &a.StartedAt, &completedAt, &exitCode, &a.Error, &metadata); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	if exitCode.Valid {
		n := int(exitCode.Int64)
		a.ExitCode = &n
	}
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &a.Metadata)
	}
	return &a, nil
}

// GetAgent retrieves a single Agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM agents WHERE id = ?`, agentColumns), id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, orcherr.New(orcherr.KindNotFound, "agent not found: "+id)
	}
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStore, "get agent", err)
	}
	return a, nil
}

// ListAgents returns the most recent agents, limit defaulting to 100 per
// spec 4.1.
func (s *Store) ListAgents(ctx context.Context, limit int) ([]*model.Agent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM agents ORDER BY started_at DESC LIMIT ?`, agentColumns), limit)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStore, "list agents", err)
	}
	defer rows.Close()
	return scanAgentRows(rows)
}

// GetActiveAgents returns every Agent not in a terminal status.
func (s *Store) GetActiveAgents(ctx context.Context) ([]*model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM agents WHERE status IN ('starting','running')`, agentColumns))
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStore, "get active agents", err)
	}
	defer rows.Close()
	return scanAgentRows(rows)
}

func scanAgentRows(rows *sql.Rows) ([]*model.Agent, error) {
	var out []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.KindStore, "scan agent row", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// CountRunningAgents implements the Store query helper of the same name,
// spec 4.1.
func (s *Store) CountRunningAgents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE status = 'running'`).Scan(&n)
	if err != nil {
		return 0, orcherr.Wrap(orcherr.KindStore, "count running agents", err)
	}
	return n, nil
}

// AgentAnalytics returns counts grouped by terminal/non-terminal status,
// spec 4.1.
type AgentAnalytics struct {
	Terminal    map[model.AgentStatus]int
	NonTerminal map[model.AgentStatus]int
}

func (s *Store) AgentAnalytics(ctx context.Context) (*AgentAnalytics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM agents GROUP BY status`)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStore, "agent analytics", err)
	}
	defer rows.Close()

	out := &AgentAnalytics{Terminal: map[model.AgentStatus]int{}, NonTerminal: map[model.AgentStatus]int{}}
	for rows.Next() {
		var status model.AgentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, orcherr.Wrap(orcherr.KindStore, "scan agent analytics row", err)
		}
		if status.Terminal() {
			out.Terminal[status] = n
		} else {
			out.NonTerminal[status] = n
		}
	}
	return out, nil
}

// AppendLogLines persists a batch of AgentLogLine rows in one transaction,
// the "atomic batch append for log lines (one transaction per flush)" of
// spec 4.1 / 4.3.3.
func (s *Store) AppendLogLines(ctx context.Context, lines []model.AgentLogLine) error {
	if len(lines) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO agent_logs (agent_id, timestamp, stream, content) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return orcherr.Wrap(orcherr.KindStore, "prepare log insert", err)
		}
		defer stmt.Close()
		for _, l := range lines {
			if _, err := stmt.ExecContext(ctx, l.AgentID, l.Timestamp, l.Stream, l.Content); err != nil {
				return orcherr.Wrap(orcherr.KindStore, "insert log line", err)
			}
		}
		return nil
	})
}

// GetLogLines returns all log lines for an agent, ascending row id
// (= observation order, spec 3 / I6).
func (s *Store) GetLogLines(ctx context.Context, agentID string) ([]model.AgentLogLine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, agent_id, timestamp, stream, content FROM agent_logs WHERE agent_id = ? ORDER BY id ASC`, agentID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStore, "get log lines", err)
	}
	defer rows.Close()

	var out []model.AgentLogLine
	for rows.Next() {
		var l model.AgentLogLine
		if err := rows.Scan(&l.ID, &l.AgentID, &l.Timestamp, &l.Stream, &l.Content); err != nil {
			return nil, orcherr.Wrap(orcherr.KindStore, "scan log line", err)
		}
		out = append(out, l)
	}
	return out, nil
}
