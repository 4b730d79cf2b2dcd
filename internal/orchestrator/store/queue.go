package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
)

const queueColumns = `id, task_id, position, status, queued_at, completed_at`

// SaveQueueEntry inserts or updates a QueueEntry row.
func (s *Store) SaveQueueEntry(ctx context.Context, q *model.QueueEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue (id, task_id, position, status, queued_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			position=excluded.position,
			status=excluded.status,
			completed_at=excluded.completed_at
	`, q.ID, q.TaskID, q.Position, q.Status, q.QueuedAt, q.CompletedAt)
	if err != nil {
		return orcherr.Wrap(orcherr.KindStore, "save queue entry", err)
	}
	return nil
}

func scanQueueEntry(row interface{ Scan(...any) error }) (*model.QueueEntry, error) {
	var q model.QueueEntry
	var completedAt sql.NullTime
	if err := row.Scan(&q.ID, &q.TaskID, &q.Position, &q.Status, &q.QueuedAt, &completedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		q.CompletedAt = &t
	}
	return &q, nil
}

// GetQueueEntryByTask looks up the (unique) QueueEntry for a task.
func (s *Store) GetQueueEntryByTask(ctx context.Context, taskID string) (*model.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM queue WHERE task_id = ?`, queueColumns), taskID)
	q, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, orcherr.New(orcherr.KindNotFound, "queue entry not found for task: "+taskID)
	}
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStore, "get queue entry", err)
	}
	return q, nil
}

// ListQueue returns every QueueEntry ordered by position.
func (s *Store) ListQueue(ctx context.Context) ([]*model.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM queue ORDER BY position ASC`, queueColumns))
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStore, "list queue", err)
	}
	defer rows.Close()

	var out []*model.QueueEntry
	for rows.Next() {
		q, err := scanQueueEntry(rows)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.KindStore, "scan queue row", err)
		}
		out = append(out, q)
	}
	return out, nil
}

// DeleteQueueEntry removes a QueueEntry by task id (spec 4.5 step 5,
// "mark Task failed, delete QueueEntry").
func (s *Store) DeleteQueueEntry(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue WHERE task_id = ?`, taskID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindStore, "delete queue entry", err)
	}
	return nil
}

// ClearQueue removes every QueueEntry (Public Interface POST /queue/clear,
// spec 4.6).
func (s *Store) ClearQueue(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue`)
	if err != nil {
		return orcherr.Wrap(orcherr.KindStore, "clear queue", err)
	}
	return nil
}

// CountProcessingQueue implements the Store query helper of the same
// name, spec 4.1, used to enforce I5 (count(processing) <= max_concurrent).
func (s *Store) CountProcessingQueue(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue WHERE status = 'processing'`).Scan(&n)
	if err != nil {
		return 0, orcherr.Wrap(orcherr.KindStore, "count processing queue", err)
	}
	return n, nil
}

// GetPendingQueueHead returns the lowest-position queued QueueEntry whose
// joined Task is also status=queued (spec 4.1 getPendingQueueHead, spec
// 4.5 step 4). Returns (nil, nil) when nothing qualifies.
func (s *Store) GetPendingQueueHead(ctx context.Context) (*model.QueueEntry, *model.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT q.id, q.task_id, q.position, q.status, q.queued_at, q.completed_at
		FROM queue q
		JOIN tasks t ON t.id = q.task_id
		WHERE q.status = 'queued' AND t.status = 'queued'
		ORDER BY q.position ASC
		LIMIT 1
	`)

	q, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, orcherr.Wrap(orcherr.KindStore, "get pending queue head", err)
	}
	t, err := s.GetTask(ctx, q.TaskID)
	if err != nil {
		return nil, nil, err
	}
	return q, t, nil
}

// GetQueueSettings loads the queue_settings key/value bag.
func (s *Store) GetQueueSettings(ctx context.Context) (model.QueueSettings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM queue_settings`)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStore, "get queue settings", err)
	}
	defer rows.Close()

	settings := model.QueueSettings{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, orcherr.Wrap(orcherr.KindStore, "scan queue setting", err)
		}
		settings[k] = v
	}
	return settings, nil
}

// SetQueueSetting upserts one queue_settings key.
func (s *Store) SetQueueSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, key, value)
	if err != nil {
		return orcherr.Wrap(orcherr.KindStore, "set queue setting", err)
	}
	return nil
}
