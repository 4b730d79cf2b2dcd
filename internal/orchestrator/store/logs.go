package store

import (
	"context"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
)

// LogEntry is a single row of the engine-level logs table (schema.sql),
// distinct from per-agent AgentLogLine rows.
type LogEntry struct {
	ID        int64
	Timestamp time.Time
	Level     string
	Component string
	Message   string
}

// Log appends one engine-level diagnostic record. The Event Router and
// the crash-recovery sweep report through the standard log package and
// do not call it.
func (s *Store) Log(ctx context.Context, level, component, message string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO logs (timestamp, level, component, message) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), level, component, message)
	if err != nil {
		return orcherr.Wrap(orcherr.KindStore, "append log entry", err)
	}
	return nil
}
