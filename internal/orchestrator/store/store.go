// Package store is the Store component, spec 4.1: durable, single-writer
// SQLite persistence for agents, agent_logs, tasks, queue, queue_settings,
// and logs. Schema and migration style are grounded on the teacher's
// internal/tasks/store.go (CREATE TABLE IF NOT EXISTS + ON CONFLICT DO
// UPDATE) and internal/memory/db.go (WAL pragmas, go:embed migrations,
// connection-pool tuning).
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
)

//go:embed schema.sql
var schemaSQL string

// Store is the single linearization point for writes; readers may
// proceed concurrently (spec 4.1 "Concurrency").
type Store struct {
	db *sql.DB
}

// Open creates the database file's parent directory if needed, opens the
// connection, sets WAL journaling and foreign-key enforcement, and
// creates tables/indices on first open.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, orcherr.Wrap(orcherr.KindStore, "create database directory", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStore, "open database", err)
	}
	db.SetMaxOpenConns(1) // single-writer semantics, spec 4.1
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, orcherr.Wrap(orcherr.KindStore, fmt.Sprintf("apply %q", pragma), err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return orcherr.Wrap(orcherr.KindStore, "create schema", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return orcherr.Wrap(orcherr.KindStore, "close database", err)
	}
	return nil
}

// DB exposes the raw handle for callers that need a transaction spanning
// more than one of the helpers below. Nothing in this module calls it;
// the log-line batch append uses WithTx inside the Store.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return orcherr.Wrap(orcherr.KindStore, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return orcherr.Wrap(orcherr.KindStore, "commit transaction", err)
	}
	return nil
}
