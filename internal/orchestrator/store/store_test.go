package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/model"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestrator-test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAgentSaveAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := &model.Agent{
		ID:        "triage-abcd1234",
		TaskID:    "T1",
		Kind:      model.AgentKindTriage,
		Status:    model.AgentStatusStarting,
		StartedAt: time.Now().UTC(),
	}
	if err := s.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	loaded, err := s.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if loaded.TaskID != agent.TaskID || loaded.Status != model.AgentStatusStarting {
		t.Errorf("loaded agent mismatch: %+v", loaded)
	}

	agent.Status = model.AgentStatusRunning
	agent.SandboxHandle = "pid-123"
	if err := s.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent update: %v", err)
	}
	loaded, err = s.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent after update: %v", err)
	}
	if loaded.Status != model.AgentStatusRunning || loaded.SandboxHandle != "pid-123" {
		t.Errorf("update not reflected: %+v", loaded)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.GetAgent(context.Background(), "missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestAppendLogLinesAndOrdering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := &model.Agent{ID: "coding-1", TaskID: "T1", Kind: model.AgentKindCoding, Status: model.AgentStatusRunning, StartedAt: time.Now().UTC()}
	if err := s.SaveAgent(ctx, agent); err != nil {
		t.Fatal(err)
	}

	lines := []model.AgentLogLine{
		{AgentID: agent.ID, Timestamp: time.Now().UTC(), Stream: model.LogStreamOut, Content: "first"},
		{AgentID: agent.ID, Timestamp: time.Now().UTC(), Stream: model.LogStreamOut, Content: "second"},
		{AgentID: agent.ID, Timestamp: time.Now().UTC(), Stream: model.LogStreamErr, Content: "third"},
	}
	if err := s.AppendLogLines(ctx, lines); err != nil {
		t.Fatalf("AppendLogLines: %v", err)
	}

	got, err := s.GetLogLines(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Content != want {
			t.Errorf("line %d: got %q want %q (order not preserved)", i, got[i].Content, want)
		}
	}
}

func TestTaskStatusTransitionsQueueEntry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	task := &model.Task{ID: "T1", Title: "Add /ping", Repo: "svc-a", Status: model.TaskStatusQueued, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	entry := &model.QueueEntry{ID: "Q1", TaskID: task.ID, Position: 1, Status: model.QueueEntryQueued, QueuedAt: time.Now().UTC()}
	if err := s.SaveQueueEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}

	q, tk, err := s.GetPendingQueueHead(ctx)
	if err != nil {
		t.Fatalf("GetPendingQueueHead: %v", err)
	}
	if q == nil || tk == nil {
		t.Fatal("expected a pending head")
	}
	if q.TaskID != "T1" {
		t.Errorf("wrong task claimed: %s", q.TaskID)
	}

	task.Status = model.TaskStatusAssigned
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	q2, tk2, err := s.GetPendingQueueHead(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if q2 != nil || tk2 != nil {
		t.Errorf("task no longer queued should not be claimable, got %+v", q2)
	}
}

func TestQueueSettingsDefaults(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	settings, err := s.GetQueueSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if settings.Paused() {
		t.Error("paused should default false")
	}
	if settings.MaxConcurrent() != 1 {
		t.Errorf("max_concurrent should default to 1, got %d", settings.MaxConcurrent())
	}

	if err := s.SetQueueSetting(ctx, model.QueueSettingMaxConcurrent, "3"); err != nil {
		t.Fatal(err)
	}
	settings, err = s.GetQueueSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if settings.MaxConcurrent() != 3 {
		t.Errorf("expected max_concurrent=3, got %d", settings.MaxConcurrent())
	}
}
