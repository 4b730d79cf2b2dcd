package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/alm"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/spool"
	"github.com/orchestrator/agentctl/internal/orchestrator/store"
)

type fakeSpawner struct {
	calls []alm.SpawnRequest
}

func (f *fakeSpawner) Spawn(ctx context.Context, req alm.SpawnRequest) (*model.Agent, error) {
	f.calls = append(f.calls, req)
	return &model.Agent{ID: "fake-agent", TaskID: req.TaskID}, nil
}

func newTestProcessor(t *testing.T, opts Options) (*Processor, *store.Store, *spool.Spool, *fakeSpawner) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "queue-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sp, err := spool.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	spawner := &fakeSpawner{}
	p := New(st, sp, spawner, opts)
	return p, st, sp, spawner
}

func seedQueued(t *testing.T, st *store.Store, taskID string, position int) {
	t.Helper()
	ctx := context.Background()
	task := &model.Task{ID: taskID, Title: "t", Repo: "svc-a", Status: model.TaskStatusQueued, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := st.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	entry := &model.QueueEntry{ID: "Q-" + taskID, TaskID: taskID, Position: position, Status: model.QueueEntryQueued, QueuedAt: time.Now().UTC()}
	if err := st.SaveQueueEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}
}

func TestTickClaimsLowestPositionAndSpawnsDirectly(t *testing.T) {
	p, st, _, spawner := newTestProcessor(t, Options{})
	seedQueued(t, st, "T2", 2)
	seedQueued(t, st, "T1", 1)

	p.Tick(context.Background())

	if len(spawner.calls) != 1 || spawner.calls[0].TaskID != "T1" {
		t.Fatalf("expected a direct spawn for T1 (lowest position), got %+v", spawner.calls)
	}
	entry, err := st.GetQueueEntryByTask(context.Background(), "T1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != model.QueueEntryProcessing {
		t.Errorf("expected entry marked processing, got %s", entry.Status)
	}
}

func TestTickRespectsPaused(t *testing.T) {
	p, st, _, spawner := newTestProcessor(t, Options{})
	seedQueued(t, st, "T1", 1)
	if err := st.SetQueueSetting(context.Background(), model.QueueSettingPaused, "true"); err != nil {
		t.Fatal(err)
	}

	p.Tick(context.Background())

	if len(spawner.calls) != 0 {
		t.Error("paused queue should not spawn")
	}
}

func TestTickRespectsMaxConcurrent(t *testing.T) {
	p, st, _, spawner := newTestProcessor(t, Options{})
	ctx := context.Background()
	seedQueued(t, st, "T1", 1)
	if err := st.SetQueueSetting(ctx, model.QueueSettingMaxConcurrent, "1"); err != nil {
		t.Fatal(err)
	}
	// Simulate one already-processing entry occupying the only slot.
	already := &model.Task{ID: "TX", Title: "x", Repo: "svc-a", Status: model.TaskStatusInProgress, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := st.SaveTask(ctx, already); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveQueueEntry(ctx, &model.QueueEntry{ID: "QX", TaskID: "TX", Position: 0, Status: model.QueueEntryProcessing, QueuedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	p.Tick(ctx)

	if len(spawner.calls) != 0 {
		t.Error("max_concurrent=1 with one already processing should block this tick (invariant I5)")
	}
}

func TestTickFailsTaskWithNoResolvableRepo(t *testing.T) {
	p, st, _, spawner := newTestProcessor(t, Options{})
	ctx := context.Background()
	task := &model.Task{ID: "T1", Title: "t", Status: model.TaskStatusQueued, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := st.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveQueueEntry(ctx, &model.QueueEntry{ID: "Q1", TaskID: "T1", Position: 1, Status: model.QueueEntryQueued, QueuedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	p.Tick(ctx)

	if len(spawner.calls) != 0 {
		t.Error("no spawn expected for an unresolvable repo")
	}
	got, err := st.GetTask(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.TaskStatusFailed {
		t.Errorf("expected task failed, got %s", got.Status)
	}
	if _, err := st.GetQueueEntryByTask(ctx, "T1"); err == nil {
		t.Error("expected queue entry to be deleted")
	}
}

func TestTickAppendsEventWhenMultiAgentEventsEnabled(t *testing.T) {
	p, st, sp, spawner := newTestProcessor(t, Options{UseMultiAgentEvents: true})
	seedQueued(t, st, "T1", 1)

	p.Tick(context.Background())

	if len(spawner.calls) != 0 {
		t.Error("direct spawn should not happen when multi-agent-events is on")
	}
	pending, err := sp.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Kind != model.EventTaskAssigned {
		t.Fatalf("expected one task.assigned event, got %+v", pending)
	}
}
