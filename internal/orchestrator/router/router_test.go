package router

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/alm"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/spool"
	"github.com/orchestrator/agentctl/internal/orchestrator/store"
)

// fakeSpawner records every spawn request; optionally fails the Nth call.
type fakeSpawner struct {
	mu       sync.Mutex
	calls    []alm.SpawnRequest
	failNext int // fail this many upcoming calls, then succeed
}

func (f *fakeSpawner) Spawn(ctx context.Context, req alm.SpawnRequest) (*model.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.failNext > 0 {
		f.failNext--
		return nil, errSpawnFailed
	}
	return &model.Agent{ID: "fake-agent", TaskID: req.TaskID, Kind: req.Kind}, nil
}

var errSpawnFailed = &spawnError{"spawn failed"}

type spawnError struct{ msg string }

func (e *spawnError) Error() string { return e.msg }

func newTestRouter(t *testing.T) (*Router, *store.Store, *spool.Spool, *fakeSpawner) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "router-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sp, err := spool.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	spawner := &fakeSpawner{}
	r := New(sp, st, spawner, Options{})
	return r, st, sp, spawner
}

func seedTask(t *testing.T, st *store.Store, id string, status model.TaskStatus) {
	t.Helper()
	task := &model.Task{ID: id, Title: "t", Repo: "svc-a", Status: status, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := st.SaveTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
}

func TestTaskAssignedSpawnsTriageAndMarksProcessed(t *testing.T) {
	r, _, sp, spawner := newTestRouter(t)
	seedTask(t, r.st, "T1", model.TaskStatusQueued)

	_, err := sp.Append(model.EventTaskAssigned, model.TaskAssignedPayload{TaskID: "T1", Title: "t", Repo: "svc-a"}, "test")
	if err != nil {
		t.Fatal(err)
	}

	r.Tick(context.Background())

	if len(spawner.calls) != 1 || spawner.calls[0].Kind != model.AgentKindTriage {
		t.Fatalf("expected one triage spawn, got %+v", spawner.calls)
	}
	pending, err := sp.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Error("event should have been marked processed")
	}
}

func TestHandlerFailureLeavesEventPendingForRetry(t *testing.T) {
	r, _, sp, spawner := newTestRouter(t)
	seedTask(t, r.st, "T1", model.TaskStatusQueued)
	spawner.failNext = 1

	_, err := sp.Append(model.EventTaskAssigned, model.TaskAssignedPayload{TaskID: "T1", Title: "t", Repo: "svc-a"}, "test")
	if err != nil {
		t.Fatal(err)
	}

	r.Tick(context.Background())
	pending, err := sp.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatal("event should remain pending after handler failure (scenario S6)")
	}

	// Next tick retries and this time succeeds.
	r.Tick(context.Background())
	pending, err = sp.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Error("event should be processed on retry")
	}
	if len(spawner.calls) != 2 {
		t.Errorf("expected 2 spawn attempts (1 failed + 1 retry), got %d", len(spawner.calls))
	}
}

func TestEventsHandledInFilenameOrder(t *testing.T) {
	r, _, sp, spawner := newTestRouter(t)
	seedTask(t, r.st, "T1", model.TaskStatusQueued)
	seedTask(t, r.st, "T2", model.TaskStatusQueued)

	sp.Append(model.EventTaskAssigned, model.TaskAssignedPayload{TaskID: "T1", Repo: "svc-a"}, "test")
	time.Sleep(2 * time.Millisecond)
	sp.Append(model.EventTaskAssigned, model.TaskAssignedPayload{TaskID: "T2", Repo: "svc-a"}, "test")

	r.Tick(context.Background())

	if len(spawner.calls) != 2 {
		t.Fatalf("expected 2 spawns, got %d", len(spawner.calls))
	}
	if spawner.calls[0].TaskID != "T1" || spawner.calls[1].TaskID != "T2" {
		t.Errorf("events should be handled in chronological/filename order, got %s then %s", spawner.calls[0].TaskID, spawner.calls[1].TaskID)
	}
}

func TestTaskClosedCompletesTaskAndQueueEntry(t *testing.T) {
	r, st, sp, _ := newTestRouter(t)
	seedTask(t, st, "T1", model.TaskStatusInProgress)
	if err := st.SaveQueueEntry(context.Background(), &model.QueueEntry{ID: "Q1", TaskID: "T1", Position: 1, Status: model.QueueEntryProcessing, QueuedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	sp.Append(model.EventTaskClosed, model.TaskClosedPayload{TaskID: "T1", Reason: "done", Resolution: "no_action_needed"}, "test")
	r.Tick(context.Background())

	task, err := st.GetTask(context.Background(), "T1")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != model.TaskStatusCompleted {
		t.Errorf("expected task completed, got %s", task.Status)
	}
	q, err := st.GetQueueEntryByTask(context.Background(), "T1")
	if err != nil {
		t.Fatal(err)
	}
	if q.Status != model.QueueEntryCompleted {
		t.Errorf("expected queue entry completed, got %s", q.Status)
	}
}

func TestUnknownEventKindLeftPending(t *testing.T) {
	r, _, sp, spawner := newTestRouter(t)
	sp.Append(model.EventKind("something.unknown"), map[string]string{"x": "y"}, "test")

	r.Tick(context.Background())

	pending, err := sp.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Error("unknown-kind event should remain pending")
	}
	if len(spawner.calls) != 0 {
		t.Error("unknown-kind event should not trigger a spawn")
	}
}

func TestConcurrentTicksAreSingleFlight(t *testing.T) {
	r, _, sp, spawner := newTestRouter(t)
	seedTask(t, r.st, "T1", model.TaskStatusQueued)
	sp.Append(model.EventTaskAssigned, model.TaskAssignedPayload{TaskID: "T1", Repo: "svc-a"}, "test")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Tick(context.Background())
		}()
	}
	wg.Wait()

	pending, err := sp.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Error("expected the event to have been processed by exactly one of the concurrent ticks")
	}
	if len(spawner.calls) != 1 {
		t.Errorf("expected exactly one spawn across the concurrent ticks, got %d", len(spawner.calls))
	}
}
