package alm

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/clock"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/promptbuilder"
	"github.com/orchestrator/agentctl/internal/orchestrator/sandbox"
	"github.com/orchestrator/agentctl/internal/orchestrator/scm"
	"github.com/orchestrator/agentctl/internal/orchestrator/store"
	"github.com/orchestrator/agentctl/internal/orchestrator/taskstore"
)

// fakeDriver is a deterministic, in-process sandbox.Driver test double:
// no real process is ever started.
type fakeDriver struct {
	mu        sync.Mutex
	exitCode  map[sandbox.Handle]int
	waitCh    map[sandbox.Handle]chan struct{}
	killed    map[sandbox.Handle]bool
	nextID    int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		exitCode: map[sandbox.Handle]int{},
		waitCh:   map[sandbox.Handle]chan struct{}{},
		killed:   map[sandbox.Handle]bool{},
	}
}

func (d *fakeDriver) Start(ctx context.Context, spec sandbox.Spec) (sandbox.Handle, io.ReadCloser, io.ReadCloser, error) {
	d.mu.Lock()
	d.nextID++
	h := sandbox.Handle(spec.AgentID)
	d.waitCh[h] = make(chan struct{})
	d.mu.Unlock()

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	go func() {
		outW.Write([]byte("starting\n"))
		outW.Write([]byte(`{"type":"result","result":"done"}` + "\n"))
		outW.Close()
		errW.Close()
	}()
	return h, outR, errR, nil
}

func (d *fakeDriver) Wait(ctx context.Context, h sandbox.Handle) (int, error) {
	d.mu.Lock()
	ch := d.waitCh[h]
	d.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	d.mu.Lock()
	code := d.exitCode[h]
	d.mu.Unlock()
	return code, nil
}

// finish signals Wait to return with the given exit code.
func (d *fakeDriver) finish(h sandbox.Handle, code int) {
	d.mu.Lock()
	d.exitCode[h] = code
	ch := d.waitCh[h]
	d.mu.Unlock()
	close(ch)
}

func (d *fakeDriver) Kill(ctx context.Context, h sandbox.Handle) error {
	d.mu.Lock()
	d.killed[h] = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Inspect(ctx context.Context, h sandbox.Handle) (bool, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	code, done := d.exitCode[h]
	if _, known := d.waitCh[h]; !known && !done {
		return false, -1, nil // no record of this handle: the process is gone
	}
	return !done, code, nil
}

func newTestManager(t *testing.T, driver sandbox.Driver) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "alm-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	mgr := NewManager(st, driver, promptbuilder.Stub{}, scm.Stub{}, taskstore.Stub{}, Options{
		WorkspacesDir: t.TempDir(),
		Ticker:        clock.NewManual(),
	})
	t.Cleanup(mgr.Shutdown)
	return mgr, st
}

func seedQueuedTask(t *testing.T, st *store.Store, id string) *model.Task {
	t.Helper()
	task := &model.Task{ID: id, Title: "Add /ping", Repo: "svc-a", Status: model.TaskStatusQueued, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := st.SaveTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestSpawnTransitionsToRunningThenCompleted(t *testing.T) {
	driver := newFakeDriver()
	mgr, st := newTestManager(t, driver)
	seedQueuedTask(t, st, "T1")

	agent, err := mgr.Spawn(context.Background(), SpawnRequest{TaskID: "T1", Repo: "svc-a", Kind: model.AgentKindTriage})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if agent.Status != model.AgentStatusRunning {
		t.Fatalf("expected running, got %s", agent.Status)
	}

	driver.finish(sandbox.Handle(agent.ID), 0)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := st.GetAgent(context.Background(), agent.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == model.AgentStatusCompleted {
			if got.CompletedAt == nil {
				t.Error("completed_at should be set, invariant I2")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("agent never reached completed status")
}

func TestKillMovesAgentToKilledAndIsIdempotent(t *testing.T) {
	driver := newFakeDriver()
	mgr, st := newTestManager(t, driver)
	seedQueuedTask(t, st, "T1")

	agent, err := mgr.Spawn(context.Background(), SpawnRequest{TaskID: "T1", Repo: "svc-a", Kind: model.AgentKindTriage})
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.Kill(context.Background(), agent.ID, model.AgentStatusKilled); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	got, err := st.GetAgent(context.Background(), agent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.AgentStatusKilled {
		t.Fatalf("expected killed, got %s", got.Status)
	}

	// law L2: subsequent kill is a no-op.
	if err := mgr.Kill(context.Background(), agent.ID, model.AgentStatusKilled); err != nil {
		t.Fatalf("second Kill should be a no-op, got error: %v", err)
	}
}

func TestRecoverOnStartReconcilesRunningRows(t *testing.T) {
	driver := newFakeDriver()
	_, st := newTestManager(t, driver)
	ctx := context.Background()

	// A1: container already exited with code 0.
	a1 := &model.Agent{ID: "coding-a1", TaskID: "T1", Kind: model.AgentKindCoding, Status: model.AgentStatusRunning, SandboxHandle: "c1", StartedAt: time.Now().UTC()}
	if err := st.SaveAgent(ctx, a1); err != nil {
		t.Fatal(err)
	}
	driver.exitCode["c1"] = 0
	driver.waitCh["c1"] = make(chan struct{})
	close(driver.waitCh["c1"])

	// A2: host process, driver has no record of it (gone).
	a2 := &model.Agent{ID: "coding-a2", TaskID: "T1", Kind: model.AgentKindCoding, Status: model.AgentStatusRunning, SandboxHandle: "pid-2", StartedAt: time.Now().UTC()}
	if err := st.SaveAgent(ctx, a2); err != nil {
		t.Fatal(err)
	}

	mgr2 := NewManager(st, driver, promptbuilder.Stub{}, scm.Stub{}, taskstore.Stub{}, Options{WorkspacesDir: t.TempDir(), Ticker: clock.NewManual()})
	t.Cleanup(mgr2.Shutdown)
	mgr2.RecoverOnStart(ctx)

	got1, err := st.GetAgent(ctx, a1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got1.Status != model.AgentStatusCompleted {
		t.Errorf("A1 should reconcile to completed, got %s", got1.Status)
	}

	got2, err := st.GetAgent(ctx, a2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got2.Status != model.AgentStatusFailed || got2.Error != "server restarted while agent was running" {
		t.Errorf("A2 should reconcile to failed with restart error, got status=%s error=%q", got2.Status, got2.Error)
	}
}
