package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/orchestrator/agentctl/internal/orchestrator/alm"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
	"github.com/orchestrator/agentctl/internal/orchestrator/spool"
	"github.com/orchestrator/agentctl/internal/orchestrator/store"
)

type fakeAgentManager struct {
	spawned []alm.SpawnRequest
	failNotFound bool
}

func (f *fakeAgentManager) Spawn(ctx context.Context, req alm.SpawnRequest) (*model.Agent, error) {
	f.spawned = append(f.spawned, req)
	return &model.Agent{ID: "fake-1", TaskID: req.TaskID, Kind: req.Kind, Status: model.AgentStatusRunning}, nil
}

func (f *fakeAgentManager) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	if f.failNotFound {
		return nil, orcherr.New(orcherr.KindNotFound, "agent not found: "+id)
	}
	return &model.Agent{ID: id, Status: model.AgentStatusRunning}, nil
}

func (f *fakeAgentManager) List(ctx context.Context, limit int) ([]*model.Agent, error) {
	return []*model.Agent{{ID: "fake-1"}}, nil
}

func (f *fakeAgentManager) GetActive(ctx context.Context) ([]*model.Agent, error) {
	return []*model.Agent{{ID: "fake-1", Status: model.AgentStatusRunning}}, nil
}

func (f *fakeAgentManager) GetLogs(ctx context.Context, id string) ([]model.AgentLogLine, error) {
	return []model.AgentLogLine{{AgentID: id, Content: "hello"}}, nil
}

func (f *fakeAgentManager) Analytics(ctx context.Context) (*store.AgentAnalytics, error) {
	return &store.AgentAnalytics{}, nil
}

func (f *fakeAgentManager) Kill(ctx context.Context, id string, reason model.AgentStatus) error {
	return nil
}

func (f *fakeAgentManager) Retry(ctx context.Context, id string) (*model.Agent, error) {
	return &model.Agent{ID: "fake-2"}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeAgentManager) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sp, err := spool.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	mgr := &fakeAgentManager{}
	return NewServer(st, sp, mgr), mgr
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSpawnAgentRequiresTaskID(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/agents/spawn", bytes.NewReader([]byte(`{}`)))
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Kind != string(orcherr.KindValidation) {
		t.Errorf("expected validation-error kind, got %s", body.Kind)
	}
}

func TestSpawnAgentSucceeds(t *testing.T) {
	s, mgr := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/agents/spawn", bytes.NewReader([]byte(`{"taskId":"T1","repo":"svc-a"}`)))
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(mgr.spawned) != 1 || mgr.spawned[0].TaskID != "T1" {
		t.Errorf("expected one spawn for T1, got %+v", mgr.spawned)
	}
}

func TestGetAgentNotFoundMapsTo404(t *testing.T) {
	s, mgr := newTestServer(t)
	mgr.failNotFound = true
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agents/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEventsRoundtrip(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader([]byte(`{"type":"agent.escalation","payload":{"taskId":"T1","agentId":"A1","reason":"stuck"}}`)))
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/events/pending", nil))
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec2.Code)
	}
	var body map[string][]map[string]any
	if err := json.Unmarshal(rec2.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body["events"]) != 1 {
		t.Fatalf("expected one pending event, got %d", len(body["events"]))
	}
}

func TestQueueSettingsRoundtrip(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/queue/settings", bytes.NewReader([]byte(`{"paused":"true"}`)))
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/queue/settings", nil))
	var settings model.QueueSettings
	if err := json.Unmarshal(rec2.Body.Bytes(), &settings); err != nil {
		t.Fatal(err)
	}
	if !settings.Paused() {
		t.Error("expected paused=true to round-trip")
	}
}
