// Package api is the Public Interface, spec 4.6: the synchronous
// request/response REST surface over the ALM, Store, and Event Spool.
//
// Grounded on the teacher's internal/handlers/tasks.go
// (handler-struct-per-resource, pagination, mux.Vars, limitRequestSize DoS
// guard) and internal/server/server.go's setupRoutes()/Start()/Shutdown()
// registration and lifecycle style.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/orchestrator/agentctl/internal/orchestrator/alm"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/spool"
	"github.com/orchestrator/agentctl/internal/orchestrator/store"
)

// maxPayloadSize bounds request bodies the way the teacher's
// handlers.MaxPayloadSize does, to prevent DoS via oversized payloads.
const maxPayloadSize = 1 * 1024 * 1024 // 1MB

func limitRequestSize(r *http.Request) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxPayloadSize)
}

// AgentManager is the subset of the ALM's surface the Public Interface
// depends on; an interface so handler tests can substitute a fake.
type AgentManager interface {
	Spawn(ctx context.Context, req alm.SpawnRequest) (*model.Agent, error)
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	List(ctx context.Context, limit int) ([]*model.Agent, error)
	GetActive(ctx context.Context) ([]*model.Agent, error)
	GetLogs(ctx context.Context, id string) ([]model.AgentLogLine, error)
	Analytics(ctx context.Context) (*store.AgentAnalytics, error)
	Kill(ctx context.Context, id string, reason model.AgentStatus) error
	Retry(ctx context.Context, id string) (*model.Agent, error)
}

// Server is the Public Interface's HTTP server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server

	st  *store.Store
	sp  *spool.Spool
	alm AgentManager
}

// NewServer builds the Public Interface bound to st/sp/almMgr and
// registers every route named in spec 4.6.
func NewServer(st *store.Store, sp *spool.Spool, almMgr AgentManager) *Server {
	s := &Server{st: st, sp: sp, alm: almMgr}
	s.setupRoutes()
	return s
}

// Router exposes the underlying mux.Router so callers (e.g. main.go) can
// mount supplemented handlers such as the websocket log stream alongside
// this surface.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/agents/spawn", s.handleSpawnAgent).Methods(http.MethodPost)
	r.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	r.HandleFunc("/agents/active", s.handleActiveAgents).Methods(http.MethodGet)
	r.HandleFunc("/agents/analytics", s.handleAgentAnalytics).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}", s.handleGetAgent).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/logs", s.handleAgentLogs).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/kill", s.handleKillAgent).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}/retry", s.handleRetryAgent).Methods(http.MethodPost)

	r.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleAppendEvent).Methods(http.MethodPost)
	r.HandleFunc("/events/pending", s.handlePendingEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/processed", s.handleProcessedEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}", s.handleGetEvent).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}/processed", s.handleMarkEventProcessed).Methods(http.MethodPost)

	r.HandleFunc("/queue", s.handleListQueue).Methods(http.MethodGet)
	r.HandleFunc("/queue/settings", s.handleGetQueueSettings).Methods(http.MethodGet)
	r.HandleFunc("/queue/settings", s.handleSetQueueSettings).Methods(http.MethodPost)
	r.HandleFunc("/queue/add/{taskId}", s.handleQueueAdd).Methods(http.MethodPost)
	r.HandleFunc("/queue/clear", s.handleQueueClear).Methods(http.MethodPost)
	r.HandleFunc("/queue/{taskId}", s.handleQueueRemove).Methods(http.MethodDelete)

	s.router = r
}

// Start begins serving on addr; it blocks until the listener stops, the
// same contract as the teacher's Server.Start.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, v any) error {
	limitRequestSize(r)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
