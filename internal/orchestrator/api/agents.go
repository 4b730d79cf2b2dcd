package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/orchestrator/agentctl/internal/orchestrator/alm"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
)

// spawnAgentRequest is the AgentSpawnRequest body, spec 4.6.
type spawnAgentRequest struct {
	TaskID         string   `json:"taskId"`
	Repo           string   `json:"repo"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Kind           string   `json:"kind"`
	PRNumber       int      `json:"prNumber,omitempty"`
	PRUrl          string   `json:"prUrl,omitempty"`
	Branch         string   `json:"branch,omitempty"`
	DeploymentURL  string   `json:"deploymentUrl,omitempty"`
	FocusAreas     []string `json:"focusAreas,omitempty"`
	ReviewFeedback string   `json:"reviewFeedback,omitempty"`
	ExistingBranch string   `json:"existingBranch,omitempty"`
	PromptText     string   `json:"promptText,omitempty"`
	CallbackURL    string   `json:"callbackUrl,omitempty"`
}

func (s *Server) handleSpawnAgent(w http.ResponseWriter, r *http.Request) {
	var body spawnAgentRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, orcherr.Wrap(orcherr.KindValidation, "invalid spawn request body", err))
		return
	}
	if body.TaskID == "" {
		writeError(w, orcherr.New(orcherr.KindValidation, "taskId is required"))
		return
	}

	agent, err := s.alm.Spawn(r.Context(), alm.SpawnRequest{
		TaskID: body.TaskID, Repo: body.Repo, Title: body.Title, Description: body.Description,
		Kind: model.AgentKind(body.Kind), PRNumber: body.PRNumber, PRUrl: body.PRUrl,
		Branch: body.Branch, DeploymentURL: body.DeploymentURL, FocusAreas: body.FocusAreas,
		ReviewFeedback: body.ReviewFeedback, ExistingBranch: body.ExistingBranch,
		PromptText: body.PromptText, CallbackURL: body.CallbackURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	agents, err := s.alm.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents, "limit": limit})
}

func (s *Server) handleActiveAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.alm.GetActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleAgentAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := s.alm.Analytics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, err := s.alm.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAgentLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	lines, err := s.alm.GetLogs(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (s *Server) handleKillAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.alm.Kill(r.Context(), id, model.AgentStatusKilled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}

func (s *Server) handleRetryAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, err := s.alm.Retry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}
