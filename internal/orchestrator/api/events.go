package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
)

func limitFromQuery(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			return parsed
		}
	}
	return def
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.sp.ListAll(limitFromQuery(r, 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type appendEventRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Source  string          `json:"source,omitempty"`
}

func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var body appendEventRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, orcherr.Wrap(orcherr.KindValidation, "invalid event body", err))
		return
	}
	if body.Type == "" {
		writeError(w, orcherr.New(orcherr.KindValidation, "type is required"))
		return
	}
	source := body.Source
	if source == "" {
		source = "api"
	}
	ev, err := s.sp.Append(model.EventKind(body.Type), body.Payload, source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handlePendingEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.sp.ListPending()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleProcessedEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.sp.ListProcessed(limitFromQuery(r, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ev, err := s.sp.GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleMarkEventProcessed(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sp.MarkProcessed(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
