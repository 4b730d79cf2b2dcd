package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
)

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.st.ListQueue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": entries})
}

func (s *Server) handleGetQueueSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.st.GetQueueSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetQueueSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := decodeBody(r, &body); err != nil {
		writeError(w, orcherr.Wrap(orcherr.KindValidation, "invalid queue settings body", err))
		return
	}
	for k, v := range body {
		if err := s.st.SetQueueSetting(r.Context(), k, v); err != nil {
			writeError(w, err)
			return
		}
	}
	settings, err := s.st.GetQueueSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]
	if _, err := s.st.GetTask(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}

	entries, err := s.st.ListQueue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	position := len(entries) + 1

	entry := &model.QueueEntry{
		ID: "queue-" + taskID, TaskID: taskID, Position: position,
		Status: model.QueueEntryQueued, QueuedAt: time.Now().UTC(),
	}
	if err := s.st.SaveQueueEntry(r.Context(), entry); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]
	if err := s.st.DeleteQueueEntry(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if err := s.st.ClearQueue(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
