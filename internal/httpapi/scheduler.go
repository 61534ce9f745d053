package httpapi

import (
	"errors"
	"net/http"
)

func (s *Server) handleSchedulerState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.sched.State())
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, _ *http.Request) {
	s.sched.Heartbeat()
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "requested"})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.sched.SetPaused(true)
	respondJSON(w, http.StatusOK, s.sched.State())
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.sched.SetPaused(false)
	respondJSON(w, http.StatusOK, s.sched.State())
}

type incidentRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) handleIncident(w http.ResponseWriter, r *http.Request) {
	var req incidentRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	s.sched.SetIncident(active)
	respondJSON(w, http.StatusOK, s.sched.State())
}

func (s *Server) handlePerfStages(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}
