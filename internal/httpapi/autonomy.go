package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/otto/internal/autonomy"
)

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	decisions, err := s.ledger.ListDecisions(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

func (s *Server) handleCurrentWindow(w http.ResponseWriter, r *http.Request) {
	windowStart := time.Now().UTC().Truncate(time.Hour)
	window, err := s.ledger.GetWindow(r.Context(), windowStart)
	if err != nil {
		if errors.Is(err, autonomy.ErrStoreNotFound) {
			respondJSON(w, http.StatusOK, autonomy.Window{
				WindowStart: windowStart,
				WindowEnd:   windowStart.Add(time.Hour),
				Budget:      s.settings.Current().HourlyBudget,
			})
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, window)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.settings.Current())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req autonomy.Settings
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.settings.Update(req))
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	queued, evaluated, err := s.planner.RunPlanningPass(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "planning_failed", err.Error())
		return
	}
	s.sched.Heartbeat()
	respondJSON(w, http.StatusOK, autonomy.PlanResult{Queued: queued, Evaluated: evaluated})
}
