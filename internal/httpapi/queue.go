package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/otto/internal/queue"
)

type enqueueRequest struct {
	DedupeKey   string        `json:"dedupe_key"`
	Priority    *int          `json:"priority,omitempty"`
	Payload     queue.Payload `json:"payload"`
	AvailableAt *time.Time    `json:"available_at,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	priority := queue.PriorityP1
	if req.Priority != nil {
		priority = queue.Priority(*req.Priority)
	}
	enq := queue.EnqueueRequest{
		DedupeKey: req.DedupeKey,
		Priority:  priority,
		Payload:   req.Payload,
	}
	if req.AvailableAt != nil {
		enq.AvailableAt = *req.AvailableAt
	}

	res, err := s.queue.Enqueue(enq)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	// After an enqueue the loop should wake promptly rather than wait out
	// the idle interval.
	s.sched.Heartbeat()

	status := http.StatusCreated
	if res.Coalesced {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	status := queue.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"items": s.queue.List(status, limit),
	})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "missing item id")
		return
	}
	item, err := s.queue.Get(id)
	if err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			respondError(w, http.StatusNotFound, "item_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, item)
}
