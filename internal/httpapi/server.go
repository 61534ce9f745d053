package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/otto/internal/autonomy"
	"github.com/antoniostano/otto/internal/config"
	"github.com/antoniostano/otto/internal/events"
	"github.com/antoniostano/otto/internal/observability"
	"github.com/antoniostano/otto/internal/queue"
	"github.com/antoniostano/otto/internal/scheduler"
	"github.com/antoniostano/otto/internal/session"
)

type Server struct {
	cfg      config.Config
	queue    *queue.Queue
	sessions *session.Manager
	sched    *scheduler.Scheduler
	planner  *autonomy.Planner
	settings *autonomy.SettingsProvider
	ledger   autonomy.Store
	metrics  *observability.Metrics
	bus      *events.Bus
	upgrader websocket.Upgrader
}

func New(
	cfg config.Config,
	q *queue.Queue,
	sessions *session.Manager,
	sched *scheduler.Scheduler,
	planner *autonomy.Planner,
	settings *autonomy.SettingsProvider,
	ledger autonomy.Store,
	metrics *observability.Metrics,
	bus *events.Bus,
) *Server {
	return &Server{
		cfg:      cfg,
		queue:    q,
		sessions: sessions,
		sched:    sched,
		planner:  planner,
		settings: settings,
		ledger:   ledger,
		metrics:  metrics,
		bus:      bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/queue/items", s.handleEnqueue)
	r.Get("/v1/queue/items", s.handleListItems)
	r.Get("/v1/queue/items/{id}", s.handleGetItem)

	r.Get("/v1/scheduler/state", s.handleSchedulerState)
	r.Post("/v1/scheduler/heartbeat", s.handleHeartbeat)
	r.Post("/v1/scheduler/pause", s.handlePause)
	r.Post("/v1/scheduler/resume", s.handleResume)
	r.Post("/v1/scheduler/incident", s.handleIncident)

	r.Get("/v1/autonomy/decisions", s.handleListDecisions)
	r.Get("/v1/autonomy/window", s.handleCurrentWindow)
	r.Get("/v1/autonomy/settings", s.handleGetSettings)
	r.Put("/v1/autonomy/settings", s.handlePutSettings)
	r.Post("/v1/autonomy/plan", s.handlePlan)

	r.Get("/v1/perf/stages", s.handlePerfStages)
	r.Get("/v1/events/ws", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"mode":   string(s.sched.Mode()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"queue_depth": s.queue.ReadyDepth(),
		"live":        s.sessions.LiveCount(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
