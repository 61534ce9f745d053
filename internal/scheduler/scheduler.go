package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/otto/internal/audit"
	"github.com/antoniostano/otto/internal/events"
	"github.com/antoniostano/otto/internal/handlers"
	"github.com/antoniostano/otto/internal/observability"
	"github.com/antoniostano/otto/internal/queue"
	"github.com/antoniostano/otto/internal/session"
)

type Mode string

const (
	ModeActive   Mode = "active"
	ModeIdle     Mode = "idle"
	ModeOffHours Mode = "off-hours"
)

// JobSource enqueues due periodic jobs at the top of each heartbeat.
type JobSource interface {
	EnqueueDueJobs(ctx context.Context) error
}

type Config struct {
	ActiveInterval   time.Duration
	IdleInterval     time.Duration
	OffHoursInterval time.Duration

	MaxTasksPerHeartbeat int

	BusinessStartHour int
	BusinessEndHour   int
	BusinessDays      map[time.Weekday]bool

	// BacklogCaps bounds the queued backlog per task type; overflow items
	// are failed with a trim reason before claiming begins.
	BacklogCaps map[string]int
}

func (c Config) withDefaults() Config {
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = 15 * time.Second
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 2 * time.Minute
	}
	if c.OffHoursInterval <= 0 {
		c.OffHoursInterval = 10 * time.Minute
	}
	if c.MaxTasksPerHeartbeat <= 0 {
		c.MaxTasksPerHeartbeat = 3
	}
	if c.BusinessEndHour <= c.BusinessStartHour {
		c.BusinessStartHour = 9
		c.BusinessEndHour = 18
	}
	if len(c.BusinessDays) == 0 {
		c.BusinessDays = map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		}
	}
	return c
}

func (c Config) interval(mode Mode) time.Duration {
	switch mode {
	case ModeActive:
		return c.ActiveInterval
	case ModeOffHours:
		return c.OffHoursInterval
	default:
		return c.IdleInterval
	}
}

// withinBusinessHours reports whether now falls on a business day inside
// [start, end) hours.
func (c Config) withinBusinessHours(now time.Time) bool {
	if !c.BusinessDays[now.Weekday()] {
		return false
	}
	h := now.Hour()
	return h >= c.BusinessStartHour && h < c.BusinessEndHour
}

// ResolveMode computes the operating mode fresh from its three inputs; no
// hysteresis.
func ResolveMode(cfg Config, now time.Time, readyDepth int, incident bool) Mode {
	if readyDepth > 0 || incident {
		return ModeActive
	}
	if !cfg.withinBusinessHours(now) {
		return ModeOffHours
	}
	return ModeIdle
}

// Scheduler drives the claim→execute→finalize loop at a mode-dependent
// cadence. All mutable loop state lives on the instance so independent
// schedulers never interfere.
type Scheduler struct {
	cfg      Config
	queue    *queue.Queue
	sessions *session.Manager
	registry *handlers.Registry
	jobs     JobSource
	sink     audit.Sink
	metrics  *observability.Metrics
	bus      *events.Bus
	store    Store

	inflight sync.WaitGroup

	mu       sync.Mutex
	running  bool
	pending  bool
	paused   bool
	incident bool
	stopped  bool
	mode     Mode
	timer    *time.Timer
	lastTick time.Time
	depth    int

	ctx context.Context
	now func() time.Time
}

func New(cfg Config, q *queue.Queue, sessions *session.Manager, registry *handlers.Registry) *Scheduler {
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		queue:    q,
		sessions: sessions,
		registry: registry,
		sink:     audit.NopSink{},
		mode:     ModeIdle,
		stopped:  true,
		ctx:      context.Background(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scheduler) SetJobSource(src JobSource)          { s.jobs = src }
func (s *Scheduler) SetAuditSink(sink audit.Sink)        { s.sink = sink }
func (s *Scheduler) SetMetrics(m *observability.Metrics) { s.metrics = m }
func (s *Scheduler) SetBus(b *events.Bus)                { s.bus = b }
func (s *Scheduler) SetStore(store Store)                { s.store = store }

func (s *Scheduler) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Start arms the loop and fires the first heartbeat immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.stopped = false
	s.mu.Unlock()
	s.Heartbeat()
}

// Stop disarms the timer. An in-flight tick finishes on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Drain blocks until every dispatched handler has finalized. Call Stop
// first or new work may keep arriving.
func (s *Scheduler) Drain() {
	s.inflight.Wait()
}

// Heartbeat requests a tick. If one is already in flight the request is
// coalesced into a single follow-up tick; ticks never run concurrently.
func (s *Scheduler) Heartbeat() {
	s.mu.Lock()
	if s.running {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	go s.runLoop()
}

func (s *Scheduler) runLoop() {
	for {
		s.tick()

		s.mu.Lock()
		if s.pending {
			s.pending = false
			s.mu.Unlock()
			continue
		}
		s.running = false
		s.scheduleNextLocked()
		s.mu.Unlock()
		return
	}
}

func (s *Scheduler) scheduleNextLocked() {
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.interval(s.mode), s.Heartbeat)
}

func (s *Scheduler) tick() {
	tickStart := s.clock()

	ctx := s.baseContext()
	if s.jobs != nil {
		stageStart := s.clock()
		if err := s.jobs.EnqueueDueJobs(ctx); err != nil {
			// A failing job source costs one cycle, never the loop.
			log.Printf("scheduled job source failed: %v", err)
		}
		s.observeStage("scheduled_jobs", s.clock().Sub(stageStart))
	}

	for taskType, keep := range s.cfg.BacklogCaps {
		if trimmed := s.queue.TrimQueued(taskType, keep); trimmed > 0 {
			log.Printf("trimmed %d queued %s item(s) over cap %d", trimmed, taskType, keep)
		}
	}

	stageStart := s.clock()
	depth := s.queue.ReadyDepth()

	s.mu.Lock()
	incident := s.incident
	paused := s.paused
	prevMode := s.mode
	mode := ResolveMode(s.cfg, tickStart, depth, incident)
	s.mode = mode
	s.depth = depth
	s.lastTick = tickStart
	s.mu.Unlock()

	if mode != prevMode {
		log.Printf("scheduler mode=%s depth=%d incident=%t", mode, depth, incident)
		s.publish(events.Event{Type: events.EventModeChanged, Mode: string(mode), Depth: depth})
	}
	s.persistState(ctx)
	s.observeStage("mode_resolution", s.clock().Sub(stageStart))

	if s.metrics != nil {
		s.metrics.HeartbeatTicks.WithLabelValues(string(mode)).Inc()
		s.metrics.QueueDepth.Set(float64(depth))
	}

	if !paused {
		stageStart = s.clock()
		s.claimAndDispatch(ctx)
		s.observeStage("claim_dispatch", s.clock().Sub(stageStart))
	}

	s.persistState(ctx)
	elapsed := s.clock().Sub(tickStart)
	s.observeStage("tick_total", elapsed)
	if s.metrics != nil {
		s.metrics.ObserveHeartbeatDuration(elapsed)
		s.metrics.ActiveSessions.Set(float64(s.sessions.LiveCount()))
	}
	s.publish(events.Event{Type: events.EventHeartbeat, Mode: string(s.Mode()), Depth: depth})
}

// claimAndDispatch spends the tick's slots: one slot is reserved for the
// interactive lane whenever any slot exists, so a noisy background producer
// cannot fully starve user-facing work.
func (s *Scheduler) claimAndDispatch(ctx context.Context) {
	slots := s.cfg.MaxTasksPerHeartbeat
	if free := s.sessions.AvailableSlots(); free < slots {
		slots = free
	}
	if slots <= 0 {
		return
	}

	var claimed []queue.Item
	if item, ok := s.queue.ClaimInteractive(); ok {
		claimed = append(claimed, item)
		slots--
		s.countClaim("interactive")
	}
	for slots > 0 {
		item, ok := s.queue.ClaimNext()
		if !ok {
			break
		}
		claimed = append(claimed, item)
		slots--
		s.countClaim("general")
	}

	for _, item := range claimed {
		sess, err := s.sessions.Start(item.ID)
		if err != nil {
			// Slots were checked above; hitting capacity here is a
			// contract violation worth surfacing loudly.
			log.Printf("session start failed for item=%s: %v", item.ID, err)
			_ = s.queue.Finalize(item.ID, false, "session_unavailable")
			continue
		}
		s.inflight.Add(1)
		go s.dispatch(ctx, item, sess)
	}
}

// dispatch runs one claimed item to completion. The tick does not wait for
// it; finalize and release always execute, whatever the handler does, and
// exactly one audit entry is appended per dispatched item.
func (s *Scheduler) dispatch(ctx context.Context, item queue.Item, sess session.Session) {
	defer s.inflight.Done()

	startedAt := s.clock()
	var (
		res        handlers.Result
		handlerErr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = fmt.Errorf("handler panic: %v", r)
			}
		}()
		handler := s.registry.Resolve(item.Payload.TaskType)
		res, handlerErr = handler.Execute(ctx, item)
	}()
	finishedAt := s.clock()

	success := handlerErr == nil
	reason := ""
	if handlerErr != nil {
		reason = handlerErr.Error()
		log.Printf("task failed: item=%s type=%s error=%v", item.ID, item.Payload.TaskType, handlerErr)
	}
	if err := s.queue.Finalize(item.ID, success, reason); err != nil {
		log.Printf("finalize failed: item=%s error=%v", item.ID, err)
	}
	s.sessions.End(sess.ID)

	exitCode := res.ExitCode
	if handlerErr != nil && exitCode == 0 {
		exitCode = 1
	}
	if err := s.sink.Append(ctx, audit.Entry{
		RunID:        uuid.NewString(),
		TaskID:       item.ID,
		Command:      item.Payload.TaskType,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
		ExitCode:     exitCode,
		ArtifactRefs: res.ArtifactRefs,
	}); err != nil {
		log.Printf("audit append failed: item=%s error=%v", item.ID, err)
	}

	if s.metrics != nil {
		outcome := "done"
		if !success {
			outcome = "failed"
		}
		s.metrics.ItemsFinalized.WithLabelValues(outcome).Inc()
		s.metrics.ActiveSessions.Set(float64(s.sessions.LiveCount()))
	}
}

func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) Incident() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incident
}

// SetPaused toggles administrative pause: heartbeats keep running for
// observability but claim nothing while paused.
func (s *Scheduler) SetPaused(paused bool) {
	s.mu.Lock()
	changed := s.paused != paused
	s.paused = paused
	s.mu.Unlock()
	if !changed {
		return
	}
	if paused {
		s.publish(events.Event{Type: events.EventPaused})
	} else {
		s.publish(events.Event{Type: events.EventResumed})
	}
	s.Heartbeat()
}

// SetIncident raises or clears the incident flag and wakes the loop so the
// mode change takes effect promptly.
func (s *Scheduler) SetIncident(active bool) {
	s.mu.Lock()
	changed := s.incident != active
	s.incident = active
	s.mu.Unlock()
	if !changed {
		return
	}
	s.publish(events.Event{Type: events.EventIncident, Detail: fmt.Sprintf("active=%t", active)})
	s.Heartbeat()
}

// State returns an observability snapshot of the loop.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.sessions.Live()
	ids := make([]string, 0, len(live))
	for _, sess := range live {
		ids = append(ids, sess.ID)
	}
	return State{
		Mode:             s.mode,
		Paused:           s.paused,
		Incident:         s.incident,
		LastTickAt:       s.lastTick,
		QueueDepth:       s.depth,
		ActiveSessionIDs: ids,
	}
}

func (s *Scheduler) persistState(ctx context.Context) {
	if s.store == nil {
		return
	}
	state := s.State()
	saveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.store.SaveState(saveCtx, state); err != nil {
		log.Printf("scheduler state save failed: %v", err)
	}
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func (s *Scheduler) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

func (s *Scheduler) observeStage(stage string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveStage(stage, d)
	}
}

func (s *Scheduler) countClaim(lane string) {
	if s.metrics != nil {
		s.metrics.ItemsClaimed.WithLabelValues(lane).Inc()
	}
}

func (s *Scheduler) publish(evt events.Event) {
	if s.bus != nil {
		s.bus.Publish(evt)
	}
}
