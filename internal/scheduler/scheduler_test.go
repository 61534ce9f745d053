package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/otto/internal/handlers"
	"github.com/antoniostano/otto/internal/queue"
	"github.com/antoniostano/otto/internal/session"
)

func testConfig() Config {
	return Config{
		ActiveInterval:       time.Hour,
		IdleInterval:         time.Hour,
		OffHoursInterval:     time.Hour,
		MaxTasksPerHeartbeat: 3,
		BusinessStartHour:    9,
		BusinessEndHour:      18,
		BusinessDays: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		},
	}
}

// 2026-03-10 is a Tuesday.
func businessTime(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 0, 0, 0, time.UTC)
}

func TestResolveMode(t *testing.T) {
	cfg := testConfig().withDefaults()
	tests := []struct {
		name     string
		now      time.Time
		depth    int
		incident bool
		want     Mode
	}{
		{"depth forces active", businessTime(11), 3, false, ModeActive},
		{"incident forces active", businessTime(11), 0, true, ModeActive},
		{"incident overrides night", businessTime(2), 0, true, ModeActive},
		{"empty during business hours", businessTime(11), 0, false, ModeIdle},
		{"empty outside business hours", businessTime(22), 0, false, ModeOffHours},
		{"empty on weekend", time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC), 0, false, ModeOffHours},
		{"start hour is inclusive", businessTime(9), 0, false, ModeIdle},
		{"end hour is exclusive", businessTime(18), 0, false, ModeOffHours},
	}
	for _, tt := range tests {
		if got := ResolveMode(cfg, tt.now, tt.depth, tt.incident); got != tt.want {
			t.Fatalf("%s: ResolveMode() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func newTestScheduler(t *testing.T, registry *handlers.Registry, maxConcurrent int) (*Scheduler, *queue.Queue, *session.Manager) {
	t.Helper()
	q := queue.New(time.Second)
	sessions := session.NewManager(maxConcurrent)
	sched := New(testConfig(), q, sessions, registry)
	sched.SetNowFunc(func() time.Time { return businessTime(11) })
	return sched, q, sessions
}

func enqueueTask(t *testing.T, q *queue.Queue, key, taskType string, interactive bool) string {
	t.Helper()
	res, err := q.Enqueue(queue.EnqueueRequest{
		DedupeKey: key,
		Priority:  queue.PriorityP1,
		Payload:   queue.Payload{TaskType: taskType, Interactive: interactive},
	})
	if err != nil {
		t.Fatalf("Enqueue(%s) error = %v", key, err)
	}
	return res.ID
}

func TestTickRunsClaimedHandler(t *testing.T) {
	var ran atomic.Int32
	registry := handlers.NewRegistry()
	registry.Register("test.work", handlers.HandlerFunc(func(context.Context, queue.Item) (handlers.Result, error) {
		ran.Add(1)
		return handlers.Result{}, nil
	}))

	sched, q, sessions := newTestScheduler(t, registry, 2)
	id := enqueueTask(t, q, "work-1", "test.work", false)

	sched.tick()
	sched.Drain()

	if got := ran.Load(); got != 1 {
		t.Fatalf("handler ran %d times, want 1", got)
	}
	item, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Status != queue.StatusDone {
		t.Fatalf("item status = %q, want done", item.Status)
	}
	if sessions.LiveCount() != 0 {
		t.Fatalf("LiveCount() = %d, want 0 after finalize", sessions.LiveCount())
	}
	if sched.Mode() != ModeActive {
		t.Fatalf("Mode() = %q, want active with non-empty queue at tick start", sched.Mode())
	}
}

func TestTickReleasesSlotOnHandlerError(t *testing.T) {
	registry := handlers.NewRegistry()
	registry.Register("test.fail", handlers.HandlerFunc(func(context.Context, queue.Item) (handlers.Result, error) {
		return handlers.Result{ExitCode: 3}, errors.New("boom")
	}))

	sched, q, sessions := newTestScheduler(t, registry, 2)
	id := enqueueTask(t, q, "fail-1", "test.fail", false)

	sched.tick()
	sched.Drain()

	item, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Status != queue.StatusFailed {
		t.Fatalf("item status = %q, want failed", item.Status)
	}
	if item.FailReason != "boom" {
		t.Fatalf("fail reason = %q, want boom", item.FailReason)
	}
	if sessions.LiveCount() != 0 {
		t.Fatalf("LiveCount() = %d, want 0 after failed handler", sessions.LiveCount())
	}
}

func TestTickReleasesSlotOnHandlerPanic(t *testing.T) {
	registry := handlers.NewRegistry()
	registry.Register("test.panic", handlers.HandlerFunc(func(context.Context, queue.Item) (handlers.Result, error) {
		panic("kaboom")
	}))

	sched, q, sessions := newTestScheduler(t, registry, 2)
	id := enqueueTask(t, q, "panic-1", "test.panic", false)

	sched.tick()
	sched.Drain()

	item, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Status != queue.StatusFailed {
		t.Fatalf("item status = %q, want failed after panic", item.Status)
	}
	if sessions.LiveCount() != 0 {
		t.Fatalf("LiveCount() = %d, want 0 after panic", sessions.LiveCount())
	}
}

func TestTickReservesInteractiveSlot(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(taskType string) {
		mu.Lock()
		order = append(order, taskType)
		mu.Unlock()
	}
	registry := handlers.NewRegistry()
	registry.Register("test.background", handlers.HandlerFunc(func(_ context.Context, item queue.Item) (handlers.Result, error) {
		record("background")
		return handlers.Result{}, nil
	}))
	registry.Register("test.chat", handlers.HandlerFunc(func(_ context.Context, item queue.Item) (handlers.Result, error) {
		record("chat")
		return handlers.Result{}, nil
	}))

	sched, q, _ := newTestScheduler(t, registry, 1)
	enqueueTask(t, q, "bg-1", "test.background", false)
	enqueueTask(t, q, "bg-2", "test.background", false)
	chatID := enqueueTask(t, q, "chat-1", "test.chat", true)

	// One slot only: the interactive item must win it.
	sched.tick()
	sched.Drain()

	item, err := q.Get(chatID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Status != queue.StatusDone {
		t.Fatalf("interactive item status = %q, want done before background work", item.Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 1 || order[0] != "chat" {
		t.Fatalf("executed %v, want only the interactive item with a single slot", order)
	}
}

func TestTickClaimsNothingWhilePaused(t *testing.T) {
	var ran atomic.Int32
	registry := handlers.NewRegistry()
	registry.Register("test.work", handlers.HandlerFunc(func(context.Context, queue.Item) (handlers.Result, error) {
		ran.Add(1)
		return handlers.Result{}, nil
	}))

	sched, q, _ := newTestScheduler(t, registry, 2)
	sched.SetPaused(true)
	// SetPaused fires a heartbeat; wait for it to settle before asserting.
	sched.Drain()
	id := enqueueTask(t, q, "work-1", "test.work", false)

	sched.tick()
	sched.Drain()

	if got := ran.Load(); got != 0 {
		t.Fatalf("handler ran %d times while paused, want 0", got)
	}
	item, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Status != queue.StatusQueued {
		t.Fatalf("item status = %q, want still queued while paused", item.Status)
	}
	if !sched.Paused() {
		t.Fatalf("Paused() = false, want true")
	}
}

type blockingJobSource struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingJobSource) EnqueueDueJobs(context.Context) error {
	b.calls.Add(1)
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func TestHeartbeatCoalescesWhileTickInFlight(t *testing.T) {
	registry := handlers.NewRegistry()
	sched, _, _ := newTestScheduler(t, registry, 1)

	src := &blockingJobSource{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	sched.SetJobSource(src)

	sched.Heartbeat()
	<-src.entered

	// All of these arrive while the first tick is blocked; they must fold
	// into exactly one follow-up tick.
	for i := 0; i < 5; i++ {
		sched.Heartbeat()
	}
	src.release <- struct{}{}

	<-src.entered
	src.release <- struct{}{}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-src.entered:
			src.release <- struct{}{}
			t.Fatalf("unexpected extra tick: heartbeats were not coalesced")
		case <-deadline:
			if got := src.calls.Load(); got != 2 {
				t.Fatalf("tick count = %d, want 2", got)
			}
			return
		}
	}
}

func TestIncidentFlagForcesActiveMode(t *testing.T) {
	registry := handlers.NewRegistry()
	sched, _, _ := newTestScheduler(t, registry, 1)
	sched.SetNowFunc(func() time.Time { return businessTime(2) })

	sched.tick()
	if sched.Mode() != ModeOffHours {
		t.Fatalf("Mode() = %q, want off-hours at night with empty queue", sched.Mode())
	}

	sched.SetIncident(true)
	sched.Drain()
	sched.tick()
	if sched.Mode() != ModeActive {
		t.Fatalf("Mode() = %q, want active during incident", sched.Mode())
	}

	sched.SetIncident(false)
	sched.Drain()
	sched.tick()
	if sched.Mode() != ModeOffHours {
		t.Fatalf("Mode() = %q, want off-hours after incident cleared", sched.Mode())
	}
}

func TestBacklogCapTrimsBeforeClaiming(t *testing.T) {
	registry := handlers.NewRegistry()
	cfg := testConfig()
	cfg.BacklogCaps = map[string]int{"test.batch": 1}
	cfg.MaxTasksPerHeartbeat = 1

	q := queue.New(time.Second)
	sessions := session.NewManager(1)
	sched := New(cfg, q, sessions, registry)
	sched.SetNowFunc(func() time.Time { return businessTime(11) })
	sched.SetPaused(true)
	sched.Drain()

	clock := businessTime(11)
	q.SetNowFunc(func() time.Time { return clock })
	for i, key := range []string{"b-1", "b-2", "b-3"} {
		clock = businessTime(11).Add(time.Duration(i) * 2 * time.Second)
		enqueueTask(t, q, key, "test.batch", false)
	}

	sched.tick()
	sched.Drain()

	failed := q.List(queue.StatusFailed, 0)
	if len(failed) != 2 {
		t.Fatalf("trimmed %d items, want 2 over cap", len(failed))
	}
	for _, item := range failed {
		if item.FailReason != queue.FailReasonTrimmed {
			t.Fatalf("fail reason = %q, want %q", item.FailReason, queue.FailReasonTrimmed)
		}
	}
}

func TestStateSnapshot(t *testing.T) {
	registry := handlers.NewRegistry()
	sched, q, _ := newTestScheduler(t, registry, 2)
	enqueueTask(t, q, "work-1", "test.unknown", false)

	sched.SetPaused(true)
	sched.Drain()
	sched.tick()
	sched.Drain()

	state := sched.State()
	if !state.Paused {
		t.Fatalf("state.Paused = false, want true")
	}
	if state.QueueDepth != 1 {
		t.Fatalf("state.QueueDepth = %d, want 1", state.QueueDepth)
	}
	if state.LastTickAt.IsZero() {
		t.Fatalf("state.LastTickAt is zero after a tick")
	}
}
