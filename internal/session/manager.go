package session

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	ErrNotFound         = errors.New("session not found")
)

// Session is a lease on one unit of execution concurrency, held while its
// task is running.
type Session struct {
	ID        string    `json:"session_id"`
	TaskID    string    `json:"task_id"`
	StartedAt time.Time `json:"started_at"`
}

// Manager is a pure capacity gate: it bounds how many sessions are live and
// carries no ordering or priority logic.
type Manager struct {
	mu            sync.RWMutex
	maxConcurrent int
	sessions      map[string]*Session
	onLongRunning func(Session, time.Duration)
	onSweep       func(flagged int)
}

func NewManager(maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Manager{
		maxConcurrent: maxConcurrent,
		sessions:      make(map[string]*Session),
	}
}

// SetLongRunningHook installs a callback the watchdog invokes for sessions
// held past its threshold. The watchdog only reports; it never kills.
func (m *Manager) SetLongRunningHook(hook func(Session, time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLongRunning = hook
}

// SetWatchdogSweepHook observes every watchdog sweep with the number of
// sessions held past threshold; zero is reported too so gauges reset.
func (m *Manager) SetWatchdogSweepHook(hook func(flagged int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSweep = hook
}

// Start allocates a session for the task. Callers are expected to have
// checked AvailableSlots first; ErrCapacityExceeded signals a contract
// violation, not a condition to retry around.
func (m *Manager) Start(taskID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.maxConcurrent {
		return Session{}, ErrCapacityExceeded
	}
	s := &Session{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		StartedAt: time.Now().UTC(),
	}
	m.sessions[s.ID] = s
	return *s, nil
}

// End releases the session. Unknown or already-released ids are a no-op so
// error paths may double-release safely.
func (m *Manager) End(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

func (m *Manager) AvailableSlots() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	free := m.maxConcurrent - len(m.sessions)
	if free < 0 {
		free = 0
	}
	return free
}

func (m *Manager) LiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) MaxConcurrent() int {
	return m.maxConcurrent
}

// Live returns a snapshot of live sessions, oldest first.
func (m *Manager) Live() []Session {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// StartWatchdog periodically reports sessions held longer than threshold. A
// handler that never returns holds its slot until an operator intervenes;
// the watchdog makes that visible instead of silent.
func (m *Manager) StartWatchdog(ctx context.Context, interval, threshold time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reportLongRunning(threshold)
			}
		}
	}()
}

func (m *Manager) reportLongRunning(threshold time.Duration) {
	now := time.Now().UTC()
	var stale []Session

	m.mu.RLock()
	hook := m.onLongRunning
	sweep := m.onSweep
	for _, s := range m.sessions {
		if now.Sub(s.StartedAt) >= threshold {
			stale = append(stale, *s)
		}
	}
	m.mu.RUnlock()

	for _, s := range stale {
		held := now.Sub(s.StartedAt)
		log.Printf("session watchdog: session=%s task=%s held=%s", s.ID, s.TaskID, held.Round(time.Second))
		if hook != nil {
			hook(s, held)
		}
	}
	if sweep != nil {
		sweep(len(stale))
	}
}
