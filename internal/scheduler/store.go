package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrStoreNotFound = errors.New("scheduler state not found in store")

// State is the persisted observability snapshot of the loop.
type State struct {
	Mode             Mode      `json:"mode"`
	Paused           bool      `json:"paused"`
	Incident         bool      `json:"incident"`
	LastTickAt       time.Time `json:"last_tick_at"`
	QueueDepth       int       `json:"queue_depth"`
	ActiveSessionIDs []string  `json:"active_session_ids,omitempty"`
}

type Store interface {
	SaveState(ctx context.Context, state State) error
	LoadState(ctx context.Context) (State, error)
	Close() error
}

func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

type MemoryStore struct {
	mu    sync.RWMutex
	state State
	saved bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveState(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.saved = true
	return nil
}

func (s *MemoryStore) LoadState(_ context.Context) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.saved {
		return State{}, ErrStoreNotFound
	}
	return s.state, nil
}

func (s *MemoryStore) Close() error { return nil }
