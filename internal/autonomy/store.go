package autonomy

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrStoreNotFound = errors.New("autonomy window not found in store")

type Store interface {
	GetWindow(ctx context.Context, windowStart time.Time) (Window, error)
	SaveWindow(ctx context.Context, window Window) error
	AppendDecision(ctx context.Context, decision Decision) error
	CountAdmitted(ctx context.Context, windowStart time.Time) (int, error)
	ListDecisions(ctx context.Context, limit int) ([]Decision, error)
	Close() error
}

func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// MemoryStore is the in-process ledger used when no database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	windows   map[int64]Window
	decisions []Decision
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[int64]Window)}
}

func (s *MemoryStore) GetWindow(_ context.Context, windowStart time.Time) (Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[windowStart.UTC().Unix()]
	if !ok {
		return Window{}, ErrStoreNotFound
	}
	return w, nil
}

func (s *MemoryStore) SaveWindow(_ context.Context, window Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[window.WindowStart.UTC().Unix()] = window
	return nil
}

func (s *MemoryStore) AppendDecision(_ context.Context, decision Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, decision)
	return nil
}

func (s *MemoryStore) CountAdmitted(_ context.Context, windowStart time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := windowStart.UTC().Unix()
	count := 0
	for _, d := range s.decisions {
		if d.Decision == OutcomeQueued && d.BudgetWindow.UTC().Unix() == start {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListDecisions(_ context.Context, limit int) ([]Decision, error) {
	s.mu.RLock()
	out := make([]Decision, len(s.decisions))
	copy(out, s.decisions)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
