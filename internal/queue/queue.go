package queue

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrItemNotFound = errors.New("queue item not found")

// FailReasonTrimmed marks items finalized by backlog trimming rather than by
// a handler outcome.
const FailReasonTrimmed = "trimmed_backlog_overflow"

// Queue is the deduplicating priority queue. The in-memory map is the
// authoritative copy owned by the single scheduling process; the optional
// store mirrors every mutation for restarts and observability.
type Queue struct {
	mu sync.RWMutex

	coalesceWindow time.Duration
	store          Store
	now            func() time.Time

	items    map[string]*Item
	byDedupe map[string]string

	onChange func(Item, bool, int)

	// persistSeq stamps each mutation under q.mu; persistMu serializes the
	// async store writes and lastWritten drops snapshots that a newer write
	// has already superseded, so store rows never move backwards.
	persistSeq  uint64
	persistMu   sync.Mutex
	lastWritten map[string]uint64
}

func New(coalesceWindow time.Duration) *Queue {
	if coalesceWindow <= 0 {
		coalesceWindow = 10 * time.Second
	}
	return &Queue{
		coalesceWindow: coalesceWindow,
		now:            func() time.Time { return time.Now().UTC() },
		items:          make(map[string]*Item),
		byDedupe:       make(map[string]string),
		lastWritten:    make(map[string]uint64),
	}
}

func (q *Queue) SetStore(store Store) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.store = store
}

// SetChangeHook installs a callback invoked after every item mutation with a
// snapshot of the item and the ready depth at that point; coalesced reports
// whether the mutation merged a duplicate submission. The hook runs with the
// queue lock held and must not call back into the queue.
func (q *Queue) SetChangeHook(hook func(item Item, coalesced bool, readyDepth int)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onChange = hook
}

func (q *Queue) SetNowFunc(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Enqueue merges the submission into an existing non-terminal item with the
// same dedupe key updated within the coalesce window, or creates a new item.
func (q *Queue) Enqueue(req EnqueueRequest) (EnqueueResult, error) {
	req.DedupeKey = strings.TrimSpace(req.DedupeKey)
	if req.DedupeKey == "" {
		return EnqueueResult{}, errors.New("dedupe_key is required")
	}
	if !req.Priority.Valid() {
		return EnqueueResult{}, errors.New("priority must be P0, P1 or P2")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()

	if id, ok := q.byDedupe[req.DedupeKey]; ok {
		if item := q.items[id]; item != nil && !item.Terminal() && now.Sub(item.UpdatedAt) <= q.coalesceWindow {
			item.Payload = req.Payload
			if req.Priority < item.Priority {
				item.Priority = req.Priority
			}
			item.CoalescedCount++
			item.UpdatedAt = now
			q.persistLocked(item.Clone())
			q.notifyLocked(item.Clone(), true)
			return EnqueueResult{ID: item.ID, Coalesced: true}, nil
		}
	}

	availableAt := req.AvailableAt
	if availableAt.IsZero() {
		availableAt = now
	}
	item := &Item{
		ID:          uuid.NewString(),
		DedupeKey:   req.DedupeKey,
		Priority:    req.Priority,
		Payload:     req.Payload,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
		AvailableAt: availableAt.UTC(),
	}
	q.items[item.ID] = item
	q.byDedupe[req.DedupeKey] = item.ID
	q.persistLocked(item.Clone())
	q.notifyLocked(item.Clone(), false)
	return EnqueueResult{ID: item.ID, Coalesced: false}, nil
}

// ClaimNext picks the eligible queued item with the most urgent priority,
// FIFO within a priority class, and atomically marks it running. Returns
// false when nothing is eligible.
func (q *Queue) ClaimNext() (Item, bool) {
	return q.claim(func(Item) bool { return true })
}

// ClaimInteractive claims only from the interactive lane.
func (q *Queue) ClaimInteractive() (Item, bool) {
	return q.claim(func(i Item) bool { return i.Payload.Interactive })
}

func (q *Queue) claim(eligible func(Item) bool) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()

	var best *Item
	for _, item := range q.items {
		if item.Status != StatusQueued || item.AvailableAt.After(now) {
			continue
		}
		if !eligible(*item) {
			continue
		}
		if best == nil ||
			item.Priority < best.Priority ||
			(item.Priority == best.Priority && item.CreatedAt.Before(best.CreatedAt)) {
			best = item
		}
	}
	if best == nil {
		return Item{}, false
	}

	best.Status = StatusRunning
	best.Attempts++
	best.UpdatedAt = now
	q.persistLocked(best.Clone())
	q.notifyLocked(best.Clone(), false)
	return best.Clone(), true
}

// Finalize transitions a running item to done or failed. Reason is recorded
// on failures only.
func (q *Queue) Finalize(id string, success bool, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return ErrItemNotFound
	}
	if item.Terminal() {
		return nil
	}
	now := q.now()
	if success {
		item.Status = StatusDone
		item.FailReason = ""
	} else {
		item.Status = StatusFailed
		item.FailReason = strings.TrimSpace(reason)
	}
	item.UpdatedAt = now
	if q.byDedupe[item.DedupeKey] == item.ID {
		delete(q.byDedupe, item.DedupeKey)
	}
	q.persistLocked(item.Clone())
	q.notifyLocked(item.Clone(), false)
	return nil
}

func (q *Queue) Get(id string) (Item, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item.Clone(), nil
}

// ReadyDepth reports how many queued items are currently eligible to run.
func (q *Queue) ReadyDepth() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.readyDepthLocked()
}

func (q *Queue) readyDepthLocked() int {
	now := q.now()
	depth := 0
	for _, item := range q.items {
		if item.Status == StatusQueued && !item.AvailableAt.After(now) {
			depth++
		}
	}
	return depth
}

// PendingInteractive reports queued interactive-lane items, eligible or not.
func (q *Queue) PendingInteractive() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	count := 0
	for _, item := range q.items {
		if item.Status == StatusQueued && item.Payload.Interactive {
			count++
		}
	}
	return count
}

// RunningByType counts running items whose task type matches exactly.
func (q *Queue) RunningByType(taskType string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	count := 0
	for _, item := range q.items {
		if item.Status == StatusRunning && item.Payload.TaskType == taskType {
			count++
		}
	}
	return count
}

// List returns a snapshot of items sorted newest first, optionally filtered
// by status. A limit <= 0 means no limit.
func (q *Queue) List(status Status, limit int) []Item {
	q.mu.RLock()
	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		if status != "" && item.Status != status {
			continue
		}
		out = append(out, item.Clone())
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// TrimQueued caps the queued backlog for one task type, failing the newest
// overflow items so unattended periodic producers cannot grow the queue
// without bound. Returns how many items were trimmed.
func (q *Queue) TrimQueued(taskType string, keep int) int {
	if keep < 0 {
		keep = 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var queued []*Item
	for _, item := range q.items {
		if item.Status == StatusQueued && item.Payload.TaskType == taskType {
			queued = append(queued, item)
		}
	}
	if len(queued) <= keep {
		return 0
	}
	// Oldest submissions survive; the overflow is the newest tail.
	sort.Slice(queued, func(i, j int) bool {
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})

	now := q.now()
	trimmed := 0
	for _, item := range queued[keep:] {
		item.Status = StatusFailed
		item.FailReason = FailReasonTrimmed
		item.UpdatedAt = now
		if q.byDedupe[item.DedupeKey] == item.ID {
			delete(q.byDedupe, item.DedupeKey)
		}
		q.persistLocked(item.Clone())
		q.notifyLocked(item.Clone(), false)
		trimmed++
	}
	return trimmed
}

// Restore reloads non-terminal items from the store after a restart.
// Items persisted as running revert to queued for at-least-once redelivery;
// their attempt counts are preserved.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	q.mu.RLock()
	store := q.store
	q.mu.RUnlock()
	if store == nil {
		return 0, nil
	}

	items, err := store.ListNonTerminal(ctx)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	restored := 0
	for _, item := range items {
		if _, exists := q.items[item.ID]; exists {
			continue
		}
		if item.Status == StatusRunning {
			item.Status = StatusQueued
			item.UpdatedAt = now
			q.persistLocked(item.Clone())
		}
		cached := item.Clone()
		q.items[cached.ID] = &cached
		q.byDedupe[cached.DedupeKey] = cached.ID
		restored++
	}
	return restored, nil
}

// PruneTerminal drops terminal items older than olderThan from the in-memory
// set. Persisted rows are left alone; store retention is an operator concern.
func (q *Queue) PruneTerminal(olderThan time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	pruned := 0
	var prunedIDs []string
	for id, item := range q.items {
		if item.Terminal() && now.Sub(item.UpdatedAt) > olderThan {
			delete(q.items, id)
			prunedIDs = append(prunedIDs, id)
			pruned++
		}
	}
	if len(prunedIDs) > 0 {
		q.persistMu.Lock()
		for _, id := range prunedIDs {
			delete(q.lastWritten, id)
		}
		q.persistMu.Unlock()
	}
	return pruned
}

func (q *Queue) persistLocked(item Item) {
	store := q.store
	if store == nil {
		return
	}
	q.persistSeq++
	seq := q.persistSeq
	go func(snapshot Item, seq uint64) {
		q.persistMu.Lock()
		defer q.persistMu.Unlock()
		if q.lastWritten[snapshot.ID] > seq {
			// A later mutation of this item already reached the store.
			return
		}
		q.lastWritten[snapshot.ID] = seq
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = store.SaveItem(ctx, snapshot)
	}(item, seq)
}

func (q *Queue) notifyLocked(item Item, coalesced bool) {
	if q.onChange != nil {
		q.onChange(item, coalesced, q.readyDepthLocked())
	}
}
