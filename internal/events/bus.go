package events

import (
	"sync"
	"time"
)

type Type string

const (
	EventItemEnqueued     Type = "item_enqueued"
	EventItemCoalesced    Type = "item_coalesced"
	EventItemClaimed      Type = "item_claimed"
	EventItemDone         Type = "item_done"
	EventItemFailed       Type = "item_failed"
	EventHeartbeat        Type = "heartbeat"
	EventModeChanged      Type = "mode_changed"
	EventAutonomyDecision Type = "autonomy_decision"
	EventIncident         Type = "incident"
	EventPaused           Type = "paused"
	EventResumed          Type = "resumed"
)

// Event is one lifecycle notification. Fields beyond Type and At are set
// only where they apply.
type Event struct {
	Type      Type      `json:"type"`
	ItemID    string    `json:"item_id,omitempty"`
	DedupeKey string    `json:"dedupe_key,omitempty"`
	TaskType  string    `json:"task_type,omitempty"`
	Priority  string    `json:"priority,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Depth     int       `json:"depth,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

const defaultHistoryLimit = 512

// Bus is a process-local pub/sub fan-out. Publishing never blocks: a
// subscriber whose buffer is full loses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextSubID   int
	history     []Event
	historyMax  int
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
		historyMax:  defaultHistoryLimit,
	}
}

func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
}

func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, evt)
	if len(b.history) > b.historyMax {
		trimFrom := len(b.history) - b.historyMax
		b.history = append([]Event(nil), b.history[trimFrom:]...)
	}
	// Sends stay under the lock: an unsubscribe closes its channel under
	// the same lock, so a send can never hit a closed channel. Sends are
	// non-blocking, so holding the lock here never stalls publishers.
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Recent returns up to limit most recent events, oldest first.
func (b *Bus) Recent(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.history
	start := 0
	if limit > 0 && limit < len(events) {
		start = len(events) - limit
	}
	out := make([]Event, len(events)-start)
	copy(out, events[start:])
	return out
}
