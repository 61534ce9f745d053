package queue

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Priority orders claims; numerically lower wins.
type Priority int

const (
	PriorityP0 Priority = 0
	PriorityP1 Priority = 1
	PriorityP2 Priority = 2
)

func (p Priority) Valid() bool {
	return p >= PriorityP0 && p <= PriorityP2
}

func (p Priority) String() string {
	switch p {
	case PriorityP0:
		return "P0"
	case PriorityP1:
		return "P1"
	case PriorityP2:
		return "P2"
	default:
		return "P?"
	}
}

// Payload is opaque to the queue. TaskType routes the item to a handler and
// Interactive marks the item for the reserved interactive claim lane; Data is
// whatever the producing side wants the handler to see.
type Payload struct {
	TaskType    string          `json:"task_type,omitempty"`
	Interactive bool            `json:"interactive,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type Item struct {
	ID             string    `json:"id"`
	DedupeKey      string    `json:"dedupe_key"`
	Priority       Priority  `json:"priority"`
	Payload        Payload   `json:"payload"`
	Status         Status    `json:"status"`
	FailReason     string    `json:"fail_reason,omitempty"`
	Attempts       int       `json:"attempts"`
	CoalescedCount int       `json:"coalesced_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	AvailableAt    time.Time `json:"available_at"`
}

func (i Item) Clone() Item {
	out := i
	if i.Payload.Data != nil {
		out.Payload.Data = append(json.RawMessage(nil), i.Payload.Data...)
	}
	return out
}

func (i Item) Terminal() bool {
	switch i.Status {
	case StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

type EnqueueRequest struct {
	DedupeKey   string    `json:"dedupe_key"`
	Priority    Priority  `json:"priority"`
	Payload     Payload   `json:"payload"`
	AvailableAt time.Time `json:"available_at,omitempty"`
}

type EnqueueResult struct {
	ID        string `json:"id"`
	Coalesced bool   `json:"coalesced"`
}
