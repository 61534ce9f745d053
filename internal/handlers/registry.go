package handlers

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/antoniostano/otto/internal/queue"
)

// Result carries what the audit trail needs from a handler run beyond
// success or failure.
type Result struct {
	ExitCode     int
	ArtifactRefs []string
}

// Handler executes one claimed queue item. A non-nil error marks the item
// failed; the scheduler never retries.
type Handler interface {
	Execute(ctx context.Context, item queue.Item) (Result, error)
}

type HandlerFunc func(ctx context.Context, item queue.Item) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, item queue.Item) (Result, error) {
	return f(ctx, item)
}

// Registry routes items to handlers by task type. Unknown or empty task
// types fall back to a benign no-op so one unroutable row never wedges the
// heartbeat loop.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		fallback: HandlerFunc(noop),
	}
}

func (r *Registry) Register(taskType string, h Handler) {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

// Resolve never returns nil.
func (r *Registry) Resolve(taskType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[strings.TrimSpace(taskType)]; ok {
		return h
	}
	return r.fallback
}

func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func noop(_ context.Context, item queue.Item) (Result, error) {
	log.Printf("no handler for task type %q, item=%s finalized as no-op", item.Payload.TaskType, item.ID)
	return Result{}, nil
}
