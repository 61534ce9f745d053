package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/antoniostano/otto/internal/queue"
)

const (
	// TaskTypeQueuePrune drops aged terminal items from the in-memory queue.
	TaskTypeQueuePrune = "maintenance.queue_prune"
	// TaskTypeChatReply is the interactive development handler.
	TaskTypeChatReply = "chat.reply"
	// TaskTypeAutonomyPlan runs one autonomy planning pass.
	TaskTypeAutonomyPlan = "autonomy.plan"
)

type prunePayload struct {
	Retention string `json:"retention,omitempty"`
}

// NewQueuePruneHandler builds the terminal-item retention handler.
func NewQueuePruneHandler(q *queue.Queue, defaultRetention time.Duration) Handler {
	if defaultRetention <= 0 {
		defaultRetention = 24 * time.Hour
	}
	return HandlerFunc(func(_ context.Context, item queue.Item) (Result, error) {
		retention := defaultRetention
		if len(item.Payload.Data) > 0 {
			var payload prunePayload
			if err := json.Unmarshal(item.Payload.Data, &payload); err == nil && payload.Retention != "" {
				if d, err := time.ParseDuration(payload.Retention); err == nil && d > 0 {
					retention = d
				}
			}
		}
		pruned := q.PruneTerminal(retention)
		if pruned > 0 {
			log.Printf("queue prune: removed %d terminal item(s) older than %s", pruned, retention)
		}
		return Result{}, nil
	})
}

type chatPayload struct {
	Message string `json:"message"`
}

// NewChatReplyHandler builds the interactive echo handler used in
// development and by the load harness.
func NewChatReplyHandler(reply func(message string)) Handler {
	return HandlerFunc(func(_ context.Context, item queue.Item) (Result, error) {
		var payload chatPayload
		if len(item.Payload.Data) > 0 {
			if err := json.Unmarshal(item.Payload.Data, &payload); err != nil {
				return Result{ExitCode: 1}, fmt.Errorf("decode chat payload: %w", err)
			}
		}
		msg := strings.TrimSpace(payload.Message)
		if reply != nil {
			reply(msg)
		} else {
			log.Printf("chat reply: %s", msg)
		}
		return Result{}, nil
	})
}

type missionPayload struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Title  string  `json:"title"`
	EV     float64 `json:"ev"`
}

// NewMissionHandler builds the executor for admitted autonomy candidates.
// The run function carries the actual work; when nil the mission is only
// acknowledged, which is what a core running without an agent backend does.
func NewMissionHandler(run func(ctx context.Context, source, id, title string) error) Handler {
	return HandlerFunc(func(ctx context.Context, item queue.Item) (Result, error) {
		var payload missionPayload
		if err := json.Unmarshal(item.Payload.Data, &payload); err != nil {
			return Result{ExitCode: 1}, fmt.Errorf("decode mission payload: %w", err)
		}
		if run == nil {
			log.Printf("mission acknowledged: source=%s id=%s title=%q ev=%.2f", payload.Source, payload.ID, payload.Title, payload.EV)
			return Result{}, nil
		}
		if err := run(ctx, payload.Source, payload.ID, payload.Title); err != nil {
			return Result{ExitCode: 1}, fmt.Errorf("mission %s/%s: %w", payload.Source, payload.ID, err)
		}
		return Result{}, nil
	})
}

// PlanRunner is the slice of the autonomy planner the plan handler needs.
type PlanRunner interface {
	RunPlanningPass(ctx context.Context) (queued, evaluated int, err error)
}

// NewAutonomyPlanHandler wires planning passes through the queue so they are
// scheduled, deduped and audited like any other periodic job.
func NewAutonomyPlanHandler(planner PlanRunner) Handler {
	return HandlerFunc(func(ctx context.Context, _ queue.Item) (Result, error) {
		queued, evaluated, err := planner.RunPlanningPass(ctx)
		if err != nil {
			return Result{ExitCode: 1}, fmt.Errorf("planning pass: %w", err)
		}
		log.Printf("autonomy plan: queued=%d evaluated=%d", queued, evaluated)
		return Result{}, nil
	})
}
