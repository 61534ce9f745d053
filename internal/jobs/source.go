package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/otto/internal/queue"
)

type Kind string

const (
	KindInterval Kind = "interval"
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
)

// Job is one periodic work definition. Interval jobs fire once per Every
// period; daily jobs once per day at Hour; weekly jobs once per week on
// Weekday at Hour.
type Job struct {
	Name     string
	TaskType string
	Priority queue.Priority
	Data     json.RawMessage

	Kind    Kind
	Every   time.Duration
	Hour    int
	Weekday time.Weekday
}

// Source implements the scheduled-job contract: every heartbeat asks it to
// enqueue whatever is due. Slot-stamped dedupe keys plus per-job slot
// tracking make repeated invocation safe.
type Source struct {
	mu       sync.Mutex
	queue    *queue.Queue
	jobs     []Job
	lastSlot map[string]string
	now      func() time.Time
}

func NewSource(q *queue.Queue) *Source {
	return &Source{
		queue:    q,
		lastSlot: make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Source) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Source) Register(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		return errors.New("job name is required")
	}
	if strings.TrimSpace(job.TaskType) == "" {
		return errors.New("job task type is required")
	}
	switch job.Kind {
	case KindInterval:
		if job.Every <= 0 {
			return fmt.Errorf("interval job %q needs a positive period", job.Name)
		}
	case KindDaily, KindWeekly:
		if job.Hour < 0 || job.Hour > 23 {
			return fmt.Errorf("job %q hour must be in [0,23]", job.Name)
		}
	default:
		return fmt.Errorf("job %q has unknown kind %q", job.Name, job.Kind)
	}
	if !job.Priority.Valid() {
		job.Priority = queue.PriorityP2
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.Name == job.Name {
			return fmt.Errorf("job %q already registered", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// EnqueueDueJobs enqueues every registered job whose current period slot has
// not been enqueued yet. The first error aborts the pass; remaining jobs
// catch up on the next heartbeat.
func (s *Source) EnqueueDueJobs(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	for _, job := range s.jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		slot, due := job.currentSlot(now)
		if !due || s.lastSlot[job.Name] == slot {
			continue
		}
		_, err := s.queue.Enqueue(queue.EnqueueRequest{
			DedupeKey: fmt.Sprintf("job:%s:%s", job.Name, slot),
			Priority:  job.Priority,
			Payload: queue.Payload{
				TaskType: job.TaskType,
				Data:     job.Data,
			},
		})
		if err != nil {
			return fmt.Errorf("enqueue job %s: %w", job.Name, err)
		}
		s.lastSlot[job.Name] = slot
	}
	return nil
}

func (j Job) currentSlot(now time.Time) (string, bool) {
	switch j.Kind {
	case KindInterval:
		return now.Truncate(j.Every).Format(time.RFC3339), true
	case KindDaily:
		if now.Hour() < j.Hour {
			return "", false
		}
		return now.Format("2006-01-02"), true
	case KindWeekly:
		if now.Weekday() != j.Weekday || now.Hour() < j.Hour {
			return "", false
		}
		return now.Format("2006-01-02"), true
	default:
		return "", false
	}
}
