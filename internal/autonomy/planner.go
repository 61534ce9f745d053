package autonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/otto/internal/policy"
	"github.com/antoniostano/otto/internal/queue"
)

// TaskTypeMission is the task type admitted candidates are enqueued under.
const TaskTypeMission = "autonomy.mission"

// CandidateSource produces externally-scored candidates.
type CandidateSource interface {
	Name() string
	Fetch(ctx context.Context, limit int) ([]Candidate, error)
}

// Enqueuer is the only slice of the task queue the planner depends on.
type Enqueuer interface {
	Enqueue(req queue.EnqueueRequest) (queue.EnqueueResult, error)
}

// Planner gates self-generated candidates behind scope, EV, risk and hourly
// budget before they may consume execution capacity. Every evaluated
// candidate leaves an audit decision, admitted or not.
type Planner struct {
	mu sync.Mutex

	enqueue  Enqueuer
	store    Store
	settings *SettingsProvider
	sources  []CandidateSource

	// admitted tracks candidate refs admitted per window so repeated passes
	// cannot re-admit one after the queue's coalesce window has lapsed.
	admitted map[int64]map[string]bool

	runningMissions    func() int
	interactivePending func() int
	onDecision         func(Decision)
	onWindow           func(Window)
	now                func() time.Time
}

func NewPlanner(enqueue Enqueuer, store Store, settings *SettingsProvider) *Planner {
	return &Planner{
		enqueue:            enqueue,
		store:              store,
		settings:           settings,
		admitted:           make(map[int64]map[string]bool),
		runningMissions:    func() int { return 0 },
		interactivePending: func() int { return 0 },
		now:                func() time.Time { return time.Now().UTC() },
	}
}

func (p *Planner) AddSource(src CandidateSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = append(p.sources, src)
}

// SetRunningMissionsFunc wires the count of currently-running missions used
// by the concurrency half of the budget computation.
func (p *Planner) SetRunningMissionsFunc(fn func() int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fn != nil {
		p.runningMissions = fn
	}
}

func (p *Planner) SetInteractivePendingFunc(fn func() int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fn != nil {
		p.interactivePending = fn
	}
}

func (p *Planner) SetDecisionHook(hook func(Decision)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDecision = hook
}

// SetWindowHook observes the budget window after each pass (gauges, logs).
func (p *Planner) SetWindowHook(hook func(Window)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWindow = hook
}

func (p *Planner) SetNowFunc(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// RunPlanningPass runs one pass with live interactive-pressure readings; it
// is what the scheduled autonomy.plan job invokes.
func (p *Planner) RunPlanningPass(ctx context.Context) (int, int, error) {
	p.mu.Lock()
	pending := p.interactivePending
	now := p.now
	p.mu.Unlock()

	res, err := p.PlanHourly(ctx, now(), pending())
	return res.Queued, res.Evaluated, err
}

// PlanHourly evaluates candidates against the current hour's budget window.
// Gates apply in a fixed order (scope, then EV, then risk, then budget) and
// the first rejection is the recorded reason; budget is last so an on-merit
// candidate arriving after exhaustion stays distinguishable in the audit
// trail.
func (p *Planner) PlanHourly(ctx context.Context, now time.Time, interactivePending int) (PlanResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now = now.UTC()
	settings := p.settings.Current()
	windowStart := now.Truncate(time.Hour)

	if !settings.Enabled {
		p.recordShortCircuit(ctx, windowStart, now, ReasonDisabled)
		return PlanResult{}, nil
	}
	if interactivePending >= settings.InteractiveQueueBlockThreshold {
		p.recordShortCircuit(ctx, windowStart, now, ReasonConcurrentLimit)
		return PlanResult{}, nil
	}

	window, err := p.loadWindow(ctx, windowStart, settings.HourlyBudget)
	if err != nil {
		return PlanResult{}, err
	}

	available := window.Budget - window.Consumed
	if headroom := settings.MaxConcurrentMissions - p.runningMissions(); headroom < available {
		available = headroom
	}
	if available < 0 {
		available = 0
	}

	candidates, err := p.fetchCandidates(ctx, settings.MaxCandidates)
	if err != nil {
		return PlanResult{}, err
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].EV > candidates[j].EV
	})

	admitted := 0
	gates := []struct {
		reason  Reason
		rejects func(Candidate) bool
	}{
		{ReasonFilteredScope, func(c Candidate) bool { return !settings.inScope(c.Category) }},
		{ReasonBelowEVThreshold, func(c Candidate) bool { return c.EV < settings.MinEV }},
		{ReasonRiskBlocked, func(c Candidate) bool { return settings.RequireLowRisk && c.RiskClass != policy.RiskLow }},
		{ReasonBudgetExhausted, func(Candidate) bool { return admitted >= available }},
	}

	evaluated := 0
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return PlanResult{Queued: admitted, Evaluated: evaluated}, err
		}
		if p.admittedThisWindow(windowStart, candidate.Ref()) {
			continue
		}
		evaluated++

		rejected := false
		for _, gate := range gates {
			if gate.rejects(candidate) {
				p.recordDecision(ctx, Decision{
					ID:           uuid.NewString(),
					CandidateRef: candidate.Ref(),
					Decision:     OutcomeDropped,
					Reason:       gate.reason,
					EV:           candidate.EV,
					RiskClass:    candidate.RiskClass,
					BudgetWindow: windowStart,
					CreatedAt:    now,
				})
				rejected = true
				break
			}
		}
		if rejected {
			continue
		}

		taskID, coalesced, err := p.admit(candidate, windowStart)
		if err != nil {
			log.Printf("autonomy admit failed: candidate=%s error=%v", candidate.Ref(), err)
			continue
		}
		p.markAdmitted(windowStart, candidate.Ref())
		if coalesced {
			// Already admitted this window by an earlier pass; its decision
			// is on record and its budget was spent then.
			continue
		}
		p.recordDecision(ctx, Decision{
			ID:           uuid.NewString(),
			CandidateRef: candidate.Ref(),
			Decision:     OutcomeQueued,
			Reason:       ReasonQueuedForExecution,
			EV:           candidate.EV,
			RiskClass:    candidate.RiskClass,
			BudgetWindow: windowStart,
			QueuedTaskID: taskID,
			CreatedAt:    now,
		})
		admitted++
	}

	if admitted > 0 {
		window.Consumed += admitted
		if err := p.store.SaveWindow(ctx, window); err != nil {
			// The decision log stays authoritative; the cached counter
			// reconciles on the next window load.
			log.Printf("autonomy window save failed: %v", err)
		}
	}
	if p.onWindow != nil {
		p.onWindow(window)
	}
	return PlanResult{Queued: admitted, Evaluated: evaluated}, nil
}

func (p *Planner) admittedThisWindow(windowStart time.Time, ref string) bool {
	return p.admitted[windowStart.Unix()][ref]
}

func (p *Planner) markAdmitted(windowStart time.Time, ref string) {
	key := windowStart.Unix()
	if p.admitted[key] == nil {
		p.admitted[key] = make(map[string]bool)
		for old := range p.admitted {
			if old < key {
				delete(p.admitted, old)
			}
		}
	}
	p.admitted[key][ref] = true
}

// loadWindow resolves the hour's window, recomputing consumed from recorded
// admissions so the budget survives process restarts.
func (p *Planner) loadWindow(ctx context.Context, windowStart time.Time, budget int) (Window, error) {
	window, err := p.store.GetWindow(ctx, windowStart)
	if err != nil {
		if !errors.Is(err, ErrStoreNotFound) {
			return Window{}, fmt.Errorf("load autonomy window: %w", err)
		}
		window = Window{
			WindowStart: windowStart,
			WindowEnd:   windowStart.Add(time.Hour),
		}
	}
	window.Budget = budget

	consumed, err := p.store.CountAdmitted(ctx, windowStart)
	if err != nil {
		return Window{}, fmt.Errorf("recount admissions: %w", err)
	}
	window.Consumed = consumed

	if err := p.store.SaveWindow(ctx, window); err != nil {
		return Window{}, fmt.Errorf("save autonomy window: %w", err)
	}
	return window, nil
}

func (p *Planner) fetchCandidates(ctx context.Context, limit int) ([]Candidate, error) {
	if len(p.sources) == 0 {
		return nil, nil
	}

	var (
		mu  sync.Mutex
		all []Candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range p.sources {
		src := src
		g.Go(func() error {
			candidates, err := src.Fetch(gctx, limit)
			if err != nil {
				return fmt.Errorf("source %s: %w", src.Name(), err)
			}
			mu.Lock()
			all = append(all, candidates...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Merge order depends on which source finished first; rank before
	// capping so the cap never drops the strongest candidates.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].EV > all[j].EV
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (p *Planner) admit(candidate Candidate, windowStart time.Time) (string, bool, error) {
	data, err := candidateData(candidate)
	if err != nil {
		return "", false, err
	}
	// The window stamp in the key stops the same candidate from being
	// admitted twice within one hour across repeated passes.
	res, err := p.enqueue.Enqueue(queue.EnqueueRequest{
		DedupeKey: fmt.Sprintf("autonomy:%s:%s:%s", candidate.Source, candidate.ID, windowStart.Format(time.RFC3339)),
		Priority:  queue.PriorityP2,
		Payload: queue.Payload{
			TaskType: TaskTypeMission,
			Data:     data,
		},
	})
	if err != nil {
		return "", false, err
	}
	return res.ID, res.Coalesced, nil
}

func candidateData(candidate Candidate) (json.RawMessage, error) {
	data, err := json.Marshal(candidate)
	if err != nil {
		return nil, fmt.Errorf("encode candidate: %w", err)
	}
	return data, nil
}

func (p *Planner) recordShortCircuit(ctx context.Context, windowStart, now time.Time, reason Reason) {
	p.recordDecision(ctx, Decision{
		ID:           uuid.NewString(),
		CandidateRef: "pass",
		Decision:     OutcomeDropped,
		Reason:       reason,
		BudgetWindow: windowStart,
		CreatedAt:    now,
	})
}

func (p *Planner) recordDecision(ctx context.Context, decision Decision) {
	if err := p.store.AppendDecision(ctx, decision); err != nil {
		log.Printf("autonomy decision append failed: %v", err)
	}
	if p.onDecision != nil {
		p.onDecision(decision)
	}
}
