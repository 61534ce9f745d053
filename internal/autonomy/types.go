package autonomy

import (
	"time"

	"github.com/antoniostano/otto/internal/policy"
)

type Category string

const (
	CategoryPerf   Category = "perf"
	CategoryBugfix Category = "bugfix"
	CategoryOther  Category = "other"
)

// Candidate is one externally-scored unit of self-generated work. The
// planner never computes EV itself.
type Candidate struct {
	ID        string           `json:"id"`
	Source    string           `json:"source"`
	Title     string           `json:"title"`
	EV        float64          `json:"ev"`
	RiskClass policy.RiskClass `json:"risk_class"`
	Category  Category         `json:"category"`
}

// Ref identifies a candidate across planning passes.
func (c Candidate) Ref() string {
	return c.Source + "/" + c.ID
}

type DecisionOutcome string

const (
	OutcomeQueued  DecisionOutcome = "queued_for_execution"
	OutcomeDropped DecisionOutcome = "dropped"
)

type Reason string

const (
	ReasonQueuedForExecution Reason = "queued_for_execution"
	ReasonFilteredScope      Reason = "filtered_scope"
	ReasonBelowEVThreshold   Reason = "below_ev_threshold"
	ReasonRiskBlocked        Reason = "risk_blocked"
	ReasonBudgetExhausted    Reason = "budget_exhausted"
	ReasonDisabled           Reason = "disabled"
	ReasonConcurrentLimit    Reason = "concurrent_limit"
)

// Decision is one append-only audit record, one per evaluated candidate per
// planning pass.
type Decision struct {
	ID           string           `json:"id"`
	CandidateRef string           `json:"candidate_ref"`
	Decision     DecisionOutcome  `json:"decision"`
	Reason       Reason           `json:"reason"`
	EV           float64          `json:"ev"`
	RiskClass    policy.RiskClass `json:"risk_class"`
	BudgetWindow time.Time        `json:"budget_window"`
	QueuedTaskID string           `json:"queued_task_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Window is one hourly budget ledger entry. Consumed is a denormalized
// cache: the decision log is the source of truth and the counter is
// recomputed at window load.
type Window struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Budget      int       `json:"budget"`
	Consumed    int       `json:"consumed"`
}

type PlanResult struct {
	Queued    int `json:"queued"`
	Evaluated int `json:"evaluated"`
}
