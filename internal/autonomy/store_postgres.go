package autonomy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/otto/internal/policy"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initAutonomySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initAutonomySchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS autonomy_windows (
			window_start TIMESTAMPTZ PRIMARY KEY,
			window_end TIMESTAMPTZ NOT NULL,
			budget INTEGER NOT NULL,
			consumed INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS autonomy_decisions (
			id TEXT PRIMARY KEY,
			candidate_ref TEXT NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL,
			ev DOUBLE PRECISION NOT NULL,
			risk_class TEXT NOT NULL,
			budget_window TIMESTAMPTZ NOT NULL,
			queued_task_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_autonomy_decisions_window ON autonomy_decisions (budget_window, decision);`,
		`CREATE INDEX IF NOT EXISTS idx_autonomy_decisions_created ON autonomy_decisions (created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init autonomy schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetWindow(ctx context.Context, windowStart time.Time) (Window, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT window_start, window_end, budget, consumed
		   FROM autonomy_windows WHERE window_start=$1`,
		windowStart.UTC(),
	)
	var w Window
	if err := row.Scan(&w.WindowStart, &w.WindowEnd, &w.Budget, &w.Consumed); err != nil {
		if err == pgx.ErrNoRows {
			return Window{}, ErrStoreNotFound
		}
		return Window{}, fmt.Errorf("get autonomy window: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) SaveWindow(ctx context.Context, window Window) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO autonomy_windows (window_start, window_end, budget, consumed)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (window_start) DO UPDATE SET
			window_end=EXCLUDED.window_end,
			budget=EXCLUDED.budget,
			consumed=EXCLUDED.consumed`,
		window.WindowStart.UTC(),
		window.WindowEnd.UTC(),
		window.Budget,
		window.Consumed,
	)
	if err != nil {
		return fmt.Errorf("upsert autonomy window: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendDecision(ctx context.Context, decision Decision) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO autonomy_decisions (
			id, candidate_ref, decision, reason, ev, risk_class, budget_window, queued_task_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		decision.ID,
		decision.CandidateRef,
		string(decision.Decision),
		string(decision.Reason),
		decision.EV,
		string(decision.RiskClass),
		decision.BudgetWindow.UTC(),
		decision.QueuedTaskID,
		decision.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert autonomy decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountAdmitted(ctx context.Context, windowStart time.Time) (int, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM autonomy_decisions WHERE budget_window=$1 AND decision=$2`,
		windowStart.UTC(), string(OutcomeQueued),
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count admitted decisions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, candidate_ref, decision, reason, ev, risk_class, budget_window, queued_task_id, created_at
		   FROM autonomy_decisions ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list autonomy decisions: %w", err)
	}
	defer rows.Close()

	out := make([]Decision, 0, limit)
	for rows.Next() {
		var (
			d        Decision
			decision string
			reason   string
			risk     string
		)
		if err := rows.Scan(&d.ID, &d.CandidateRef, &decision, &reason, &d.EV, &risk, &d.BudgetWindow, &d.QueuedTaskID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan autonomy decision: %w", err)
		}
		d.Decision = DecisionOutcome(decision)
		d.Reason = Reason(reason)
		d.RiskClass = policy.RiskClass(risk)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate autonomy decision rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
