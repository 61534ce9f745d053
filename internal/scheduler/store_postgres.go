package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchedulerSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchedulerSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := `CREATE TABLE IF NOT EXISTS scheduler_state (
		id INTEGER PRIMARY KEY,
		mode TEXT NOT NULL,
		paused BOOLEAN NOT NULL DEFAULT FALSE,
		incident BOOLEAN NOT NULL DEFAULT FALSE,
		last_tick_at TIMESTAMPTZ NOT NULL,
		queue_depth INTEGER NOT NULL DEFAULT 0,
		active_session_ids TEXT[] NULL
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("init scheduler schema failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveState(ctx context.Context, state State) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scheduler_state (id, mode, paused, incident, last_tick_at, queue_depth, active_session_ids)
		 VALUES (1,$1,$2,$3,$4,$5,$6)
		 ON CONFLICT (id) DO UPDATE SET
			mode=EXCLUDED.mode,
			paused=EXCLUDED.paused,
			incident=EXCLUDED.incident,
			last_tick_at=EXCLUDED.last_tick_at,
			queue_depth=EXCLUDED.queue_depth,
			active_session_ids=EXCLUDED.active_session_ids`,
		string(state.Mode),
		state.Paused,
		state.Incident,
		state.LastTickAt,
		state.QueueDepth,
		state.ActiveSessionIDs,
	)
	if err != nil {
		return fmt.Errorf("upsert scheduler state: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadState(ctx context.Context) (State, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT mode, paused, incident, last_tick_at, queue_depth, active_session_ids
		   FROM scheduler_state WHERE id=1`,
	)
	var (
		state State
		mode  string
	)
	if err := row.Scan(&mode, &state.Paused, &state.Incident, &state.LastTickAt, &state.QueueDepth, &state.ActiveSessionIDs); err != nil {
		if err == pgx.ErrNoRows {
			return State{}, ErrStoreNotFound
		}
		return State{}, fmt.Errorf("load scheduler state: %w", err)
	}
	state.Mode = Mode(mode)
	return state, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
