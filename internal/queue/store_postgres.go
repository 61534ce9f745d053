package queue

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
	if err := initQueueSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initQueueSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS queue_items (
			id TEXT PRIMARY KEY,
			dedupe_key TEXT NOT NULL,
			priority INTEGER NOT NULL,
			task_type TEXT NOT NULL DEFAULT '',
			interactive BOOLEAN NOT NULL DEFAULT FALSE,
			payload_data JSONB NULL,
			status TEXT NOT NULL,
			fail_reason TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			coalesced_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			available_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_items_status_priority ON queue_items (status, priority, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_items_dedupe ON queue_items (dedupe_key, updated_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init queue schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveItem(ctx context.Context, item Item) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO queue_items (
			id, dedupe_key, priority, task_type, interactive, payload_data, status,
			fail_reason, attempts, coalesced_count, created_at, updated_at, available_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
		)
		ON CONFLICT (id) DO UPDATE SET
			dedupe_key=EXCLUDED.dedupe_key,
			priority=EXCLUDED.priority,
			task_type=EXCLUDED.task_type,
			interactive=EXCLUDED.interactive,
			payload_data=EXCLUDED.payload_data,
			status=EXCLUDED.status,
			fail_reason=EXCLUDED.fail_reason,
			attempts=EXCLUDED.attempts,
			coalesced_count=EXCLUDED.coalesced_count,
			updated_at=EXCLUDED.updated_at,
			available_at=EXCLUDED.available_at`,
		item.ID,
		item.DedupeKey,
		int(item.Priority),
		item.Payload.TaskType,
		item.Payload.Interactive,
		payloadData(item),
		string(item.Status),
		item.FailReason,
		item.Attempts,
		item.CoalescedCount,
		item.CreatedAt,
		item.UpdatedAt,
		item.AvailableAt,
	)
	if err != nil {
		return fmt.Errorf("upsert queue item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, dedupe_key, priority, task_type, interactive, payload_data, status,
		        fail_reason, attempts, coalesced_count, created_at, updated_at, available_at
		   FROM queue_items WHERE id=$1`,
		id,
	)
	item, err := scanItemRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Item{}, ErrStoreNotFound
		}
		return Item{}, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListNonTerminal(ctx context.Context) ([]Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, dedupe_key, priority, task_type, interactive, payload_data, status,
		        fail_reason, attempts, coalesced_count, created_at, updated_at, available_at
		   FROM queue_items WHERE status IN ('queued','running') ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	out := make([]Item, 0, 16)
	for rows.Next() {
		item, err := scanItemRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue item rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func payloadData(item Item) []byte {
	if len(item.Payload.Data) == 0 {
		return nil
	}
	return []byte(item.Payload.Data)
}

func scanItemRow(row pgx.Row) (Item, error) {
	var (
		item     Item
		priority int
		status   string
		data     []byte
	)
	if err := row.Scan(
		&item.ID,
		&item.DedupeKey,
		&priority,
		&item.Payload.TaskType,
		&item.Payload.Interactive,
		&data,
		&status,
		&item.FailReason,
		&item.Attempts,
		&item.CoalescedCount,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.AvailableAt,
	); err != nil {
		return Item{}, err
	}
	item.Priority = Priority(priority)
	item.Status = Status(status)
	if len(data) > 0 {
		item.Payload.Data = data
	}
	return item, nil
}
