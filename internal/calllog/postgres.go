package calllog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/calls"
)

// PostgresStore persists finalized call transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_logs (
			call_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			caller_number TEXT NOT NULL,
			callee_number TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS call_transcripts (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL REFERENCES call_logs(call_id),
			ts TIMESTAMPTZ NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			item_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_transcripts_call_ts ON call_transcripts (call_id, ts);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, session *calls.CallSession) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save call: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO call_logs (call_id, agent_id, caller_number, callee_number, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (call_id) DO UPDATE SET end_time = EXCLUDED.end_time`,
		session.CallID,
		session.AgentID,
		session.CallerNumber,
		session.CalleeNumber,
		session.StartTime,
		session.EndTime,
	)
	if err != nil {
		return fmt.Errorf("save call log: %w", err)
	}

	for _, entry := range session.Transcript {
		id := entry.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO call_transcripts (id, call_id, ts, speaker, text, item_id)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO NOTHING`,
			id,
			session.CallID,
			entry.Timestamp,
			string(entry.Speaker),
			entry.Text,
			entry.ItemID,
		)
		if err != nil {
			return fmt.Errorf("save transcript entry: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
