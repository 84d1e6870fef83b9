package agentcfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore resolves agent configuration from PostgreSQL.
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
		`CREATE TABLE IF NOT EXISTS voice_agents (
			agent_id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			voice TEXT NOT NULL,
			temperature DOUBLE PRECISION NOT NULL DEFAULT 0.8,
			system_prompt TEXT NOT NULL,
			greeting TEXT NOT NULL DEFAULT '',
			output_mode TEXT NOT NULL DEFAULT 'native',
			tools JSONB NOT NULL DEFAULT '[]',
			tool_meta JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS voice_agent_numbers (
			number TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES voice_agents(agent_id)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Resolve(ctx context.Context, agentID, calleeNumber string) (PerCallConfig, error) {
	if agentID == "" {
		row := s.pool.QueryRow(ctx,
			`SELECT agent_id FROM voice_agent_numbers WHERE number=$1`,
			strings.TrimSpace(calleeNumber),
		)
		if err := row.Scan(&agentID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return PerCallConfig{}, ErrNotFound
			}
			return PerCallConfig{}, fmt.Errorf("resolve number binding: %w", err)
		}
	}

	var (
		cfg       PerCallConfig
		toolsJSON []byte
		metaJSON  []byte
	)
	row := s.pool.QueryRow(ctx,
		`SELECT agent_id, model, voice, temperature, system_prompt, greeting, output_mode, tools, tool_meta
		 FROM voice_agents WHERE agent_id=$1`,
		agentID,
	)
	err := row.Scan(
		&cfg.AgentID,
		&cfg.Model,
		&cfg.Voice,
		&cfg.Temperature,
		&cfg.SystemPrompt,
		&cfg.Greeting,
		&cfg.OutputMode,
		&toolsJSON,
		&metaJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PerCallConfig{}, ErrNotFound
		}
		return PerCallConfig{}, fmt.Errorf("resolve agent config: %w", err)
	}

	if len(toolsJSON) > 0 {
		if err := json.Unmarshal(toolsJSON, &cfg.Tools); err != nil {
			return PerCallConfig{}, fmt.Errorf("decode tools: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &cfg.ToolMeta); err != nil {
			return PerCallConfig{}, fmt.Errorf("decode tool meta: %w", err)
		}
	}
	return cfg, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
