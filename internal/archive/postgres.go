package archive

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Muchemi254/ai-mock-interviewer/internal/session"
)

// PostgresPublisher archives exchanges and session summaries to Postgres.
// The interview never blocks on it: callers treat failures as log-and-go.
type PostgresPublisher struct {
	pool *pgxpool.Pool
}

// NewPostgresPublisher connects a pooled client and verifies the schema.
func NewPostgresPublisher(ctx context.Context, dsn string) (*PostgresPublisher, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse archive dsn: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create archive pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}

	p := &PostgresPublisher{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Println("archive: connected to postgres")
	return p, nil
}

// Close releases the pool.
func (p *PostgresPublisher) Close() { p.pool.Close() }

func (p *PostgresPublisher) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS interview_exchanges (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	item_id TEXT NOT NULL,
	question TEXT NOT NULL,
	transcript TEXT NOT NULL,
	decision TEXT NOT NULL,
	follow_up_depth INT NOT NULL,
	elapsed_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interview_exchanges_session ON interview_exchanges (session_id);
CREATE TABLE IF NOT EXISTS interview_sessions (
	session_id TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	deadline TIMESTAMPTZ NOT NULL,
	abort_reason TEXT,
	warnings INT NOT NULL DEFAULT 0
);`
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure archive schema: %w", err)
	}
	return nil
}

func (p *PostgresPublisher) PublishExchange(ctx context.Context, sessionID string, ex session.Exchange) error {
	const q = `
INSERT INTO interview_exchanges
	(session_id, item_id, question, transcript, decision, follow_up_depth, elapsed_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := p.pool.Exec(ctx, q,
		sessionID, ex.ItemID, ex.Question, ex.Transcript,
		ex.Decision.Kind.String(), ex.Depth, ex.Elapsed.Milliseconds(), ex.Timestamp)
	if err != nil {
		return fmt.Errorf("archive exchange: %w", err)
	}
	return nil
}

func (p *PostgresPublisher) PublishSummary(ctx context.Context, s session.Summary) error {
	const q = `
INSERT INTO interview_sessions
	(session_id, candidate_id, job_id, phase, started_at, ended_at, deadline, abort_reason, warnings)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (session_id) DO UPDATE SET
	phase = EXCLUDED.phase, ended_at = EXCLUDED.ended_at,
	abort_reason = EXCLUDED.abort_reason, warnings = EXCLUDED.warnings`
	_, err := p.pool.Exec(ctx, q,
		s.ID, s.CandidateID, s.JobID, string(s.Phase),
		s.StartedAt, s.EndedAt, s.Deadline, s.AbortReason, len(s.Warnings))
	if err != nil {
		return fmt.Errorf("archive summary: %w", err)
	}
	return nil
}
