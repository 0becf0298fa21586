package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/pkg/models"
)

// PostgresSink appends audit records to a PostgreSQL table. Users provide
// their own instance; the connection URL comes from PRAXIS_AUDIT_DATABASE_URL.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects and creates the audit table if missing.
func NewPostgresSink(ctx context.Context, connURL string) (*PostgresSink, error) {
	if connURL == "" {
		return nil, fmt.Errorf("postgres audit sink: connection URL not configured")
	}
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("audit connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit ping: %w", err)
	}

	s := &PostgresSink{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit migrate: %w", err)
	}

	log.Info().Msg("Postgres audit sink initialized")
	return s, nil
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS praxis_audit (
			id      TEXT PRIMARY KEY,
			kind    TEXT NOT NULL,
			subject TEXT NOT NULL,
			detail  JSONB NOT NULL DEFAULT '{}',
			ts      TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_praxis_audit_ts ON praxis_audit (ts);
		CREATE INDEX IF NOT EXISTS idx_praxis_audit_subject ON praxis_audit (kind, subject);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Kind returns "postgres".
func (s *PostgresSink) Kind() string { return "postgres" }

// Append inserts one record.
func (s *PostgresSink) Append(ctx context.Context, rec *models.AuditRecord) error {
	detail, err := json.Marshal(rec.Detail)
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO praxis_audit (id, kind, subject, detail, ts) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, string(rec.Kind), rec.Subject, detail, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
