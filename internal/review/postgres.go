package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresSink persists review records for the HITL workflow. The binary
// must link the pgx stdlib driver.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(dsn string) (*PostgresSink, error) {
	if !hasSQLDriver("pgx") {
		return nil, errors.New("pgx SQL driver is not linked; import github.com/jackc/pgx/v5/stdlib")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresSink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func hasSQLDriver(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS human_reviews (
		review_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		reason TEXT,
		metadata JSONB,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL
	)`)
	return err
}

func (s *PostgresSink) Create(ctx context.Context, r Review) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO human_reviews (review_id, run_id, agent_name, reason, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (review_id) DO NOTHING`,
		r.ReviewID, r.RunID, r.AgentName, r.Reason, meta, r.CreatedAt,
	)
	return err
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
