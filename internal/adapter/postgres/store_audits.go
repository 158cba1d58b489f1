package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opspilot-io/opspilot/internal/domain"
	"github.com/opspilot-io/opspilot/internal/domain/audit"
)

// AuditStore implements the audit store port on PostgreSQL. The full record
// is stored as JSONB alongside the columns used for lookups.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a postgres-backed audit store.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Save appends rec to the audit table.
func (s *AuditStore) Save(ctx context.Context, rec audit.Record) error {
	record, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	const q = `INSERT INTO audits (audit_id, run_id, started_at, finished_at, record)
		VALUES ($1,$2,$3,$4,$5)`
	if _, err := s.pool.Exec(ctx, q, rec.AuditID, rec.RunID, rec.StartedAt, rec.FinishedAt, record); err != nil {
		return fmt.Errorf("save audit %s: %w", rec.AuditID, err)
	}
	return nil
}

// GetByRun returns the most recent audit record for runID.
func (s *AuditStore) GetByRun(ctx context.Context, runID string) (audit.Record, error) {
	const q = `SELECT record FROM audits WHERE run_id = $1
		ORDER BY finished_at DESC LIMIT 1`

	var data []byte
	if err := s.pool.QueryRow(ctx, q, runID).Scan(&data); err != nil {
		return audit.Record{}, notFoundWrap(err, "get audit for run %s", runID)
	}

	var rec audit.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return audit.Record{}, fmt.Errorf("unmarshal audit for run %s: %w", runID, err)
	}
	return rec, nil
}

// ListByRun returns all audit records for runID, oldest first.
func (s *AuditStore) ListByRun(ctx context.Context, runID string) ([]audit.Record, error) {
	const q = `SELECT record FROM audits WHERE run_id = $1 ORDER BY finished_at ASC`

	rows, err := s.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("list audits for run %s: %w", runID, err)
	}
	defer rows.Close()

	var result []audit.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		var rec audit.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal audit for run %s: %w", runID, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("list audits for run %s: %w", runID, domain.ErrNotFound)
	}
	return result, nil
}
