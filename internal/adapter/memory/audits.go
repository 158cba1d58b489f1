package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/opspilot-io/opspilot/internal/domain"
	"github.com/opspilot-io/opspilot/internal/domain/audit"
)

// AuditStore keeps audit records in memory, grouped by run ID.
type AuditStore struct {
	mu    sync.RWMutex
	byRun map[string][]audit.Record
}

// NewAuditStore creates an empty in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{byRun: make(map[string][]audit.Record)}
}

// Save appends rec to the run's audit trail.
func (s *AuditStore) Save(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRun[rec.RunID] = append(s.byRun[rec.RunID], rec)
	return nil
}

// GetByRun returns the most recent record for runID.
func (s *AuditStore) GetByRun(_ context.Context, runID string) (audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.byRun[runID]
	if len(recs) == 0 {
		return audit.Record{}, fmt.Errorf("audit for run %s: %w", runID, domain.ErrNotFound)
	}
	return recs[len(recs)-1], nil
}

// ListByRun returns all records for runID, oldest first.
func (s *AuditStore) ListByRun(_ context.Context, runID string) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.byRun[runID]
	if len(recs) == 0 {
		return nil, fmt.Errorf("audit for run %s: %w", runID, domain.ErrNotFound)
	}
	out := make([]audit.Record, len(recs))
	copy(out, recs)
	return out, nil
}
