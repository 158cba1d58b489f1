// Package memory provides in-process implementations of the approval and
// audit stores. They back single-node deployments and tests; durable
// deployments use the postgres adapter.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opspilot-io/opspilot/internal/domain"
	"github.com/opspilot-io/opspilot/internal/domain/approval"
)

// ApprovalStore keeps pending approvals in memory, keyed by run ID.
type ApprovalStore struct {
	mu      sync.RWMutex
	records map[string]*approval.Pending
}

// NewApprovalStore creates an empty in-memory approval store.
func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{records: make(map[string]*approval.Pending)}
}

// Save stores a clone of p, replacing any previous record for the run.
func (s *ApprovalStore) Save(_ context.Context, p *approval.Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.RunID] = p.Clone()
	return nil
}

// Get returns a clone of the record for runID.
func (s *ApprovalStore) Get(_ context.Context, runID string) (*approval.Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.records[runID]
	if !ok {
		return nil, fmt.Errorf("approval for run %s: %w", runID, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// Resolve replaces the record for p.RunID, but only while the stored record
// is still pending. The check and the write share one critical section so a
// second concurrent decision loses.
func (s *ApprovalStore) Resolve(_ context.Context, p *approval.Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[p.RunID]
	if !ok {
		return fmt.Errorf("approval for run %s: %w", p.RunID, domain.ErrNotFound)
	}
	if stored.Status != approval.StatusPending {
		return fmt.Errorf("approval for run %s: %w", p.RunID, domain.ErrAlreadyResolved)
	}
	s.records[p.RunID] = p.Clone()
	return nil
}

// ListPending returns unresolved approvals, oldest first.
func (s *ApprovalStore) ListPending(_ context.Context) ([]*approval.Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*approval.Pending, 0, len(s.records))
	for _, p := range s.records {
		if p.Status == approval.StatusPending {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
