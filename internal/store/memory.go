package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"filedesk/api/internal/record"
)

type recordKey struct {
	kind record.Kind
	id   string
}

type lockKey struct {
	targetID    string
	isScheme    bool
	submitterID string
}

// MemoryStore is an in-process store. A single mutex serialises writes, which
// makes check-and-insert and compare-and-swap trivially atomic.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[recordKey]record.Record
	proposals   map[string]Proposal
	pending     map[lockKey]string
	events      []Event
	delegations map[lockKey]Delegation
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[recordKey]record.Record),
		proposals:   make(map[string]Proposal),
		pending:     make(map[lockKey]string),
		delegations: make(map[lockKey]Delegation),
		now:         time.Now,
	}
}

func pendingKey(p Proposal) lockKey {
	return lockKey{targetID: p.TargetID, isScheme: p.IsScheme, submitterID: p.SubmitterID}
}

func (s *MemoryStore) GetRecord(_ context.Context, kind record.Kind, id string) (record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{kind: kind, id: id}]
	if !ok {
		return record.Record{}, fmt.Errorf("record %s/%s: %w", kind, id, ErrNotFound)
	}
	return rec.Clone(), nil
}

// PutRecord inserts a record (Version 0) or replaces one whose stored version
// matches rec.Version. It returns the stored copy with the new version.
func (s *MemoryStore) PutRecord(_ context.Context, rec record.Record) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.putRecordLocked(rec)
	if err != nil {
		return record.Record{}, err
	}
	return stored.Clone(), nil
}

func (s *MemoryStore) putRecordLocked(rec record.Record) (record.Record, error) {
	key := recordKey{kind: rec.Kind, id: rec.ID}
	current, exists := s.records[key]
	switch {
	case !exists && rec.Version != 0:
		return record.Record{}, fmt.Errorf("record %s/%s: %w", rec.Kind, rec.ID, ErrNotFound)
	case exists && current.Version != rec.Version:
		return record.Record{}, fmt.Errorf("record %s/%s at version %d: %w", rec.Kind, rec.ID, rec.Version, ErrVersionConflict)
	}
	stored := rec.Clone()
	stored.Version = rec.Version + 1
	stored.UpdatedAt = s.now().UTC()
	s.records[key] = stored
	return stored, nil
}

func (s *MemoryStore) CreateProposal(_ context.Context, proposal Proposal, event Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.proposals[proposal.ID]; exists {
		return Event{}, fmt.Errorf("proposal %s already exists", proposal.ID)
	}
	key := pendingKey(proposal)
	if proposal.Status == StatusPending {
		if _, taken := s.pending[key]; taken {
			return Event{}, ErrOutstandingProposal
		}
		s.pending[key] = proposal.ID
	}
	s.proposals[proposal.ID] = cloneProposal(proposal)
	return s.appendEventLocked(event), nil
}

func (s *MemoryStore) GetProposal(_ context.Context, proposalID string) (Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return Proposal{}, fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	return cloneProposal(p), nil
}

func (s *MemoryStore) FindPendingProposal(_ context.Context, target Target, submitterID string) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pending[lockKey{targetID: target.ID, isScheme: target.IsScheme, submitterID: submitterID}]
	if !ok {
		return nil, nil
	}
	p := cloneProposal(s.proposals[id])
	return &p, nil
}

func (s *MemoryStore) ListProposals(_ context.Context, filter ProposalFilter) ([]Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Proposal, 0)
	for _, p := range s.proposals {
		if filter.matches(p) {
			items = append(items, cloneProposal(p))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].SubmittedAt.Equal(items[j].SubmittedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].SubmittedAt.After(items[j].SubmittedAt)
	})
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (s *MemoryStore) DeleteProposal(_ context.Context, proposalID string, event Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return Event{}, fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	if p.Status == StatusPending {
		delete(s.pending, pendingKey(p))
	}
	delete(s.proposals, proposalID)
	return s.appendEventLocked(event), nil
}

func (s *MemoryStore) CloseProposal(_ context.Context, closure Closure) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[closure.ProposalID]
	if !ok {
		return Event{}, fmt.Errorf("proposal %s: %w", closure.ProposalID, ErrNotFound)
	}
	if p.Status != StatusPending {
		return Event{}, ErrProposalNotPending
	}
	if closure.Record != nil {
		if _, err := s.putRecordLocked(*closure.Record); err != nil {
			return Event{}, err
		}
	}

	reviewedAt := closure.ReviewedAt
	p.Status = closure.Status
	p.ReviewerID = closure.ReviewerID
	p.ReviewedAt = &reviewedAt
	p.Notes = closure.Notes
	p.Conflicts = closure.Conflicts
	s.proposals[p.ID] = p
	delete(s.pending, pendingKey(p))
	return s.appendEventLocked(closure.Event), nil
}

func (s *MemoryStore) ListEvents(_ context.Context, proposalID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Event, 0)
	for _, e := range s.events {
		if e.ProposalID == proposalID {
			items = append(items, e)
		}
	}
	return items, nil
}

// ListEventsAfter returns up to limit events with ID greater than afterID, oldest first.
func (s *MemoryStore) ListEventsAfter(_ context.Context, afterID int64, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Event, 0)
	for _, e := range s.events {
		if e.ID <= afterID {
			continue
		}
		items = append(items, e)
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, nil
}

func (s *MemoryStore) appendEventLocked(event Event) Event {
	event.ID = int64(len(s.events)) + 1
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	s.events = append(s.events, event)
	return event
}

func (s *MemoryStore) GrantDelegation(_ context.Context, d Delegation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.GrantedAt.IsZero() {
		d.GrantedAt = s.now().UTC()
	}
	d.RevokedAt = nil
	s.delegations[lockKey{targetID: d.TargetID, isScheme: d.IsScheme, submitterID: d.StaffID}] = d
	return nil
}

func (s *MemoryStore) RevokeDelegation(_ context.Context, staffID string, target Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := lockKey{targetID: target.ID, isScheme: target.IsScheme, submitterID: staffID}
	d, ok := s.delegations[key]
	if !ok {
		return fmt.Errorf("delegation %s -> %s: %w", staffID, target.ID, ErrNotFound)
	}
	now := s.now().UTC()
	d.RevokedAt = &now
	s.delegations[key] = d
	return nil
}

func (s *MemoryStore) HasActiveDelegation(_ context.Context, staffID string, target Target) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.delegations[lockKey{targetID: target.ID, isScheme: target.IsScheme, submitterID: staffID}]
	return ok && d.RevokedAt == nil, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func cloneProposal(p Proposal) Proposal {
	out := p
	if p.ChangedSites != nil {
		out.ChangedSites = make([]record.SitePatch, len(p.ChangedSites))
		for i, patch := range p.ChangedSites {
			cp := patch
			cp.Fields = append([]record.Field(nil), patch.Fields...)
			cp.Values = patch.Values.Clone()
			cp.Base = patch.Base.Clone()
			out.ChangedSites[i] = cp
		}
	}
	if p.Conflicts != nil {
		out.Conflicts = append(out.Conflicts[:0:0], p.Conflicts...)
	}
	if p.ReviewedAt != nil {
		t := *p.ReviewedAt
		out.ReviewedAt = &t
	}
	return out
}
