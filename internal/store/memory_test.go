package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"filedesk/api/internal/record"
)

func seedRecord(t *testing.T, s *MemoryStore) record.Record {
	t.Helper()
	rec, err := s.PutRecord(context.Background(), record.Record{
		Kind:  record.KindFile,
		ID:    "F-1",
		Sites: []record.Site{{Name: "Well", Status: record.StatusIssued}},
	})
	require.NoError(t, err)
	return rec
}

func pendingProposal(id, submitter string) Proposal {
	return Proposal{
		ID:          id,
		TargetID:    "F-1",
		SubmitterID: submitter,
		SubmittedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Status:      StatusPending,
		ChangedSites: []record.SitePatch{{
			Name:   "Well",
			Fields: []record.Field{record.FieldStatus},
			Values: record.Site{Name: "Well", Status: record.StatusCompleted},
			Base:   record.Site{Name: "Well", Status: record.StatusIssued},
		}},
	}
}

func submitted(p Proposal) Event {
	return Event{ProposalID: p.ID, TargetID: p.TargetID, IsScheme: p.IsScheme, Type: EventSubmitted, ActorID: p.SubmitterID}
}

// errOf keeps only the error of a write that returns the stored event.
func errOf(_ Event, err error) error {
	return err
}

func TestMemoryPutRecordCompareAndSwap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec := seedRecord(t, s)
	require.Equal(t, int64(1), rec.Version)

	rec.Remarks = "first"
	updated, err := s.PutRecord(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	rec.Remarks = "stale"
	_, err = s.PutRecord(ctx, rec)
	require.ErrorIs(t, err, ErrVersionConflict)

	current, err := s.GetRecord(ctx, record.KindFile, "F-1")
	require.NoError(t, err)
	require.Equal(t, "first", current.Remarks)

	_, err = s.GetRecord(ctx, record.KindScheme, "F-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCreateProposalHonoursLock(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := pendingProposal("p-1", "sup-1")
	require.NoError(t, errOf(s.CreateProposal(ctx, first, submitted(first))))

	second := pendingProposal("p-2", "sup-1")
	require.ErrorIs(t, errOf(s.CreateProposal(ctx, second, submitted(second))), ErrOutstandingProposal)

	other := pendingProposal("p-3", "sup-2")
	require.NoError(t, errOf(s.CreateProposal(ctx, other, submitted(other))))

	scheme := pendingProposal("p-4", "sup-1")
	scheme.IsScheme = true
	require.NoError(t, errOf(s.CreateProposal(ctx, scheme, submitted(scheme))))

	found, err := s.FindPendingProposal(ctx, Target{ID: "F-1"}, "sup-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "p-1", found.ID)

	none, err := s.FindPendingProposal(ctx, Target{ID: "F-2"}, "sup-1")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestMemoryConcurrentSubmissionsAdmitOne(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const attempts = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		locked   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := pendingProposal(fmt.Sprintf("p-%d", i), "sup-1")
			_, err := s.CreateProposal(ctx, p, submitted(p))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrOutstandingProposal):
				locked++
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, accepted)
	require.Equal(t, attempts-1, locked)
}

func TestMemoryCloseProposalIsAtomic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec := seedRecord(t, s)

	p := pendingProposal("p-1", "sup-1")
	require.NoError(t, errOf(s.CreateProposal(ctx, p, submitted(p))))

	// A stale record version must leave the proposal pending.
	stale := rec.Clone()
	stale.Version = 7
	_, err := s.CloseProposal(ctx, Closure{
		ProposalID: p.ID,
		Status:     StatusApproved,
		ReviewedAt: time.Now(),
		Record:     &stale,
		Event:      Event{ProposalID: p.ID, Type: EventApproved},
	})
	require.ErrorIs(t, err, ErrVersionConflict)
	got, err := s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	merged := rec.Clone()
	merged.Sites[0].Status = record.StatusCompleted
	require.NoError(t, errOf(s.CloseProposal(ctx, Closure{
		ProposalID: p.ID,
		Status:     StatusApproved,
		ReviewerID: "ed-1",
		ReviewedAt: time.Now(),
		Record:     &merged,
		Event:      Event{ProposalID: p.ID, Type: EventApproved, ActorID: "ed-1"},
	})))

	got, err = s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
	require.Equal(t, "ed-1", got.ReviewerID)
	require.NotNil(t, got.ReviewedAt)

	current, err := s.GetRecord(ctx, record.KindFile, "F-1")
	require.NoError(t, err)
	require.Equal(t, record.StatusCompleted, current.Sites[0].Status)
	require.Equal(t, int64(2), current.Version)

	_, err = s.CloseProposal(ctx, Closure{ProposalID: p.ID, Status: StatusRejected, Event: Event{ProposalID: p.ID}})
	require.ErrorIs(t, err, ErrProposalNotPending)

	// The lock is released, so the same submitter may propose again.
	again := pendingProposal("p-2", "sup-1")
	require.NoError(t, errOf(s.CreateProposal(ctx, again, submitted(again))))
}

func TestMemoryDeleteReleasesLockAndKeepsAudit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := pendingProposal("p-1", "sup-1")
	require.NoError(t, errOf(s.CreateProposal(ctx, p, submitted(p))))
	require.NoError(t, errOf(s.DeleteProposal(ctx, p.ID, Event{ProposalID: p.ID, Type: EventDeleted, ActorID: "ed-1"})))

	_, err := s.GetProposal(ctx, p.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, errOf(s.DeleteProposal(ctx, p.ID, Event{})), ErrNotFound)

	events, err := s.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, EventDeleted, events[1].Type)

	again := pendingProposal("p-2", "sup-1")
	require.NoError(t, errOf(s.CreateProposal(ctx, again, submitted(again))))
}

func TestMemoryListProposalsAndEventsAfter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i, submitter := range []string{"sup-1", "sup-2", "sup-3"} {
		p := pendingProposal(fmt.Sprintf("p-%d", i), submitter)
		p.SubmittedAt = p.SubmittedAt.Add(time.Duration(i) * time.Hour)
		require.NoError(t, errOf(s.CreateProposal(ctx, p, submitted(p))))
	}
	require.NoError(t, errOf(s.CloseProposal(ctx, Closure{ProposalID: "p-0", Status: StatusRejected, ReviewedAt: time.Now(), Event: Event{ProposalID: "p-0", Type: EventRejected}})))

	pending, err := s.ListProposals(ctx, ProposalFilter{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "p-2", pending[0].ID, "newest first")

	limited, err := s.ListProposals(ctx, ProposalFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	after, err := s.ListEventsAfter(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	require.Equal(t, int64(3), after[0].ID)
	require.Equal(t, EventRejected, after[1].Type)
}

func TestMemoryReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := pendingProposal("p-1", "sup-1")
	require.NoError(t, errOf(s.CreateProposal(ctx, p, submitted(p))))

	got, err := s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	got.ChangedSites[0].Values.Status = record.StatusPaid

	again, err := s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, record.StatusCompleted, again.ChangedSites[0].Values.Status)
}

func TestMemoryDelegations(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	target := Target{ID: "F-1"}

	active, err := s.HasActiveDelegation(ctx, "sup-1", target)
	require.NoError(t, err)
	require.False(t, active)

	require.NoError(t, s.GrantDelegation(ctx, Delegation{StaffID: "sup-1", TargetID: "F-1"}))
	active, err = s.HasActiveDelegation(ctx, "sup-1", target)
	require.NoError(t, err)
	require.True(t, active)

	active, err = s.HasActiveDelegation(ctx, "sup-1", Target{ID: "F-1", IsScheme: true})
	require.NoError(t, err)
	require.False(t, active)

	require.NoError(t, s.RevokeDelegation(ctx, "sup-1", target))
	active, err = s.HasActiveDelegation(ctx, "sup-1", target)
	require.NoError(t, err)
	require.False(t, active)

	require.ErrorIs(t, s.RevokeDelegation(ctx, "sup-9", target), ErrNotFound)
}

func TestMemoryWritesReturnStoredEvents(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := pendingProposal("p-1", "sup-1")
	created, err := s.CreateProposal(ctx, p, submitted(p))
	require.NoError(t, err)
	closed, err := s.CloseProposal(ctx, Closure{ProposalID: p.ID, Status: StatusRejected, ReviewedAt: time.Now(), Event: Event{ProposalID: p.ID, Type: EventRejected}})
	require.NoError(t, err)
	deleted, err := s.DeleteProposal(ctx, p.ID, Event{ProposalID: p.ID, Type: EventDeleted})
	require.NoError(t, err)

	events, err := s.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, []Event{created, closed, deleted}, events)
	require.Equal(t, []int64{1, 2, 3}, []int64{created.ID, closed.ID, deleted.ID})
	require.False(t, created.CreatedAt.IsZero())
}
