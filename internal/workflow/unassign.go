package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"filedesk/api/internal/record"
	"filedesk/api/internal/store"
)

// SystemActorID is recorded as the actor of transitions the service makes on its own.
const SystemActorID = "system"

// loadRecord reads a record and closes every pending proposal on it whose
// submitter no longer holds a delegation. The returned record reflects those
// closures.
func (s *Service) loadRecord(ctx context.Context, target store.Target) (record.Record, []store.Proposal, error) {
	rec, err := s.getRecord(ctx, target)
	if err != nil {
		return record.Record{}, nil, err
	}

	scheme := target.IsScheme
	pending, err := s.store.ListProposals(ctx, store.ProposalFilter{
		Status:   store.StatusPending,
		TargetID: target.ID,
		IsScheme: &scheme,
	})
	if err != nil {
		return record.Record{}, nil, fmt.Errorf("list pending proposals: %w", err)
	}

	var unassigned []store.Proposal
	for _, p := range pending {
		active, err := s.submitterDelegated(ctx, p)
		if err != nil {
			return record.Record{}, nil, err
		}
		if active {
			continue
		}
		closed, err := s.unassignWithRetry(ctx, p, rec)
		if err != nil {
			return record.Record{}, nil, err
		}
		if closed == nil {
			continue
		}
		unassigned = append(unassigned, *closed)
		if rec, err = s.getRecord(ctx, target); err != nil {
			return record.Record{}, nil, err
		}
	}
	return rec, unassigned, nil
}

// unassignWithRetry re-reads the record after a version conflict. It returns
// nil when the proposal was closed by someone else in the meantime.
func (s *Service) unassignWithRetry(ctx context.Context, p store.Proposal, rec record.Record) (*store.Proposal, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		closed, err := s.unassign(ctx, p, rec)
		switch {
		case err == nil:
			return &closed, nil
		case errors.Is(err, store.ErrProposalNotPending), errors.Is(err, store.ErrNotFound):
			return nil, nil
		case !errors.Is(err, store.ErrVersionConflict):
			return nil, err
		}
		recordRetry("unassign")
		if rec, err = s.getRecord(ctx, p.Target()); err != nil {
			return nil, err
		}
	}
	return nil, newError(CodeConflictRetriesExhausted,
		fmt.Sprintf("the record kept changing while closing proposal %s", p.ID), store.ErrVersionConflict)
}

// unassign closes p as submitter-unassigned. The record gets a system note in
// its remarks and loses the assignment if it still names the submitter; none
// of the proposal's patches are applied.
func (s *Service) unassign(ctx context.Context, p store.Proposal, rec record.Record) (store.Proposal, error) {
	if err := CanTransition(TransitionContext{ProposalID: p.ID, From: p.Status, To: store.StatusSubmitterUnassigned}).Error(); err != nil {
		return store.Proposal{}, store.ErrProposalNotPending
	}

	now := s.now().UTC()
	note := unassignedNote(p, now)
	updated := rec.Clone()
	updated.Remarks = appendNote(updated.Remarks, note)
	clearedAssignment := updated.AssignedSupervisorID != "" && updated.AssignedSupervisorID == p.SubmitterID
	if clearedAssignment {
		updated.AssignedSupervisorID = ""
	}
	updated.UpdatedBy = SystemActorID

	event := s.event(p, store.EventSubmitterUnassigned, SystemActorID, map[string]any{
		"submitterId":       p.SubmitterID,
		"note":              note,
		"clearedAssignment": clearedAssignment,
	})
	stored, err := s.store.CloseProposal(ctx, store.Closure{
		ProposalID: p.ID,
		Status:     store.StatusSubmitterUnassigned,
		ReviewerID: SystemActorID,
		ReviewedAt: now,
		Notes:      note,
		Record:     &updated,
		Event:      event,
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrProposalNotPending) {
			return store.Proposal{}, err
		}
		return store.Proposal{}, fmt.Errorf("close unassigned proposal: %w", err)
	}

	p.Status = store.StatusSubmitterUnassigned
	p.ReviewerID = SystemActorID
	p.ReviewedAt = &now
	p.Notes = note

	recordTransition(store.StatusSubmitterUnassigned)
	s.log.WithFields(logrus.Fields{
		"proposal_id":        p.ID,
		"target_id":          p.TargetID,
		"submitter_id":       p.SubmitterID,
		"cleared_assignment": clearedAssignment,
	}).Warn("workflow.proposal.submitter_unassigned")
	s.notify(ctx, stored, &p)
	return p, nil
}

func unassignedNote(p store.Proposal, at time.Time) string {
	return fmt.Sprintf("[system %s] proposal %s from %s was closed unreviewed: the submitter is no longer assigned to this %s.",
		at.Format("2006-01-02"), p.ID, submitterLabel(p), p.Target().Kind())
}

func appendNote(remarks, note string) string {
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return note
	}
	return remarks + "\n" + note
}
