package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/wI2L/jsondiff"

	"filedesk/api/internal/merge"
	"filedesk/api/internal/record"
	"filedesk/api/internal/store"
)

// Decision is the outcome of a review action.
type Decision struct {
	Proposal store.Proposal `json:"proposal"`
	Record   *record.Record `json:"record,omitempty"`
	Report   *merge.Report  `json:"report,omitempty"`
}

// Approve merges the proposal into the current record and closes it in one
// store transaction. A concurrent record write restarts the merge from a fresh
// read. If the submitter lost the delegation the proposal is closed as
// submitter-unassigned instead and a SUBMITTER_UNASSIGNED error is returned
// together with the closed proposal.
func (s *Service) Approve(ctx context.Context, reviewer Actor, proposalID string) (Decision, error) {
	if err := CanReview(reviewer.Role).Error(); err != nil {
		return Decision{}, newError(CodeForbidden, err.Error(), nil)
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		p, err := s.getProposal(ctx, proposalID)
		if err != nil {
			return Decision{}, err
		}
		if err := CanTransition(TransitionContext{ProposalID: p.ID, From: p.Status, To: store.StatusApproved}).Error(); err != nil {
			return Decision{Proposal: p}, newError(CodeProposalClosed, err.Error(), store.ErrProposalNotPending)
		}
		rec, err := s.getRecord(ctx, p.Target())
		if err != nil {
			return Decision{}, err
		}

		active, err := s.submitterDelegated(ctx, p)
		if err != nil {
			return Decision{}, err
		}
		if !active {
			closed, err := s.unassign(ctx, p, rec)
			if errors.Is(err, store.ErrVersionConflict) {
				recordRetry("unassign")
				continue
			}
			if errors.Is(err, store.ErrProposalNotPending) {
				return Decision{}, newError(CodeProposalClosed, fmt.Sprintf("proposal %s was closed by someone else", p.ID), err)
			}
			if errors.Is(err, store.ErrNotFound) {
				return Decision{}, newError(CodeNotFound, fmt.Sprintf("proposal %s does not exist", p.ID), err)
			}
			if err != nil {
				return Decision{}, err
			}
			return Decision{Proposal: closed}, newError(CodeSubmitterUnassigned,
				fmt.Sprintf("%s is no longer assigned to %s; the proposal was closed without merging", submitterLabel(p), p.TargetID), nil)
		}

		merged, report := merge.Merge(rec, p.ChangedSites, s.policy)
		merged.UpdatedBy = reviewer.ID
		reviewedAt := s.now().UTC()
		notes := report.Summary()
		event := s.event(p, store.EventApproved, reviewer.ID, map[string]any{
			"applied":   report.Applied,
			"conflicts": len(report.Conflicts),
			"policy":    string(s.policy),
		})

		stored, err := s.store.CloseProposal(ctx, store.Closure{
			ProposalID: p.ID,
			Status:     store.StatusApproved,
			ReviewerID: reviewer.ID,
			ReviewedAt: reviewedAt,
			Notes:      notes,
			Conflicts:  report.Conflicts,
			Record:     &merged,
			Event:      event,
		})
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			recordRetry("approve")
			s.log.WithFields(logrus.Fields{
				"proposal_id": p.ID,
				"target_id":   p.TargetID,
				"attempt":     attempt,
				"version":     rec.Version,
			}).Info("workflow.approve.version_conflict")
			continue
		case errors.Is(err, store.ErrProposalNotPending):
			return Decision{}, newError(CodeProposalClosed, fmt.Sprintf("proposal %s was closed by someone else", p.ID), err)
		case errors.Is(err, store.ErrNotFound):
			return Decision{}, newError(CodeNotFound, fmt.Sprintf("proposal %s does not exist", p.ID), err)
		case err != nil:
			return Decision{}, fmt.Errorf("approve proposal: %w", err)
		}

		merged.Version = rec.Version + 1
		p.Status = store.StatusApproved
		p.ReviewerID = reviewer.ID
		p.ReviewedAt = &reviewedAt
		p.Notes = notes
		p.Conflicts = report.Conflicts

		recordTransition(store.StatusApproved)
		recordConflicts(report)
		fields := logrus.Fields{
			"proposal_id": p.ID,
			"target_id":   p.TargetID,
			"reviewer_id": reviewer.ID,
			"applied":     report.Applied,
			"conflicts":   len(report.Conflicts),
		}
		if report.Empty() {
			s.log.WithFields(fields).Info("workflow.proposal.approved")
		} else {
			s.log.WithFields(fields).Warn("workflow.proposal.approved_with_conflicts")
		}
		s.notify(ctx, stored, &p)
		return Decision{Proposal: p, Record: &merged, Report: &report}, nil
	}

	return Decision{}, newError(CodeConflictRetriesExhausted,
		fmt.Sprintf("the record kept changing while approving proposal %s; try again", proposalID), store.ErrVersionConflict)
}

// Reject closes the proposal with an optional reason. The record is not touched.
func (s *Service) Reject(ctx context.Context, reviewer Actor, proposalID, reason string) (store.Proposal, error) {
	if err := CanReview(reviewer.Role).Error(); err != nil {
		return store.Proposal{}, newError(CodeForbidden, err.Error(), nil)
	}
	p, err := s.getProposal(ctx, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if err := CanTransition(TransitionContext{ProposalID: p.ID, From: p.Status, To: store.StatusRejected}).Error(); err != nil {
		return p, newError(CodeProposalClosed, err.Error(), store.ErrProposalNotPending)
	}

	reason = strings.TrimSpace(reason)
	reviewedAt := s.now().UTC()
	payload := map[string]any{}
	if reason != "" {
		payload["reason"] = reason
	}
	event := s.event(p, store.EventRejected, reviewer.ID, payload)
	stored, err := s.store.CloseProposal(ctx, store.Closure{
		ProposalID: p.ID,
		Status:     store.StatusRejected,
		ReviewerID: reviewer.ID,
		ReviewedAt: reviewedAt,
		Notes:      reason,
		Event:      event,
	})
	if errors.Is(err, store.ErrProposalNotPending) {
		return store.Proposal{}, newError(CodeProposalClosed, fmt.Sprintf("proposal %s was closed by someone else", p.ID), err)
	}
	if err != nil {
		return store.Proposal{}, fmt.Errorf("reject proposal: %w", err)
	}

	p.Status = store.StatusRejected
	p.ReviewerID = reviewer.ID
	p.ReviewedAt = &reviewedAt
	p.Notes = reason

	recordTransition(store.StatusRejected)
	s.log.WithFields(logrus.Fields{
		"proposal_id": p.ID,
		"target_id":   p.TargetID,
		"reviewer_id": reviewer.ID,
		"has_reason":  reason != "",
	}).Info("workflow.proposal.rejected")
	s.notify(ctx, stored, &p)
	return p, nil
}

// Delete removes a proposal in any status. Its audit trail is kept.
func (s *Service) Delete(ctx context.Context, reviewer Actor, proposalID string) error {
	if err := CanReview(reviewer.Role).Error(); err != nil {
		return newError(CodeForbidden, err.Error(), nil)
	}
	p, err := s.getProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	event := s.event(p, store.EventDeleted, reviewer.ID, map[string]any{"status": string(p.Status)})
	stored, err := s.store.DeleteProposal(ctx, p.ID, event)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeNotFound, fmt.Sprintf("proposal %s does not exist", proposalID), err)
		}
		return fmt.Errorf("delete proposal: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"proposal_id": p.ID,
		"target_id":   p.TargetID,
		"reviewer_id": reviewer.ID,
		"status":      p.Status,
	}).Info("workflow.proposal.deleted")
	s.notify(ctx, stored, nil)
	return nil
}

// ChangePreview shows a reviewer what approving a proposal would do to the
// current record. Patch is an RFC 6902 patch from Current to Merged.
type ChangePreview struct {
	Proposal  store.Proposal       `json:"proposal"`
	Changes   []record.FieldChange `json:"changes"`
	Current   record.Record        `json:"current"`
	Merged    record.Record        `json:"merged"`
	Patch     jsondiff.Patch       `json:"patch"`
	Conflicts []merge.Conflict     `json:"conflicts"`
}

// ViewChanges is read-only; it never writes to the store.
func (s *Service) ViewChanges(ctx context.Context, actor Actor, proposalID string) (ChangePreview, error) {
	p, err := s.GetProposal(ctx, actor, proposalID)
	if err != nil {
		return ChangePreview{}, err
	}
	rec, err := s.getRecord(ctx, p.Target())
	if err != nil {
		return ChangePreview{}, err
	}
	merged, report := merge.Merge(rec, p.ChangedSites, s.policy)

	before, err := json.Marshal(rec)
	if err != nil {
		return ChangePreview{}, fmt.Errorf("encode current record: %w", err)
	}
	after, err := json.Marshal(merged)
	if err != nil {
		return ChangePreview{}, fmt.Errorf("encode merged record: %w", err)
	}
	patch, err := jsondiff.CompareJSON(before, after)
	if err != nil {
		return ChangePreview{}, fmt.Errorf("diff merged record: %w", err)
	}

	changes := make([]record.FieldChange, 0)
	for _, sp := range p.ChangedSites {
		changes = append(changes, sp.Changes()...)
	}
	return ChangePreview{
		Proposal:  p,
		Changes:   changes,
		Current:   rec,
		Merged:    merged,
		Patch:     patch,
		Conflicts: report.Conflicts,
	}, nil
}

func submitterLabel(p store.Proposal) string {
	if p.SubmitterName != "" {
		return p.SubmitterName
	}
	return p.SubmitterID
}
