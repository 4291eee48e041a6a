package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"filedesk/api/internal/changeset"
	"filedesk/api/internal/rbac"
	"filedesk/api/internal/record"
	"filedesk/api/internal/store"
)

// SubmitInput is a submitter's edited copy of a record's sites. Sites are
// matched to the canonical record by name; unknown names are ignored.
type SubmitInput struct {
	Target store.Target
	Sites  []record.Site
}

// Submit diffs the candidate sites against the canonical record and queues the
// authorized changes as a pending proposal.
func (s *Service) Submit(ctx context.Context, actor Actor, in SubmitInput) (store.Proposal, error) {
	p, err := s.submit(ctx, actor, in)
	if err != nil {
		recordRefused(CodeOf(err))
		s.log.WithFields(logrus.Fields{
			"target_id":    in.Target.ID,
			"target_kind":  in.Target.Kind(),
			"submitter_id": actor.ID,
			"error_code":   CodeOf(err),
		}).WithError(err).Info("workflow.submit.refused")
		return store.Proposal{}, err
	}
	recordSubmitted(in.Target.Kind())
	s.log.WithFields(logrus.Fields{
		"proposal_id":  p.ID,
		"target_id":    p.TargetID,
		"target_kind":  in.Target.Kind(),
		"submitter_id": p.SubmitterID,
		"sites":        len(p.ChangedSites),
	}).Info("workflow.proposal.submitted")
	return p, nil
}

func (s *Service) submit(ctx context.Context, actor Actor, in SubmitInput) (store.Proposal, error) {
	if strings.TrimSpace(in.Target.ID) == "" {
		return store.Proposal{}, newError(CodeInvalidInput, "target id is required", nil)
	}
	if err := s.checkPropose(ctx, actor, in.Target); err != nil {
		return store.Proposal{}, err
	}

	rec, _, err := s.loadRecord(ctx, in.Target)
	if err != nil {
		return store.Proposal{}, err
	}
	if !anyEditable(actor.Role, rec) {
		return store.Proposal{}, newError(CodeRecordLocked, fmt.Sprintf("%s %s has no sites you can edit in their current status", rec.Kind, rec.ID), nil)
	}
	if err := validateCandidate(actor.Role, rec, in.Sites); err != nil {
		return store.Proposal{}, err
	}

	patches, err := changeset.ComputeRecord(actor.Role, rec, record.Record{Sites: in.Sites})
	if errors.Is(err, changeset.ErrNoChanges) {
		return store.Proposal{}, newError(CodeNoChanges, "no changes detected; nothing was submitted", nil)
	}
	if err != nil {
		return store.Proposal{}, fmt.Errorf("compute changes: %w", err)
	}

	if existing, err := s.store.FindPendingProposal(ctx, in.Target, actor.ID); err != nil {
		return store.Proposal{}, fmt.Errorf("check outstanding proposal: %w", err)
	} else if existing != nil {
		return store.Proposal{}, outstandingError(existing.ID)
	}

	p := store.Proposal{
		ID:            s.newID(),
		TargetID:      in.Target.ID,
		IsScheme:      in.Target.IsScheme,
		ChangedSites:  patches,
		SubmitterID:   actor.ID,
		SubmitterName: actor.Name,
		SubmitterRole: actor.Role,
		SubmittedAt:   s.now().UTC(),
		Status:        store.StatusPending,
	}
	event := s.event(p, store.EventSubmitted, actor.ID, map[string]any{
		"sites":   p.SiteNames(),
		"changes": countFields(patches),
	})
	stored, err := s.store.CreateProposal(ctx, p, event)
	if err != nil {
		if errors.Is(err, store.ErrOutstandingProposal) {
			existing, findErr := s.store.FindPendingProposal(ctx, in.Target, actor.ID)
			if findErr == nil && existing != nil {
				return store.Proposal{}, outstandingError(existing.ID)
			}
			return store.Proposal{}, outstandingError("")
		}
		return store.Proposal{}, fmt.Errorf("create proposal: %w", err)
	}

	s.notify(ctx, stored, &p)
	return p, nil
}

func outstandingError(existingID string) *Error {
	msg := "you already have a proposal pending review for this record; wait for it to be reviewed"
	e := newError(CodeProposalOutstanding, msg, store.ErrOutstandingProposal)
	if existingID != "" {
		e.Details = map[string]string{"proposalId": existingID}
	}
	return e
}

func anyEditable(role rbac.Role, rec record.Record) bool {
	for _, site := range rec.Sites {
		if !rbac.EditableFields(role, site.Status).Empty() {
			return true
		}
	}
	return false
}

// validateCandidate rejects values that are never acceptable regardless of
// authorization: unknown statuses, statuses outside the role's settable
// range and negative counts.
func validateCandidate(role rbac.Role, rec record.Record, sites []record.Site) error {
	seen := make(map[string]struct{}, len(sites))
	for _, candidate := range sites {
		if _, dup := seen[candidate.Name]; dup {
			return newError(CodeInvalidInput, fmt.Sprintf("site %q appears more than once", candidate.Name), nil)
		}
		seen[candidate.Name] = struct{}{}

		original, ok := rec.Site(candidate.Name)
		if !ok {
			continue
		}
		authorized := rbac.EditableFields(role, original.Status)
		if authorized.Has(record.FieldStatus) && !record.FieldEqual(record.FieldStatus, original, candidate) {
			status := record.Status(strings.TrimSpace(string(candidate.Status)))
			if !status.Known() {
				return newError(CodeInvalidInput, fmt.Sprintf("site %q: unknown status %q", candidate.Name, candidate.Status), nil)
			}
			if !rbac.Privileged(role) && !rbac.SupervisorEditableStatus(status) {
				return newError(CodeInvalidInput, fmt.Sprintf("site %q: only an editor can set status %q", candidate.Name, status), nil)
			}
		}
		if authorized.Has(record.FieldBeneficiaryCount) && candidate.BeneficiaryCount < 0 {
			return newError(CodeInvalidInput, fmt.Sprintf("site %q: beneficiary count cannot be negative", candidate.Name), nil)
		}
	}
	return nil
}

func countFields(patches []record.SitePatch) int {
	n := 0
	for _, p := range patches {
		n += len(p.Fields)
	}
	return n
}
