// Package workflow runs the proposal lifecycle: supervisors draft field-level
// changes to records they are delegated, editors approve, reject or delete them.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"filedesk/api/internal/changeset"
	"filedesk/api/internal/merge"
	"filedesk/api/internal/rbac"
	"filedesk/api/internal/record"
	"filedesk/api/internal/store"
	"filedesk/api/internal/util"
)

const DefaultMergeMaxAttempts = 3

// Store is the document store the workflow reads and writes.
type Store interface {
	GetRecord(ctx context.Context, kind record.Kind, id string) (record.Record, error)
	CreateProposal(ctx context.Context, proposal store.Proposal, event store.Event) (store.Event, error)
	GetProposal(ctx context.Context, proposalID string) (store.Proposal, error)
	FindPendingProposal(ctx context.Context, target store.Target, submitterID string) (*store.Proposal, error)
	ListProposals(ctx context.Context, filter store.ProposalFilter) ([]store.Proposal, error)
	DeleteProposal(ctx context.Context, proposalID string, event store.Event) (store.Event, error)
	CloseProposal(ctx context.Context, closure store.Closure) (store.Event, error)
	ListEvents(ctx context.Context, proposalID string) ([]store.Event, error)
}

// StaffDirectory answers whether a staff member is still delegated a target.
type StaffDirectory interface {
	HasActiveDelegation(ctx context.Context, staffID string, target store.Target) (bool, error)
}

// Publisher pushes committed audit events to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, event store.Event) error
}

// Indexer keeps the reviewer queue search index in step with proposals.
type Indexer interface {
	IndexProposal(ctx context.Context, proposal store.Proposal)
	DeleteProposal(ctx context.Context, proposalID string)
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Name string
	Role rbac.Role
}

type Options struct {
	Policy           merge.Policy
	MergeMaxAttempts int
	Logger           logrus.FieldLogger
	Now              func() time.Time
	NewID            func() string
	Publisher        Publisher
	Indexer          Indexer
}

type Service struct {
	store       Store
	staff       StaffDirectory
	policy      merge.Policy
	maxAttempts int
	log         logrus.FieldLogger
	now         func() time.Time
	newID       func() string
	publisher   Publisher
	indexer     Indexer
}

func NewService(st Store, staff StaffDirectory, opts Options) *Service {
	s := &Service{
		store:       st,
		staff:       staff,
		policy:      opts.Policy,
		maxAttempts: opts.MergeMaxAttempts,
		log:         opts.Logger,
		now:         opts.Now,
		newID:       opts.NewID,
		publisher:   opts.Publisher,
		indexer:     opts.Indexer,
	}
	if s.policy == "" {
		s.policy = merge.ProposalWins
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMergeMaxAttempts
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return util.NewID("prop") }
	}
	return s
}

func (s *Service) Policy() merge.Policy {
	return s.policy
}

// RecordView is a canonical record together with any proposals that were
// closed as submitter-unassigned while loading it.
type RecordView struct {
	Record     record.Record    `json:"record"`
	Unassigned []store.Proposal `json:"unassigned,omitempty"`
}

// OpenRecord loads a record for display. Pending proposals whose submitter has
// lost the delegation are closed on the way.
func (s *Service) OpenRecord(ctx context.Context, actor Actor, target store.Target) (RecordView, error) {
	if err := CanRead(actor.Role).Error(); err != nil {
		return RecordView{}, newError(CodeForbidden, err.Error(), nil)
	}
	rec, unassigned, err := s.loadRecord(ctx, target)
	if err != nil {
		return RecordView{}, err
	}
	return RecordView{Record: rec, Unassigned: unassigned}, nil
}

// EditSession is what a submitter sees when opening a record for edit. When
// Outstanding is set the record is read-only and Editable is empty.
type EditSession struct {
	Record      record.Record            `json:"record"`
	Editable    []changeset.EditableView `json:"editable"`
	ReadOnly    bool                     `json:"readOnly"`
	Outstanding *store.Proposal          `json:"outstanding,omitempty"`
	Unassigned  []store.Proposal         `json:"unassigned,omitempty"`
}

func (s *Service) OpenForEdit(ctx context.Context, actor Actor, target store.Target) (EditSession, error) {
	if err := s.checkPropose(ctx, actor, target); err != nil {
		return EditSession{}, err
	}
	rec, unassigned, err := s.loadRecord(ctx, target)
	if err != nil {
		return EditSession{}, err
	}

	session := EditSession{Record: rec, Unassigned: unassigned, Editable: []changeset.EditableView{}}
	existing, err := s.store.FindPendingProposal(ctx, target, actor.ID)
	if err != nil {
		return EditSession{}, fmt.Errorf("check outstanding proposal: %w", err)
	}
	if existing != nil {
		session.ReadOnly = true
		session.Outstanding = existing
		return session, nil
	}
	session.Editable = changeset.Editable(actor.Role, rec)
	return session, nil
}

// HasOutstanding reports whether submitterID already has a pending proposal on target.
func (s *Service) HasOutstanding(ctx context.Context, target store.Target, submitterID string) (bool, error) {
	existing, err := s.store.FindPendingProposal(ctx, target, submitterID)
	if err != nil {
		return false, fmt.Errorf("check outstanding proposal: %w", err)
	}
	return existing != nil, nil
}

func (s *Service) GetProposal(ctx context.Context, actor Actor, proposalID string) (store.Proposal, error) {
	if err := CanRead(actor.Role).Error(); err != nil {
		return store.Proposal{}, newError(CodeForbidden, err.Error(), nil)
	}
	p, err := s.getProposal(ctx, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if !s.canSeeProposal(actor, p) {
		return store.Proposal{}, newError(CodeForbidden, "you can only view your own proposals", nil)
	}
	return p, nil
}

// ListProposals returns proposals newest first. Non-reviewers only see their own.
func (s *Service) ListProposals(ctx context.Context, actor Actor, filter store.ProposalFilter) ([]store.Proposal, error) {
	if err := CanRead(actor.Role).Error(); err != nil {
		return nil, newError(CodeForbidden, err.Error(), nil)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, newError(CodeInvalidInput, fmt.Sprintf("unknown proposal status %q", filter.Status), nil)
	}
	if !rbac.Can(actor.Role, rbac.ActionReview) {
		filter.SubmitterID = actor.ID
	}
	items, err := s.store.ListProposals(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return items, nil
}

// Events returns the audit trail of one proposal, oldest first. It remains
// available after the proposal is deleted.
func (s *Service) Events(ctx context.Context, actor Actor, proposalID string) ([]store.Event, error) {
	if err := CanRead(actor.Role).Error(); err != nil {
		return nil, newError(CodeForbidden, err.Error(), nil)
	}
	events, err := s.store.ListEvents(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list proposal events: %w", err)
	}
	if len(events) == 0 {
		return nil, newError(CodeNotFound, fmt.Sprintf("proposal %s has no history", proposalID), nil)
	}
	if !rbac.Can(actor.Role, rbac.ActionReview) && events[0].ActorID != actor.ID {
		return nil, newError(CodeForbidden, "you can only view your own proposals", nil)
	}
	return events, nil
}

func (s *Service) canSeeProposal(actor Actor, p store.Proposal) bool {
	return rbac.Can(actor.Role, rbac.ActionReview) || p.SubmitterID == actor.ID
}

func (s *Service) checkPropose(ctx context.Context, actor Actor, target store.Target) error {
	hasDelegation := false
	if rbac.Can(actor.Role, rbac.ActionPropose) && !rbac.Privileged(actor.Role) {
		active, err := s.staff.HasActiveDelegation(ctx, actor.ID, target)
		if err != nil {
			return fmt.Errorf("check delegation: %w", err)
		}
		hasDelegation = active
	}
	guard := CanPropose(ProposeContext{Role: actor.Role, TargetID: target.ID, HasDelegation: hasDelegation})
	if err := guard.Error(); err != nil {
		return newError(CodeForbidden, err.Error(), nil)
	}
	return nil
}

// submitterDelegated reports whether p's submitter may still have it
// reviewed. Privileged submitters never needed a delegation, so they cannot
// lose one.
func (s *Service) submitterDelegated(ctx context.Context, p store.Proposal) (bool, error) {
	if rbac.Privileged(p.SubmitterRole) {
		return true, nil
	}
	active, err := s.staff.HasActiveDelegation(ctx, p.SubmitterID, p.Target())
	if err != nil {
		return false, fmt.Errorf("check delegation: %w", err)
	}
	return active, nil
}

func (s *Service) getRecord(ctx context.Context, target store.Target) (record.Record, error) {
	rec, err := s.store.GetRecord(ctx, target.Kind(), target.ID)
	if errors.Is(err, store.ErrNotFound) {
		return record.Record{}, newError(CodeNotFound, fmt.Sprintf("%s %s does not exist", target.Kind(), target.ID), err)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (s *Service) getProposal(ctx context.Context, proposalID string) (store.Proposal, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Proposal{}, newError(CodeNotFound, fmt.Sprintf("proposal %s does not exist", proposalID), err)
	}
	if err != nil {
		return store.Proposal{}, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// notify runs after a commit with the event as stored. Failures are logged;
// the transition already happened.
func (s *Service) notify(ctx context.Context, event store.Event, proposal *store.Proposal) {
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.log.WithFields(logrus.Fields{
				"proposal_id": event.ProposalID,
				"event_type":  event.Type,
			}).WithError(err).Warn("workflow.feed.publish_failed")
		}
	}
	if s.indexer == nil {
		return
	}
	if proposal == nil {
		s.indexer.DeleteProposal(ctx, event.ProposalID)
		return
	}
	s.indexer.IndexProposal(ctx, *proposal)
}

func (s *Service) event(p store.Proposal, eventType store.EventType, actorID string, payload map[string]any) store.Event {
	return store.Event{
		ProposalID: p.ID,
		TargetID:   p.TargetID,
		IsScheme:   p.IsScheme,
		Type:       eventType,
		ActorID:    actorID,
		Payload:    payload,
		CreatedAt:  s.now().UTC(),
	}
}
