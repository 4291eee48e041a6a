package store

import (
	"errors"
	"strings"
	"time"

	"filedesk/api/internal/merge"
	"filedesk/api/internal/rbac"
	"filedesk/api/internal/record"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrOutstandingProposal = errors.New("a pending proposal already exists for this target and submitter")
	ErrVersionConflict     = errors.New("record was modified concurrently")
	ErrProposalNotPending  = errors.New("proposal is no longer pending")
)

type ProposalStatus string

const (
	StatusPending             ProposalStatus = "pending"
	StatusApproved            ProposalStatus = "approved"
	StatusRejected            ProposalStatus = "rejected"
	StatusSubmitterUnassigned ProposalStatus = "submitter-unassigned"
)

func (s ProposalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusSubmitterUnassigned
}

func (s ProposalStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Target names a canonical record; a file and a scheme may share an ID.
type Target struct {
	ID       string
	IsScheme bool
}

func (t Target) Kind() record.Kind {
	return record.KindFor(t.IsScheme)
}

type Proposal struct {
	ID            string             `json:"id"`
	TargetID      string             `json:"targetId"`
	IsScheme      bool               `json:"isScheme"`
	ChangedSites  []record.SitePatch `json:"changedSites"`
	SubmitterID   string             `json:"submitterId"`
	SubmitterName string             `json:"submitterName"`
	SubmitterRole rbac.Role          `json:"submitterRole,omitempty"`
	SubmittedAt   time.Time          `json:"submittedAt"`
	Status        ProposalStatus     `json:"status"`
	ReviewerID    string             `json:"reviewerId,omitempty"`
	ReviewedAt    *time.Time         `json:"reviewedAt,omitempty"`
	Notes         string             `json:"notes,omitempty"`
	Conflicts     []merge.Conflict   `json:"conflicts,omitempty"`
}

func (p Proposal) Target() Target {
	return Target{ID: p.TargetID, IsScheme: p.IsScheme}
}

// SiteNames lists the natural keys touched by the proposal, in patch order.
func (p Proposal) SiteNames() []string {
	names := make([]string, 0, len(p.ChangedSites))
	for _, patch := range p.ChangedSites {
		names = append(names, patch.Name)
	}
	return names
}

// SearchText is the free text a reviewer can search the queue by.
func (p Proposal) SearchText() string {
	parts := []string{p.TargetID, p.SubmitterName, p.SubmitterID}
	parts = append(parts, p.SiteNames()...)
	for _, patch := range p.ChangedSites {
		for _, f := range patch.Fields {
			parts = append(parts, string(f))
		}
	}
	return strings.Join(parts, " ")
}

type ProposalFilter struct {
	Status      ProposalStatus
	TargetID    string
	IsScheme    *bool
	SubmitterID string
	Limit       int
}

func (f ProposalFilter) matches(p Proposal) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.TargetID != "" && p.TargetID != f.TargetID {
		return false
	}
	if f.IsScheme != nil && p.IsScheme != *f.IsScheme {
		return false
	}
	if f.SubmitterID != "" && p.SubmitterID != f.SubmitterID {
		return false
	}
	return true
}

type EventType string

const (
	EventSubmitted           EventType = "submitted"
	EventApproved            EventType = "approved"
	EventRejected            EventType = "rejected"
	EventSubmitterUnassigned EventType = "submitter-unassigned"
	EventDeleted             EventType = "deleted"
)

// Event is one append-only audit trail entry. IDs increase monotonically and
// double as the cursor for polling subscribers.
type Event struct {
	ID         int64          `json:"id"`
	ProposalID string         `json:"proposalId"`
	TargetID   string         `json:"targetId"`
	IsScheme   bool           `json:"isScheme"`
	Type       EventType      `json:"type"`
	ActorID    string         `json:"actorId"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Closure moves a pending proposal to a terminal status. When Record is set it
// is written in the same transaction, guarded by Record.Version.
type Closure struct {
	ProposalID string
	Status     ProposalStatus
	ReviewerID string
	ReviewedAt time.Time
	Notes      string
	Conflicts  []merge.Conflict
	Record     *record.Record
	Event      Event
}

// Delegation assigns a staff member to a target for supervision.
type Delegation struct {
	StaffID   string
	TargetID  string
	IsScheme  bool
	GrantedAt time.Time
	RevokedAt *time.Time
}
