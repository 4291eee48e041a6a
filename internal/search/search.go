// Package search serves the reviewer queue search over proposals.
package search

import (
	"context"
	"time"

	"filedesk/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID            string               `json:"id"`
	TargetID      string               `json:"targetId"`
	IsScheme      bool                 `json:"isScheme"`
	Status        store.ProposalStatus `json:"status"`
	SubmitterID   string               `json:"submitterId"`
	SubmitterName string               `json:"submitterName"`
	SubmittedAt   time.Time            `json:"submittedAt"`
	Snippet       string               `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text        string
	Status      store.ProposalStatus // empty = any status
	SubmitterID string               // set for callers that may only see their own proposals
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a Searcher that proposals can be pushed into.
type Index interface {
	Searcher
	IndexProposals(docs []Document) error
	DeleteProposal(id string) error
}

// Document is the data we index for a proposal.
type Document struct {
	ID            string `json:"id"`
	TargetID      string `json:"targetId"`
	IsScheme      bool   `json:"isScheme"`
	Status        string `json:"status"`
	SubmitterID   string `json:"submitterId"`
	SubmitterName string `json:"submitterName"`
	SubmittedAt   int64  `json:"submittedAt"`
	Text          string `json:"text"`
}

// DocumentFor converts a proposal into its index document.
func DocumentFor(p store.Proposal) Document {
	return Document{
		ID:            p.ID,
		TargetID:      p.TargetID,
		IsScheme:      p.IsScheme,
		Status:        string(p.Status),
		SubmitterID:   p.SubmitterID,
		SubmitterName: p.SubmitterName,
		SubmittedAt:   p.SubmittedAt.Unix(),
		Text:          p.SearchText(),
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
