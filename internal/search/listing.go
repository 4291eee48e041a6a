package search

import (
	"context"
	"fmt"
	"strings"

	"filedesk/api/internal/store"
)

// ProposalLister is the slice of the proposal store ListSearcher needs.
type ProposalLister interface {
	ListProposals(ctx context.Context, filter store.ProposalFilter) ([]store.Proposal, error)
}

// ListSearcher matches query terms against each proposal's search text. It
// backs the in-memory deployment where there is no full-text engine.
type ListSearcher struct {
	proposals ProposalLister
}

func NewListSearcher(proposals ProposalLister) *ListSearcher {
	return &ListSearcher{proposals: proposals}
}

func (l *ListSearcher) Healthy() bool {
	return true
}

// Search returns proposals containing every term, newest first.
func (l *ListSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}
	items, err := l.proposals.ListProposals(ctx, store.ProposalFilter{
		Status:      q.Status,
		SubmitterID: q.SubmitterID,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list proposals: %w", err)
	}

	var matched []Result
	for _, p := range items {
		text := p.SearchText()
		if !containsAll(strings.ToLower(text), terms) {
			continue
		}
		matched = append(matched, Result{
			ID:            p.ID,
			TargetID:      p.TargetID,
			IsScheme:      p.IsScheme,
			Status:        p.Status,
			SubmitterID:   p.SubmitterID,
			SubmitterName: p.SubmitterName,
			SubmittedAt:   p.SubmittedAt,
			Snippet:       text,
		})
	}

	total := len(matched)
	offset := min(max(q.Offset, 0), total)
	end := min(offset+normalizeLimit(q.Limit), total)
	return matched[offset:end], total, nil
}

func containsAll(text string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}
