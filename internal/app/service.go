package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"filedesk/api/internal/auth"
	"filedesk/api/internal/feed"
	"filedesk/api/internal/rbac"
	"filedesk/api/internal/search"
	"filedesk/api/internal/store"
	"filedesk/api/internal/workflow"
)

const defaultFeedWait = 25 * time.Second

// Pinger is a dependency the readiness endpoint checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Workflow *workflow.Service
	Search   *search.Service
	Feed     feed.Source
	Verifier *auth.Verifier
	// Checks are reported by /api/ready under their map key.
	Checks   map[string]Pinger
	FeedWait time.Duration
	Logger   logrus.FieldLogger
}

// Service adapts the workflow and its satellites to the HTTP layer: it
// resolves the caller, scopes reads and shapes feed batches.
type Service struct {
	workflow *workflow.Service
	search   *search.Service
	feed     feed.Source
	verifier *auth.Verifier
	checks   map[string]Pinger
	feedWait time.Duration
	log      logrus.FieldLogger
}

func NewService(deps Deps) *Service {
	s := &Service{
		workflow: deps.Workflow,
		search:   deps.Search,
		feed:     deps.Feed,
		verifier: deps.Verifier,
		checks:   deps.Checks,
		feedWait: deps.FeedWait,
		log:      deps.Logger,
	}
	if s.feedWait <= 0 {
		s.feedWait = defaultFeedWait
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

func (s *Service) Workflow() *workflow.Service {
	return s.workflow
}

// ActorFromHeader verifies an Authorization header value.
func (s *Service) ActorFromHeader(header string) (workflow.Actor, error) {
	principal, err := s.verifier.Verify(header)
	if err != nil {
		return workflow.Actor{}, err
	}
	return workflow.Actor{ID: principal.ID, Name: principal.Name, Role: principal.Role}, nil
}

// CheckResult is one dependency's readiness.
type CheckResult struct {
	Name  string
	Error error
}

// Ready pings every dependency and returns the results sorted by name.
func (s *Service) Ready(ctx context.Context) []CheckResult {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		results = append(results, CheckResult{Name: name, Error: s.checks[name].Ping(ctx)})
	}
	return results
}

// SearchProposals runs a queue search. Callers without review rights only
// match their own proposals.
func (s *Service) SearchProposals(ctx context.Context, actor workflow.Actor, q search.Query) (search.Response, error) {
	if err := workflow.CanRead(actor.Role).Error(); err != nil {
		return search.Response{}, domainError(http.StatusForbidden, string(workflow.CodeForbidden), err.Error(), nil)
	}
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{}, domainError(http.StatusBadRequest, string(workflow.CodeInvalidInput), "q is required", nil)
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "search is not configured", nil)
	}
	if !rbac.Can(actor.Role, rbac.ActionReview) {
		q.SubmitterID = actor.ID
	}
	return s.search.Search(ctx, q), nil
}

// FeedBatch is one long-poll response. Events is empty when the wait
// elapsed; Cursor is where the next request resumes.
type FeedBatch struct {
	Events []store.Event `json:"events"`
	Cursor string        `json:"cursor"`
}

// NextEvents waits up to the feed wait for events after cursor.
func (s *Service) NextEvents(ctx context.Context, actor workflow.Actor, cursor string) (FeedBatch, error) {
	if err := workflow.CanReview(actor.Role).Error(); err != nil {
		return FeedBatch{}, domainError(http.StatusForbidden, string(workflow.CodeForbidden), err.Error(), nil)
	}
	if s.feed == nil {
		return FeedBatch{}, domainError(http.StatusServiceUnavailable, "FEED_UNAVAILABLE", "the live feed is not configured", nil)
	}
	sub, err := s.feed.Subscribe(ctx, cursor)
	if errors.Is(err, feed.ErrInvalidCursor) {
		return FeedBatch{}, domainError(http.StatusBadRequest, string(workflow.CodeInvalidInput), err.Error(), nil)
	}
	if err != nil {
		return FeedBatch{}, fmt.Errorf("subscribe: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.feedWait)
	defer cancel()
	events, err := sub.Next(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return FeedBatch{Events: []store.Event{}, Cursor: sub.Cursor()}, nil
		}
		return FeedBatch{}, fmt.Errorf("next events: %w", err)
	}
	return FeedBatch{Events: events, Cursor: sub.Cursor()}, nil
}
