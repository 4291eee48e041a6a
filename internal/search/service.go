package search

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"filedesk/api/internal/store"
)

const (
	BackendIndex    = "index"
	BackendFallback = "fallback"
)

// Service is the facade that tries the search index first and falls back to
// the fallback searcher. It also keeps the index in step with proposal
// transitions.
type Service struct {
	index    Index
	fallback Searcher
	log      logrus.FieldLogger
	inflight sync.WaitGroup
}

// NewService creates a search service. index may be nil if Meilisearch is not configured.
func NewService(index Index, fallback Searcher, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{index: index, fallback: fallback, log: log}
}

// Search tries the index if healthy, otherwise the fallback. Errors are logged
// and produce an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Limit = normalizeLimit(q.Limit)
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: BackendIndex}
		}
		s.log.WithError(err).Warn("search.index_failed_falling_back")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: BackendFallback}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.WithError(err).Error("search.fallback_failed")
		return Response{Results: []Result{}, Query: q.Text, Backend: BackendFallback}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: BackendFallback}
}

// IndexProposal indexes a proposal (fire-and-forget).
func (s *Service) IndexProposal(_ context.Context, p store.Proposal) {
	if !s.indexReady() {
		return
	}
	doc := DocumentFor(p)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.index.IndexProposals([]Document{doc}); err != nil {
			s.log.WithField("proposal_id", doc.ID).WithError(err).Warn("search.index_proposal_failed")
		}
	}()
}

// DeleteProposal removes a proposal from the index (fire-and-forget).
func (s *Service) DeleteProposal(_ context.Context, proposalID string) {
	if !s.indexReady() {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.index.DeleteProposal(proposalID); err != nil {
			s.log.WithField("proposal_id", proposalID).WithError(err).Warn("search.delete_proposal_failed")
		}
	}()
}

// Wait blocks until pending index writes have finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// ReindexAll pushes docs to the index. Called during startup when the index is reachable.
func (s *Service) ReindexAll(docs []Document) {
	if !s.indexReady() || len(docs) == 0 {
		return
	}
	if err := s.index.IndexProposals(docs); err != nil {
		s.log.WithError(err).Warn("search.reindex_failed")
		return
	}
	s.log.WithField("proposals", len(docs)).Info("search.reindexed")
}

// ReindexAllFromPG reindexes every proposal stored in PostgreSQL.
func (s *Service) ReindexAllFromPG(ctx context.Context, pg *PgFTS) {
	if !s.indexReady() || pg == nil {
		return
	}
	docs, err := pg.LoadAllDocuments(ctx)
	if err != nil {
		s.log.WithError(err).Warn("search.reindex_load_failed")
		return
	}
	s.ReindexAll(docs)
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
