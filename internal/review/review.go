// Package review resolves open similarity candidates.
package review

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/metrics"
)

// Resolution reports what a Resolve call changed.
type Resolution struct {
	CandidateID     string           `json:"candidate_id"`
	ArticleID       string           `json:"article_id"`
	Decision        crawler.Decision `json:"status"`
	ArticleDeleted  bool             `json:"article_deleted"`
	AuthorsUnlinked int              `json:"authors_unlinked"`
}

// Service applies operator decisions to similarity candidates.
type Service struct {
	candidates crawler.CandidateStore
	articles   crawler.ArticleStore
	authors    crawler.AuthorStore
	logger     *zap.Logger
}

// NewService wires a Service.
func NewService(
	candidates crawler.CandidateStore,
	articles crawler.ArticleStore,
	authors crawler.AuthorStore,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		candidates: candidates,
		articles:   articles,
		authors:    authors,
		logger:     logger.Named("review"),
	}
}

// List returns the open candidates.
func (s *Service) List(ctx context.Context) ([]crawler.SimilarityCandidate, error) {
	out, err := s.candidates.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return out, nil
}

// Resolve closes a candidate. A duplicate verdict also removes the local
// article and every author link to it.
func (s *Service) Resolve(ctx context.Context, candidateID string, decision crawler.Decision) (Resolution, error) {
	if decision != crawler.DecisionDuplicate && decision != crawler.DecisionNotDuplicate {
		return Resolution{}, crawler.Validationf("status must be %q or %q", crawler.DecisionDuplicate, crawler.DecisionNotDuplicate)
	}
	candidate, err := s.candidates.GetCandidate(ctx, candidateID)
	if err != nil {
		return Resolution{}, fmt.Errorf("load candidate: %w", err)
	}
	res := Resolution{
		CandidateID: candidate.ID,
		ArticleID:   candidate.ArticleID,
		Decision:    decision,
	}

	if decision == crawler.DecisionDuplicate {
		unlinked, err := s.authors.RemoveArticle(ctx, candidate.ArticleID)
		if err != nil {
			return res, fmt.Errorf("unlink article %s: %w", candidate.ArticleID, err)
		}
		res.AuthorsUnlinked = unlinked
		switch err := s.articles.DeleteArticle(ctx, candidate.ArticleID); {
		case err == nil:
			res.ArticleDeleted = true
		case errors.Is(err, crawler.ErrNotFound):
			s.logger.Warn("candidate article already gone", zap.String("article_id", candidate.ArticleID))
		default:
			return res, fmt.Errorf("delete article %s: %w", candidate.ArticleID, err)
		}
	}

	// Deleting the article may already have cascaded to the candidate.
	err = s.candidates.DeleteCandidate(ctx, candidate.ID)
	if err != nil && !(res.ArticleDeleted && errors.Is(err, crawler.ErrNotFound)) {
		return res, fmt.Errorf("delete candidate: %w", err)
	}
	metrics.ObserveDedupOutcome("resolved_" + string(decision))
	s.logger.Info("candidate resolved",
		zap.String("candidate_id", candidate.ID),
		zap.String("article_id", candidate.ArticleID),
		zap.String("decision", string(decision)),
		zap.Int("authors_unlinked", res.AuthorsUnlinked),
	)
	return res, nil
}
