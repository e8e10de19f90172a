package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

// CandidateStore keeps at most one open candidate per article.
type CandidateStore struct {
	mu         sync.RWMutex
	candidates map[string]crawler.SimilarityCandidate
	byArticle  map[string]string
}

// NewCandidateStore constructs a CandidateStore.
func NewCandidateStore() *CandidateStore {
	return &CandidateStore{
		candidates: make(map[string]crawler.SimilarityCandidate),
		byArticle:  make(map[string]string),
	}
}

// UpsertCandidate replaces the article's open candidate or inserts a new one.
func (s *CandidateStore) UpsertCandidate(
	_ context.Context,
	candidate crawler.SimilarityCandidate,
) (crawler.SimilarityCandidate, error) {
	if candidate.ArticleID == "" {
		return crawler.SimilarityCandidate{}, crawler.Validationf("candidate article id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byArticle[candidate.ArticleID]; ok {
		candidate.ID = id
	} else if candidate.ID == "" {
		return crawler.SimilarityCandidate{}, crawler.Validationf("candidate id is required")
	}
	s.candidates[candidate.ID] = candidate
	s.byArticle[candidate.ArticleID] = candidate.ID
	return candidate, nil
}

// GetCandidate fetches a candidate by ID.
func (s *CandidateStore) GetCandidate(_ context.Context, candidateID string) (crawler.SimilarityCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[candidateID]
	if !ok {
		return crawler.SimilarityCandidate{}, crawler.NotFoundf("similarity candidate %s", candidateID)
	}
	return c, nil
}

// ListCandidates returns open candidates, highest score first.
func (s *CandidateStore) ListCandidates(_ context.Context) ([]crawler.SimilarityCandidate, error) {
	s.mu.RLock()
	out := make([]crawler.SimilarityCandidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SimilarTo.Score == out[j].SimilarTo.Score {
			return out[i].ID < out[j].ID
		}
		return out[i].SimilarTo.Score > out[j].SimilarTo.Score
	})
	return out, nil
}

// DeleteCandidate removes a candidate.
func (s *CandidateStore) DeleteCandidate(_ context.Context, candidateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[candidateID]
	if !ok {
		return crawler.NotFoundf("similarity candidate %s", candidateID)
	}
	delete(s.candidates, candidateID)
	delete(s.byArticle, c.ArticleID)
	return nil
}

// DeleteCandidatesForArticle drops the article's open candidate, if any.
func (s *CandidateStore) DeleteCandidatesForArticle(_ context.Context, articleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byArticle[articleID]; ok {
		delete(s.candidates, id)
		delete(s.byArticle, articleID)
	}
	return nil
}
