package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

// AuthorStore is an in-memory author collaborator.
type AuthorStore struct {
	mu      sync.RWMutex
	authors map[string]crawler.Author
}

// NewAuthorStore constructs an AuthorStore seeded with the given authors.
func NewAuthorStore(seed ...crawler.Author) *AuthorStore {
	s := &AuthorStore{authors: make(map[string]crawler.Author, len(seed))}
	for _, a := range seed {
		s.authors[a.ID] = cloneAuthor(a)
	}
	return s
}

// PutAuthor creates or replaces an author.
func (s *AuthorStore) PutAuthor(author crawler.Author) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authors[author.ID] = cloneAuthor(author)
}

// ListAuthors returns all authors ordered by creation time.
func (s *AuthorStore) ListAuthors(_ context.Context) ([]crawler.Author, error) {
	s.mu.RLock()
	out := make([]crawler.Author, 0, len(s.authors))
	for _, a := range s.authors {
		out = append(out, cloneAuthor(a))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetAuthor fetches an author by ID.
func (s *AuthorStore) GetAuthor(_ context.Context, authorID string) (crawler.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.authors[authorID]
	if !ok {
		return crawler.Author{}, crawler.NotFoundf("author %s", authorID)
	}
	return cloneAuthor(a), nil
}

// AddArticles links article ids to the author without duplicating existing links.
func (s *AuthorStore) AddArticles(_ context.Context, authorID string, articleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.authors[authorID]
	if !ok {
		return crawler.NotFoundf("author %s", authorID)
	}
	for _, id := range articleIDs {
		if id == "" || slices.Contains(a.ArticleIDs, id) {
			continue
		}
		a.ArticleIDs = append(a.ArticleIDs, id)
	}
	s.authors[authorID] = a
	return nil
}

// RemoveArticle unlinks the article from every author.
func (s *AuthorStore) RemoveArticle(_ context.Context, articleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for id, a := range s.authors {
		idx := slices.Index(a.ArticleIDs, articleID)
		if idx < 0 {
			continue
		}
		a.ArticleIDs = slices.DeleteFunc(a.ArticleIDs, func(v string) bool { return v == articleID })
		s.authors[id] = a
		changed++
	}
	return changed, nil
}

func cloneAuthor(a crawler.Author) crawler.Author {
	a.ArticleIDs = slices.Clone(a.ArticleIDs)
	return a
}
