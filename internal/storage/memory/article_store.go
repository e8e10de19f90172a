package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

// ArticleStore keeps articles in a map with a (source, title) index.
type ArticleStore struct {
	mu       sync.RWMutex
	articles map[string]crawler.Article
	byKey    map[articleKey]string
}

type articleKey struct {
	source crawler.Source
	title  string
}

// NewArticleStore constructs an ArticleStore.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{
		articles: make(map[string]crawler.Article),
		byKey:    make(map[articleKey]string),
	}
}

// UpsertArticle inserts or replaces by (source, title).
func (s *ArticleStore) UpsertArticle(_ context.Context, article crawler.Article) (crawler.Article, error) {
	if article.Title == "" {
		return crawler.Article{}, crawler.Validationf("article title is required")
	}
	key := articleKey{source: article.Source, title: article.Title}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		existing := s.articles[id]
		article.ID = existing.ID
		article.CreatedAt = existing.CreatedAt
		article.Index = existing.Index
		s.articles[id] = article
		return article, nil
	}
	if article.ID == "" {
		return crawler.Article{}, crawler.Validationf("article id is required")
	}
	s.articles[article.ID] = article
	s.byKey[key] = article.ID
	return article, nil
}

// GetArticle fetches an article by ID.
func (s *ArticleStore) GetArticle(_ context.Context, articleID string) (crawler.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[articleID]
	if !ok {
		return crawler.Article{}, crawler.NotFoundf("article %s", articleID)
	}
	return article, nil
}

// ListArticles returns articles ordered by title.
func (s *ArticleStore) ListArticles(_ context.Context, filter crawler.ArticleFilter) ([]crawler.Article, error) {
	s.mu.RLock()
	out := make([]crawler.Article, 0, len(s.articles))
	for _, article := range s.articles {
		if filter.Source != "" && article.Source != filter.Source {
			continue
		}
		if filter.Title != "" && article.Title != filter.Title {
			continue
		}
		out = append(out, article)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// SetIndexStatus overwrites the article's index evidence.
func (s *ArticleStore) SetIndexStatus(_ context.Context, articleID string, status crawler.IndexStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[articleID]
	if !ok {
		return crawler.NotFoundf("article %s", articleID)
	}
	st := status
	article.Index = &st
	s.articles[articleID] = article
	return nil
}

// DeleteArticle removes an article.
func (s *ArticleStore) DeleteArticle(_ context.Context, articleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[articleID]
	if !ok {
		return crawler.NotFoundf("article %s", articleID)
	}
	delete(s.articles, articleID)
	delete(s.byKey, articleKey{source: article.Source, title: article.Title})
	return nil
}

// Len reports the number of stored articles.
func (s *ArticleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles)
}
