// Package articles upserts scraped and fetched records into the article store.
package articles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

// Service normalizes and upserts article batches.
type Service struct {
	articles crawler.ArticleStore
	authors  crawler.AuthorStore
	ids      crawler.IDGenerator
	clock    crawler.Clock
	logger   *zap.Logger
}

// NewService wires a Service.
func NewService(
	articles crawler.ArticleStore,
	authors crawler.AuthorStore,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		articles: articles,
		authors:  authors,
		ids:      ids,
		clock:    clock,
		logger:   logger.Named("articles"),
	}
}

// Ingest upserts batch under source keyed by title and returns the stored
// articles. Untitled entries are skipped; a repeated title within the batch
// keeps its last occurrence.
func (s *Service) Ingest(ctx context.Context, source crawler.Source, batch []crawler.Article) ([]crawler.Article, error) {
	order, byTitle, skipped := collapse(batch)
	now := s.clock.Now()
	stored := make([]crawler.Article, 0, len(order))
	for _, title := range order {
		saved, err := s.upsert(ctx, source, byTitle[title], now)
		if err != nil {
			return stored, err
		}
		stored = append(stored, saved)
	}
	s.logger.Info("articles ingested",
		zap.String("source", string(source)),
		zap.Int("stored", len(stored)),
		zap.Int("skipped", skipped),
	)
	return stored, nil
}

// IngestWithoutDetail handles articles whose detail page could not be read.
// A title already stored under source is returned untouched so its metadata
// survives; unseen titles are inserted with what the listing provided.
func (s *Service) IngestWithoutDetail(
	ctx context.Context,
	source crawler.Source,
	batch []crawler.Article,
) ([]crawler.Article, error) {
	order, byTitle, _ := collapse(batch)
	now := s.clock.Now()
	stored := make([]crawler.Article, 0, len(order))
	kept := 0
	for _, title := range order {
		existing, err := s.articles.ListArticles(ctx, crawler.ArticleFilter{Source: source, Title: title})
		if err != nil {
			return stored, fmt.Errorf("look up article %q: %w", title, err)
		}
		if len(existing) > 0 {
			stored = append(stored, existing[0])
			kept++
			continue
		}
		saved, err := s.upsert(ctx, source, byTitle[title], now)
		if err != nil {
			return stored, err
		}
		stored = append(stored, saved)
	}
	s.logger.Info("articles without detail ingested",
		zap.String("source", string(source)),
		zap.Int("kept", kept),
		zap.Int("inserted", len(stored)-kept),
	)
	return stored, nil
}

func (s *Service) upsert(ctx context.Context, source crawler.Source, a crawler.Article, now time.Time) (crawler.Article, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Article{}, fmt.Errorf("generate article id: %w", err)
	}
	a.ID = id
	a.Source = source
	a.Index = nil
	a.CreatedAt = now
	a.UpdatedAt = now
	saved, err := s.articles.UpsertArticle(ctx, a)
	if err != nil {
		return crawler.Article{}, fmt.Errorf("upsert article %q: %w", a.Title, err)
	}
	return saved, nil
}

// collapse trims titles, drops untitled entries and keeps the last
// occurrence of each title in first-seen order.
func collapse(batch []crawler.Article) ([]string, map[string]crawler.Article, int) {
	order := make([]string, 0, len(batch))
	byTitle := make(map[string]crawler.Article, len(batch))
	skipped := 0
	for _, a := range batch {
		a.Title = strings.TrimSpace(a.Title)
		if a.Title == "" {
			skipped++
			continue
		}
		if _, seen := byTitle[a.Title]; !seen {
			order = append(order, a.Title)
		}
		byTitle[a.Title] = a
	}
	return order, byTitle, skipped
}

// LinkToAuthor adds the stored articles to the author's list.
func (s *Service) LinkToAuthor(ctx context.Context, authorID string, stored []crawler.Article) error {
	ids := make([]string, 0, len(stored))
	for _, a := range stored {
		ids = append(ids, a.ID)
	}
	if err := s.authors.AddArticles(ctx, authorID, ids); err != nil {
		return fmt.Errorf("link articles to author %s: %w", authorID, err)
	}
	return nil
}
