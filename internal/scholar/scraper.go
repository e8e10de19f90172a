// Package scholar scrapes author profiles and article detail pages from the
// scholar site.
package scholar

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/metrics"
	"github.com/JakeFAU/scholar-ingest/internal/policy/ratelimit"
)

// ProfileLoader returns a profile page with every publication row loaded.
type ProfileLoader interface {
	LoadProfile(ctx context.Context, profileURL string) ([]byte, int, error)
}

// Scraper turns a profile URL into articles with detail metadata.
type Scraper struct {
	loader  ProfileLoader
	details DetailFetcher
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewScraper wires a Scraper. A nil limiter disables detail throttling.
func NewScraper(loader ProfileLoader, details DetailFetcher, limiter *ratelimit.Limiter, logger *zap.Logger) *Scraper {
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		loader:  loader,
		details: details,
		limiter: limiter,
		logger:  logger.Named("scholar"),
	}
}

// Scrape loads the profile, then reads every article's detail page. Detail
// failures are collected rather than returned; only profile-level problems
// and cancellation fail the scrape.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (crawler.ScholarResult, error) {
	profileURL, err := ProfileURL(rawURL)
	if err != nil {
		return crawler.ScholarResult{}, err
	}
	html, pages, err := s.loader.LoadProfile(ctx, profileURL)
	if err != nil {
		return crawler.ScholarResult{}, err
	}
	result := crawler.ScholarResult{ProfileHTML: html, Pages: pages}

	rows, err := ParseProfile(html, profileURL)
	if errors.Is(err, ErrNoPublicationTable) {
		return result, crawler.MarkTransient(fmt.Errorf("profile %s: %w", profileURL, err))
	}
	if err != nil {
		return result, crawler.MarkPermanent(err)
	}
	s.logger.Info("profile loaded",
		zap.String("url", profileURL),
		zap.Int("pages", pages),
		zap.Int("rows", len(rows)),
	)

	result.Articles = make([]crawler.Article, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, crawler.MarkTransient(fmt.Errorf("scrape interrupted: %w", err))
		}
		article := crawler.Article{
			Source: crawler.SourceScholar,
			Title:  row.Title,
			Link:   row.Link,
		}
		md, err := s.detail(ctx, row)
		if err != nil {
			if ctx.Err() != nil {
				return result, crawler.MarkTransient(fmt.Errorf("scrape interrupted: %w", ctx.Err()))
			}
			s.logger.Warn("detail fetch failed",
				zap.String("title", row.Title),
				zap.String("link", row.Link),
				zap.Error(err),
			)
			metrics.ObserveScholarDetail("error")
			result.Failures = append(result.Failures, crawler.DetailFailure{
				Title: row.Title,
				Link:  row.Link,
				Error: err.Error(),
			})
		} else {
			metrics.ObserveScholarDetail("ok")
			article.Metadata = md
		}
		result.Articles = append(result.Articles, article)
	}
	return result, nil
}

func (s *Scraper) detail(ctx context.Context, row Row) (crawler.Metadata, error) {
	if row.Link == "" {
		return crawler.Metadata{}, errors.New("row has no detail link")
	}
	if err := s.limiter.Wait(ctx, row.Link); err != nil {
		return crawler.Metadata{}, err
	}
	html, err := s.details.FetchDetail(ctx, row.Link)
	if err != nil {
		return crawler.Metadata{}, err
	}
	return ParseDetail(html)
}
