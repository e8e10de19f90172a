package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

func (c *Consumer) runScholar(ctx context.Context, job crawler.Job, logger *zap.Logger) error {
	if c.deps.Scraper == nil {
		return crawler.MarkPermanent(errors.New("scholar scraping is not configured"))
	}
	author, err := c.deps.Authors.GetAuthor(ctx, job.Target.AuthorID)
	if errors.Is(err, crawler.ErrNotFound) {
		return crawler.MarkPermanent(fmt.Errorf("load author: %w", err))
	}
	if err != nil {
		return crawler.MarkTransient(fmt.Errorf("load author: %w", err))
	}
	profileURL := job.Target.URL
	if profileURL == "" {
		profileURL = author.ScholarURL
	}
	if profileURL == "" {
		return crawler.MarkPermanent(crawler.Validationf("author %s has no scholar url", author.ID))
	}

	result, err := c.deps.Scraper.Scrape(ctx, profileURL)
	if err != nil {
		return fmt.Errorf("scrape %s: %w", profileURL, err)
	}
	c.archive(ctx, job, "profile.html", "text/html; charset=utf-8", result.ProfileHTML, logger)
	if len(result.Failures) > 0 {
		logger.Warn("some detail pages failed",
			zap.Int("failures", len(result.Failures)),
			zap.Int("articles", len(result.Articles)),
		)
		if c.cfg.FailFastDetails {
			first := result.Failures[0]
			return crawler.MarkTransient(fmt.Errorf("%d detail pages failed, first %q: %s",
				len(result.Failures), first.Title, first.Error))
		}
	}

	complete, partial := splitByFailures(result)
	stored, err := c.deps.Articles.Ingest(ctx, crawler.SourceScholar, complete)
	if err != nil {
		return crawler.MarkTransient(err)
	}
	if len(partial) > 0 {
		kept, err := c.deps.Articles.IngestWithoutDetail(ctx, crawler.SourceScholar, partial)
		if err != nil {
			return crawler.MarkTransient(err)
		}
		stored = append(stored, kept...)
	}
	if err := c.deps.Articles.LinkToAuthor(ctx, author.ID, stored); err != nil {
		return crawler.MarkTransient(err)
	}
	logger.Info("scholar profile ingested",
		zap.String("author_id", author.ID),
		zap.Int("pages", result.Pages),
		zap.Int("articles", len(stored)),
	)
	return nil
}

func (c *Consumer) runBibliographic(ctx context.Context, job crawler.Job, logger *zap.Logger) error {
	if c.deps.Fetcher == nil {
		return crawler.MarkPermanent(errors.New("bibliographic client is not configured"))
	}
	sys, err := c.deps.Config.GetSystemConfig(ctx)
	if err != nil {
		return crawler.MarkTransient(fmt.Errorf("load system config: %w", err))
	}
	records, err := c.deps.Fetcher.FetchYear(ctx, crawler.BibliographicQuery{
		Year:    job.Target.Year,
		Extra:   job.Target.Query,
		Default: sys.DefaultQuery,
	})
	if err != nil {
		return fmt.Errorf("fetch year %d: %w", job.Target.Year, err)
	}
	if raw, err := json.Marshal(records); err == nil {
		c.archive(ctx, job, "entries.json", "application/json", raw, logger)
	}

	batch := make([]crawler.Article, 0, len(records))
	for _, rec := range records {
		batch = append(batch, rec.Article())
	}
	stored, err := c.deps.Articles.Ingest(ctx, crawler.SourceBibliographic, batch)
	if err != nil {
		return crawler.MarkTransient(err)
	}

	fields := []zap.Field{
		zap.Int("year", job.Target.Year),
		zap.Int("fetched", len(records)),
		zap.Int("stored", len(stored)),
	}
	if c.deps.Detector != nil {
		report, err := c.deps.Detector.Run(ctx, records)
		if err != nil {
			return crawler.MarkTransient(fmt.Errorf("duplicate detection: %w", err))
		}
		fields = append(fields,
			zap.Int("indexed", report.Indexed),
			zap.Int("candidates", report.Candidates),
		)
	}
	logger.Info("bibliographic year ingested", fields...)
	return nil
}

// splitByFailures separates articles whose detail page failed, so their
// stored metadata is not replaced by an empty record.
func splitByFailures(result crawler.ScholarResult) (complete, partial []crawler.Article) {
	if len(result.Failures) == 0 {
		return result.Articles, nil
	}
	failed := make(map[string]struct{}, len(result.Failures))
	for _, f := range result.Failures {
		failed[strings.TrimSpace(f.Title)] = struct{}{}
	}
	for _, a := range result.Articles {
		if _, ok := failed[strings.TrimSpace(a.Title)]; ok {
			partial = append(partial, a)
			continue
		}
		complete = append(complete, a)
	}
	return complete, partial
}

// archive stores a raw payload best-effort under <prefix>/<job id>/<name>.
func (c *Consumer) archive(ctx context.Context, job crawler.Job, name, contentType string, data []byte, logger *zap.Logger) {
	if c.deps.Archive == nil || len(data) == 0 {
		return
	}
	key := path.Join(strings.Trim(c.cfg.ArchivePrefix, "/"), job.ID, name)
	uri, err := c.deps.Archive.PutObject(ctx, key, contentType, data)
	if err != nil {
		logger.Warn("archive payload failed", zap.String("path", key), zap.Error(err))
		return
	}
	logger.Debug("payload archived", zap.String("uri", uri))
}
