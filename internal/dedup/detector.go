// Package dedup reconciles local articles against freshly fetched
// bibliographic records.
package dedup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/metrics"
)

// Report summarizes one detection run.
type Report struct {
	Checked    int `json:"checked"`
	Indexed    int `json:"indexed"`
	NotIndexed int `json:"not_indexed"`
	Candidates int `json:"candidates"`
	Updated    int `json:"updated"`
}

// Detector marks scholar articles as indexed when a fetched record's title
// matches closely enough, and opens review candidates for near misses.
type Detector struct {
	articles   crawler.ArticleStore
	candidates crawler.CandidateStore
	config     crawler.ConfigStore
	scorer     Scorer
	ids        crawler.IDGenerator
	clock      crawler.Clock
	logger     *zap.Logger
}

// NewDetector wires a Detector. A nil scorer uses NewDiceScorer.
func NewDetector(
	articles crawler.ArticleStore,
	candidates crawler.CandidateStore,
	config crawler.ConfigStore,
	scorer Scorer,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) *Detector {
	if scorer == nil {
		scorer = NewDiceScorer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		articles:   articles,
		candidates: candidates,
		config:     config,
		scorer:     scorer,
		ids:        ids,
		clock:      clock,
		logger:     logger.Named("dedup"),
	}
}

// Run compares every scholar article against fetched. The cost is
// len(local) × len(fetched) comparisons.
func (d *Detector) Run(ctx context.Context, fetched []crawler.BibliographicRecord) (Report, error) {
	var report Report
	if len(fetched) == 0 {
		d.logger.Info("no fetched records, skipping detection")
		return report, nil
	}
	cfg, err := d.config.GetSystemConfig(ctx)
	if err != nil {
		return report, fmt.Errorf("load system config: %w", err)
	}
	local, err := d.articles.ListArticles(ctx, crawler.ArticleFilter{Source: crawler.SourceScholar})
	if err != nil {
		return report, fmt.Errorf("list scholar articles: %w", err)
	}

	now := d.clock.Now()
	for _, article := range local {
		if err := ctx.Err(); err != nil {
			return report, crawler.MarkTransient(fmt.Errorf("detection interrupted: %w", err))
		}
		report.Checked++
		best, ok := d.bestMatch(article.Title, fetched)
		if ok && best.Score >= cfg.MatchingThreshold {
			report.Indexed++
			metrics.ObserveDedupOutcome("indexed")
			if err := d.markIndexed(ctx, article, best, now, &report); err != nil {
				return report, err
			}
			continue
		}
		report.NotIndexed++
		if err := d.markNotIndexed(ctx, article, &report); err != nil {
			return report, err
		}
		if ok && best.Score >= cfg.NotMatchingThreshold {
			if err := d.openCandidate(ctx, article, best, now); err != nil {
				return report, err
			}
			report.Candidates++
			metrics.ObserveDedupOutcome("candidate")
		} else {
			if err := d.candidates.DeleteCandidatesForArticle(ctx, article.ID); err != nil {
				return report, fmt.Errorf("clear candidates for %s: %w", article.ID, err)
			}
			metrics.ObserveDedupOutcome("not_indexed")
		}
	}
	d.logger.Info("detection finished",
		zap.Int("fetched", len(fetched)),
		zap.Int("checked", report.Checked),
		zap.Int("indexed", report.Indexed),
		zap.Int("candidates", report.Candidates),
		zap.Int("updated", report.Updated),
	)
	return report, nil
}

func (d *Detector) bestMatch(title string, fetched []crawler.BibliographicRecord) (crawler.SimilarMatch, bool) {
	var (
		best  crawler.SimilarMatch
		found bool
	)
	for _, rec := range fetched {
		score := d.scorer.Score(title, rec.Title)
		if !found || score > best.Score {
			best = crawler.SimilarMatch{ExternalID: rec.ExternalID, Title: rec.Title, Score: score}
			found = true
		}
	}
	return best, found
}

func (d *Detector) markIndexed(
	ctx context.Context,
	article crawler.Article,
	best crawler.SimilarMatch,
	now time.Time,
	report *Report,
) error {
	if article.Index != nil && article.Index.Indexed {
		return nil
	}
	matchedAt := now
	err := d.articles.SetIndexStatus(ctx, article.ID, crawler.IndexStatus{
		Indexed:    true,
		ExternalID: best.ExternalID,
		Similarity: best.Score,
		MatchedAt:  &matchedAt,
	})
	if err != nil {
		return fmt.Errorf("mark %s indexed: %w", article.ID, err)
	}
	report.Updated++
	if err := d.candidates.DeleteCandidatesForArticle(ctx, article.ID); err != nil {
		return fmt.Errorf("clear candidates for %s: %w", article.ID, err)
	}
	return nil
}

func (d *Detector) markNotIndexed(ctx context.Context, article crawler.Article, report *Report) error {
	if article.Index != nil && !article.Index.Indexed {
		return nil
	}
	if err := d.articles.SetIndexStatus(ctx, article.ID, crawler.IndexStatus{Indexed: false}); err != nil {
		return fmt.Errorf("mark %s not indexed: %w", article.ID, err)
	}
	report.Updated++
	return nil
}

func (d *Detector) openCandidate(ctx context.Context, article crawler.Article, best crawler.SimilarMatch, now time.Time) error {
	id, err := d.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate candidate id: %w", err)
	}
	_, err = d.candidates.UpsertCandidate(ctx, crawler.SimilarityCandidate{
		ID:        id,
		ArticleID: article.ID,
		SimilarTo: best,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("open candidate for %s: %w", article.ID, err)
	}
	return nil
}
