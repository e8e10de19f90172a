// Package scheduler enqueues recrawls for authors whose cadence falls due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/dispatcher"
	"github.com/JakeFAU/scholar-ingest/internal/metrics"
)

// ErrRunInProgress is returned when a run is triggered while another is active.
var ErrRunInProgress = errors.New("scheduler run already in progress")

const day = 24 * time.Hour

// Submitter creates and publishes jobs.
type Submitter interface {
	Submit(ctx context.Context, req dispatcher.Request) (crawler.Job, error)
}

// Config controls the trigger loop.
type Config struct {
	Interval   time.Duration
	RunOnStart bool
}

// Summary describes one scheduler run.
type Summary struct {
	Authors  int `json:"authors"`
	Due      int `json:"due"`
	Enqueued int `json:"enqueued"`
	Failed   int `json:"failed"`
}

// Scheduler walks the author list and submits scholar jobs for due authors.
type Scheduler struct {
	authors crawler.AuthorStore
	submit  Submitter
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger

	running sync.Mutex
}

// New constructs a Scheduler.
func New(authors crawler.AuthorStore, submit Submitter, clock crawler.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = day
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		authors: authors,
		submit:  submit,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("scheduler"),
	}
}

// Due reports whether author should be recrawled at now: a positive cadence
// that evenly divides the whole days elapsed since the author was created.
// Day zero counts as due.
func Due(author crawler.Author, now time.Time) bool {
	if author.RecrawlDays <= 0 {
		return false
	}
	elapsed := now.Sub(author.CreatedAt)
	if elapsed < 0 {
		return false
	}
	days := int(elapsed / day)
	return days%author.RecrawlDays == 0
}

// RunOnce submits a job for every due author. Failures for one author are
// logged and counted without stopping the run. A call made while another run
// is active returns ErrRunInProgress.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	if !s.running.TryLock() {
		metrics.ObserveSchedulerSkipped()
		s.logger.Warn("previous run still active, skipping")
		return Summary{}, ErrRunInProgress
	}
	defer s.running.Unlock()

	var sum Summary
	authors, err := s.authors.ListAuthors(ctx)
	if err != nil {
		return sum, fmt.Errorf("list authors: %w", err)
	}
	now := s.clock.Now()
	sum.Authors = len(authors)
	for _, author := range authors {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("scheduler run interrupted: %w", err)
		}
		if !Due(author, now) {
			continue
		}
		sum.Due++
		job, err := s.submit.Submit(ctx, dispatcher.Request{Type: crawler.JobTypeScholar, AuthorID: author.ID})
		if err != nil {
			sum.Failed++
			s.logger.Error("enqueue recrawl failed", zap.String("author_id", author.ID), zap.Error(err))
			continue
		}
		sum.Enqueued++
		s.logger.Debug("recrawl enqueued", zap.String("author_id", author.ID), zap.String("job_id", job.ID))
	}
	metrics.ObserveSchedulerRun(sum.Enqueued, sum.Failed)
	s.logger.Info("scheduler run finished",
		zap.Int("authors", sum.Authors),
		zap.Int("due", sum.Due),
		zap.Int("enqueued", sum.Enqueued),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

// Run triggers RunOnce every interval until ctx ends, then waits for the
// active run to return. Ticks that land on an active run are skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	var wg sync.WaitGroup
	s.logger.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
	if s.cfg.RunOnStart {
		s.trigger(ctx, &wg)
	}
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.trigger(ctx, &wg)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.logger.Error("scheduler run failed", zap.Error(err))
		}
	}()
}
