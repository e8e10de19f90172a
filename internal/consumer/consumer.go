// Package consumer executes crawl jobs delivered by the broker.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-ingest/internal/articles"
	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/dedup"
	"github.com/JakeFAU/scholar-ingest/internal/metrics"
)

// Scraper reads a scholar profile.
type Scraper interface {
	Scrape(ctx context.Context, profileURL string) (crawler.ScholarResult, error)
}

// Fetcher reads one year of bibliographic records.
type Fetcher interface {
	FetchYear(ctx context.Context, q crawler.BibliographicQuery) ([]crawler.BibliographicRecord, error)
}

// Detector reconciles local articles against fetched records.
type Detector interface {
	Run(ctx context.Context, fetched []crawler.BibliographicRecord) (dedup.Report, error)
}

// Config controls Consumer behavior.
type Config struct {
	Queue           string
	DeadLetterQueue string
	Concurrency     int
	MaxAttempts     int
	JobTimeout      time.Duration
	FailFastDetails bool
	ArchivePrefix   string
}

// Deps are the collaborators a Consumer needs. Scraper, Fetcher, Detector,
// and Archive may be nil; jobs needing a missing one fail permanently.
type Deps struct {
	Jobs     crawler.JobStore
	Authors  crawler.AuthorStore
	Config   crawler.ConfigStore
	Articles *articles.Service
	Scraper  Scraper
	Fetcher  Fetcher
	Detector Detector
	Archive  crawler.BlobStore
	Broker   crawler.Broker
	Clock    crawler.Clock
}

// Consumer subscribes to the job queue and runs each job it receives.
type Consumer struct {
	deps   Deps
	cfg    Config
	locks  *keyLock
	logger *zap.Logger
}

// New constructs a Consumer.
func New(deps Deps, cfg Config, logger *zap.Logger) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		deps:   deps,
		cfg:    cfg,
		locks:  newKeyLock(),
		logger: logger.Named("consumer"),
	}
}

// Run starts cfg.Concurrency subscribers and blocks until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		first error
	)
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.deps.Broker.Subscribe(ctx, c.cfg.Queue, c.Handle); err != nil && ctx.Err() == nil {
				errMu.Lock()
				if first == nil {
					first = err
				}
				errMu.Unlock()
			}
		}()
	}
	c.logger.Info("consumer started", zap.String("queue", c.cfg.Queue), zap.Int("concurrency", c.cfg.Concurrency))
	wg.Wait()
	if first != nil {
		return fmt.Errorf("subscribe %s: %w", c.cfg.Queue, first)
	}
	return nil
}

// Handle processes one delivery. It returns nil to acknowledge and an error
// to have the message redelivered. The stored job status decides whether work
// happens, so duplicate deliveries of a finished job are acknowledged untouched.
func (c *Consumer) Handle(ctx context.Context, msg crawler.QueueMessage) error {
	if msg.JobID == "" {
		c.logger.Warn("dropping message without job id")
		metrics.ObserveQueueMessage(c.cfg.Queue, metrics.OutcomeDropped)
		return nil
	}
	logger := c.logger.With(zap.String("job_id", msg.JobID))

	job, err := c.load(ctx, msg.JobID, logger)
	if err != nil || job == nil {
		return err
	}

	unlock := c.locks.Lock(job.LockKey())
	defer unlock()

	// Another delivery may have finished the job while we waited.
	if job, err = c.load(ctx, msg.JobID, logger); err != nil || job == nil {
		return err
	}

	started, err := c.deps.Jobs.StartAttempt(ctx, job.ID, c.deps.Clock.Now())
	if errors.Is(err, crawler.ErrInvalidTransition) {
		logger.Info("job no longer runnable, acknowledging", zap.Error(err))
		return nil
	}
	if err != nil {
		return crawler.MarkTransient(fmt.Errorf("start job %s: %w", job.ID, err))
	}
	logger = logger.With(zap.String("type", string(started.Type)), zap.Int("attempt", started.Attempts))
	logger.Info("job started")

	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()
	begin := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.JobTimeout)
	runErr := c.execute(runCtx, started, logger)
	cancel()

	if runErr == nil {
		if _, err := c.deps.Jobs.FinishJob(ctx, started.ID, crawler.JobStatusCompleted, "", c.deps.Clock.Now()); err != nil {
			return crawler.MarkTransient(fmt.Errorf("complete job %s: %w", started.ID, err))
		}
		metrics.ObserveJob(string(started.Type), string(crawler.JobStatusCompleted), time.Since(begin))
		logger.Info("job completed", zap.Duration("duration", time.Since(begin)))
		return nil
	}

	if ctx.Err() != nil {
		logger.Warn("job interrupted by shutdown", zap.Error(runErr))
		return runErr
	}
	transient := crawler.IsTransient(runErr)
	if transient && started.Attempts < c.cfg.MaxAttempts {
		logger.Warn("job attempt failed, requeueing",
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Error(runErr),
		)
		return runErr
	}

	if _, err := c.deps.Jobs.FinishJob(ctx, started.ID, crawler.JobStatusFailed, runErr.Error(), c.deps.Clock.Now()); err != nil {
		return crawler.MarkTransient(fmt.Errorf("fail job %s: %w", started.ID, err))
	}
	metrics.ObserveJob(string(started.Type), string(crawler.JobStatusFailed), time.Since(begin))
	logger.Error("job failed", zap.Bool("retries_exhausted", transient), zap.Error(runErr))
	if transient {
		c.deadLetter(ctx, started, runErr, logger)
	}
	return nil
}

// load returns nil without error when the message should be acknowledged as is.
func (c *Consumer) load(ctx context.Context, jobID string, logger *zap.Logger) (*crawler.Job, error) {
	job, err := c.deps.Jobs.GetJob(ctx, jobID)
	if errors.Is(err, crawler.ErrNotFound) {
		logger.Warn("job not found, dropping message")
		metrics.ObserveQueueMessage(c.cfg.Queue, metrics.OutcomeDropped)
		return nil, nil
	}
	if err != nil {
		return nil, crawler.MarkTransient(fmt.Errorf("load job %s: %w", jobID, err))
	}
	if job.Status.Terminal() {
		logger.Info("duplicate delivery of finished job", zap.String("status", string(job.Status)))
		return nil, nil
	}
	return &job, nil
}

func (c *Consumer) deadLetter(ctx context.Context, job crawler.Job, cause error, logger *zap.Logger) {
	if c.cfg.DeadLetterQueue == "" {
		return
	}
	msg := crawler.QueueMessage{
		JobID: job.ID,
		Params: map[string]string{
			"type":     string(job.Type),
			"attempts": strconv.Itoa(job.Attempts),
			"error":    cause.Error(),
		},
	}
	if err := c.deps.Broker.Publish(ctx, c.cfg.DeadLetterQueue, msg); err != nil {
		logger.Error("dead-letter publish failed", zap.String("queue", c.cfg.DeadLetterQueue), zap.Error(err))
		return
	}
	metrics.ObserveQueueMessage(c.cfg.Queue, metrics.OutcomeDeadLetter)
}

func (c *Consumer) execute(ctx context.Context, job crawler.Job, logger *zap.Logger) error {
	switch job.Type {
	case crawler.JobTypeScholar:
		return c.runScholar(ctx, job, logger)
	case crawler.JobTypeBibliographic:
		return c.runBibliographic(ctx, job, logger)
	default:
		return crawler.MarkPermanent(crawler.Validationf("unknown job type %q", job.Type))
	}
}
