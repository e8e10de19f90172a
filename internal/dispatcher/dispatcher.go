// Package dispatcher validates crawl requests, records them as pending jobs,
// and hands them to the broker.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/metrics"
)

// MinYear is the earliest publication year accepted for bibliographic jobs.
const MinYear = 1900

// Request is an intake submission.
type Request struct {
	Type     crawler.JobType `json:"type"`
	AuthorID string          `json:"author_id,omitempty"`
	URL      string          `json:"url,omitempty"`
	Year     int             `json:"year,omitempty"`
	Query    string          `json:"query,omitempty"`
}

// Config controls Dispatcher behavior.
type Config struct {
	Queue          string
	PublishTimeout time.Duration
}

// Dispatcher turns requests into pending jobs and publishes them.
type Dispatcher struct {
	jobs    crawler.JobStore
	authors crawler.AuthorStore
	broker  crawler.Broker
	ids     crawler.IDGenerator
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	jobs crawler.JobStore,
	authors crawler.AuthorStore,
	broker crawler.Broker,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		jobs:    jobs,
		authors: authors,
		broker:  broker,
		ids:     ids,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("dispatcher"),
	}
}

// Submit validates req, creates a pending job, and publishes it. When the
// publish fails the job is marked failed and the error is returned.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (crawler.Job, error) {
	target, err := d.validate(ctx, req)
	if err != nil {
		return crawler.Job{}, err
	}
	return d.enqueue(ctx, req.Type, target)
}

// Retry creates a new job for a failed job's target. The failed job is left untouched.
func (d *Dispatcher) Retry(ctx context.Context, jobID string) (crawler.Job, error) {
	prev, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("load job: %w", err)
	}
	if prev.Status != crawler.JobStatusFailed {
		return crawler.Job{}, crawler.Validationf("job %s is %s; only failed jobs can be retried", jobID, prev.Status)
	}
	job, err := d.enqueue(ctx, prev.Type, prev.Target)
	if err != nil {
		return job, err
	}
	d.logger.Info("job retried", zap.String("previous_job_id", jobID), zap.String("job_id", job.ID))
	return job, nil
}

func (d *Dispatcher) validate(ctx context.Context, req Request) (crawler.JobTarget, error) {
	target := crawler.JobTarget{
		AuthorID: strings.TrimSpace(req.AuthorID),
		URL:      strings.TrimSpace(req.URL),
		Year:     req.Year,
		Query:    strings.TrimSpace(req.Query),
	}
	switch req.Type {
	case crawler.JobTypeScholar:
		if target.AuthorID == "" {
			return target, crawler.Validationf("author_id is required for scholar jobs")
		}
		if target.URL != "" {
			if err := validateURL(target.URL); err != nil {
				return target, err
			}
			return target, nil
		}
		author, err := d.authors.GetAuthor(ctx, target.AuthorID)
		if errors.Is(err, crawler.ErrNotFound) {
			return target, crawler.Validationf("author %s does not exist", target.AuthorID)
		}
		if err != nil {
			return target, fmt.Errorf("load author: %w", err)
		}
		if author.ScholarURL == "" {
			return target, crawler.Validationf("url is required: author %s has no scholar_url", target.AuthorID)
		}
	case crawler.JobTypeBibliographic:
		maxYear := d.clock.Now().Year() + 1
		if target.Year < MinYear || target.Year > maxYear {
			return target, crawler.Validationf("year must be between %d and %d", MinYear, maxYear)
		}
	default:
		return target, crawler.Validationf("type must be %q or %q", crawler.JobTypeScholar, crawler.JobTypeBibliographic)
	}
	return target, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return crawler.Validationf("url %q must be an absolute http(s) URL", raw)
	}
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, typ crawler.JobType, target crawler.JobTarget) (crawler.Job, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.Job{
		ID:        id,
		Type:      typ,
		Target:    target,
		Status:    crawler.JobStatusPending,
		CreatedAt: d.clock.Now(),
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()
	if err := d.broker.Publish(pubCtx, d.cfg.Queue, crawler.QueueMessage{JobID: job.ID}); err != nil {
		d.logger.Error("publish job failed", zap.String("job_id", job.ID), zap.Error(err))
		failed, ferr := d.jobs.FinishJob(ctx, job.ID, crawler.JobStatusFailed, "publish: "+err.Error(), d.clock.Now())
		if ferr != nil {
			d.logger.Error("mark unpublished job failed", zap.String("job_id", job.ID), zap.Error(ferr))
		} else {
			job = failed
			metrics.ObserveJob(string(typ), string(crawler.JobStatusFailed), 0)
		}
		return job, fmt.Errorf("publish job %s: %w", job.ID, err)
	}

	d.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("author_id", target.AuthorID),
		zap.Int("year", target.Year),
	)
	return job, nil
}
