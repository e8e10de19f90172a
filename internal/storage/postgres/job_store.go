package postgres

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

var jobColumns = []string{
	"id", "type", "author_id", "url", "year", "query",
	"status", "attempts", "created_at", "started_at", "completed_at", "error",
}

const jobReturning = `id, type, author_id, url, year, query, status, attempts, created_at, started_at, completed_at, error`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job crawler.Job) error {
	if job.ID == "" {
		return crawler.Validationf("job id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_jobs (
	id, type, author_id, url, year, query, status, attempts, created_at, started_at, completed_at, error
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID,
		string(job.Type),
		job.Target.AuthorID,
		job.Target.URL,
		job.Target.Year,
		job.Target.Query,
		string(job.Status),
		job.Attempts,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.Error,
	)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return crawler.Validationf("job %s already exists", job.ID)
		}
		return errors.Wrapf(err, "insert job %s", job.ID)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobReturning+` FROM crawl_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, crawler.NotFoundf("job %s", jobID)
	}
	if err != nil {
		return crawler.Job{}, errors.Wrapf(err, "get job %s", jobID)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter crawler.JobFilter) ([]crawler.Job, error) {
	q := s.sb.Select(jobColumns...).
		From("crawl_jobs").
		OrderBy("created_at DESC", "id DESC")
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build list jobs query")
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()
	var out []crawler.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// CountJobsByStatus tallies jobs per status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[crawler.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM crawl_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "count jobs")
	}
	defer rows.Close()
	counts := make(map[crawler.JobStatus]int, 4)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "scan job count")
		}
		counts[crawler.JobStatus(status)] = int(n)
	}
	return counts, rows.Err()
}

// StartAttempt moves a job to processing and bumps its attempt counter in a
// single conditional update, so concurrent consumers cannot both win from pending.
func (s *Store) StartAttempt(ctx context.Context, jobID string, at time.Time) (crawler.Job, error) {
	to := crawler.JobStatusProcessing
	row := s.pool.QueryRow(ctx, `
UPDATE crawl_jobs
SET status = $2, attempts = attempts + 1, started_at = COALESCE(started_at, $3)
WHERE id = $1 AND status = ANY($4)
RETURNING `+jobReturning,
		jobID,
		string(to),
		at,
		statusStrings(crawler.AllowedFrom(to)),
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, s.transitionError(ctx, jobID, to)
	}
	if err != nil {
		return crawler.Job{}, errors.Wrapf(err, "start job %s", jobID)
	}
	return job, nil
}

// FinishJob records a terminal status.
func (s *Store) FinishJob(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	at time.Time,
) (crawler.Job, error) {
	if !status.Terminal() {
		return crawler.Job{}, crawler.Validationf("status %q is not terminal", status)
	}
	row := s.pool.QueryRow(ctx, `
UPDATE crawl_jobs
SET status = $2, error = $3, completed_at = $4
WHERE id = $1 AND status = ANY($5)
RETURNING `+jobReturning,
		jobID,
		string(status),
		errText,
		at,
		statusStrings(crawler.AllowedFrom(status)),
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, s.transitionError(ctx, jobID, status)
	}
	if err != nil {
		return crawler.Job{}, errors.Wrapf(err, "finish job %s", jobID)
	}
	return job, nil
}

// transitionError explains why a conditional update matched no row.
func (s *Store) transitionError(ctx context.Context, jobID string, to crawler.JobStatus) error {
	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return crawler.InvalidTransition(jobID, current.Status, to)
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job    crawler.Job
		typ    string
		status string
	)
	err := row.Scan(
		&job.ID,
		&typ,
		&job.Target.AuthorID,
		&job.Target.URL,
		&job.Target.Year,
		&job.Target.Query,
		&status,
		&job.Attempts,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.Error,
	)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Type = crawler.JobType(typ)
	job.Status = crawler.JobStatus(status)
	return job, nil
}
