// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

// JobStore provides an in-memory implementation of crawler.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]crawler.Job),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	if job.ID == "" {
		return crawler.Validationf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return crawler.Validationf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.NotFoundf("job %s", jobID)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *JobStore) ListJobs(_ context.Context, filter crawler.JobFilter) ([]crawler.Job, error) {
	s.mu.RLock()
	out := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CountJobsByStatus tallies jobs per status.
func (s *JobStore) CountJobsByStatus(_ context.Context) (map[crawler.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[crawler.JobStatus]int, 4)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// StartAttempt moves a job to processing and bumps its attempt counter.
func (s *JobStore) StartAttempt(_ context.Context, jobID string, at time.Time) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.NotFoundf("job %s", jobID)
	}
	if !crawler.CanTransition(job.Status, crawler.JobStatusProcessing) {
		return crawler.Job{}, crawler.InvalidTransition(jobID, job.Status, crawler.JobStatusProcessing)
	}
	job.Status = crawler.JobStatusProcessing
	job.Attempts++
	if job.StartedAt == nil {
		job.StartedAt = pointerTime(at)
	}
	s.jobs[jobID] = job
	return job, nil
}

// FinishJob records a terminal status.
func (s *JobStore) FinishJob(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	at time.Time,
) (crawler.Job, error) {
	if !status.Terminal() {
		return crawler.Job{}, crawler.Validationf("status %q is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.NotFoundf("job %s", jobID)
	}
	if !crawler.CanTransition(job.Status, status) {
		return crawler.Job{}, crawler.InvalidTransition(jobID, job.Status, status)
	}
	job.Status = status
	job.Error = errText
	job.CompletedAt = pointerTime(at)
	s.jobs[jobID] = job
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
