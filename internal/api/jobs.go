package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/dispatcher"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

type jobAccepted struct {
	JobID  string            `json:"job_id"`
	Status crawler.JobStatus `json:"status"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req dispatcher.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.deps.Dispatcher.Submit(r.Context(), req)
	if err != nil {
		if job.ID != "" {
			// The job exists but never reached the queue.
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":  "job could not be queued",
				"job_id": job.ID,
				"status": string(job.Status),
			})
			return
		}
		s.fail(w, r, err, "submit job failed")
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID, Status: job.Status})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseJobFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.deps.Jobs.ListJobs(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func parseJobFilter(r *http.Request) (crawler.JobFilter, error) {
	q := r.URL.Query()
	filter := crawler.JobFilter{Limit: defaultJobLimit}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return filter, crawler.Validationf("invalid limit")
		}
		filter.Limit = min(val, maxJobLimit)
	}
	if raw := strings.ToLower(strings.TrimSpace(q.Get("status"))); raw != "" {
		status := crawler.JobStatus(raw)
		if !status.Valid() {
			return filter, crawler.Validationf("invalid status %q", raw)
		}
		filter.Status = status
	}
	return filter, nil
}

func (s *Server) jobSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Jobs.CountJobsByStatus(r.Context())
	if err != nil {
		s.fail(w, r, err, "failed to count jobs")
		return
	}
	out := map[crawler.JobStatus]int{
		crawler.JobStatusPending:    0,
		crawler.JobStatusProcessing: 0,
		crawler.JobStatusCompleted:  0,
		crawler.JobStatusFailed:     0,
	}
	total := 0
	for status, n := range counts {
		out[status] = n
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": out, "total": total})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, r, err, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Dispatcher.Retry(r.Context(), jobID)
	if err != nil {
		if job.ID != "" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":  "job could not be queued",
				"job_id": job.ID,
				"status": string(job.Status),
			})
			return
		}
		if statusFor(err) == http.StatusBadRequest {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.fail(w, r, err, "retry job failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":       job.ID,
		"status":       string(job.Status),
		"retry_of_job": jobID,
	})
}
