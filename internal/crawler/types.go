package crawler

import (
	"strconv"
	"time"
)

// JobType selects which source a crawl job reads from.
type JobType string

// Supported job types.
const (
	JobTypeScholar       JobType = "scholar"
	JobTypeBibliographic JobType = "bibliographic"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	return t == JobTypeScholar || t == JobTypeBibliographic
}

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// AllowedFrom lists the statuses a job may hold immediately before moving to s.
// processing -> processing covers a redelivered attempt. pending -> failed is
// only used when the intake publish fails.
func AllowedFrom(to JobStatus) []JobStatus {
	switch to {
	case JobStatusProcessing:
		return []JobStatus{JobStatusPending, JobStatusProcessing}
	case JobStatusCompleted:
		return []JobStatus{JobStatusProcessing}
	case JobStatusFailed:
		return []JobStatus{JobStatusPending, JobStatusProcessing}
	default:
		return nil
	}
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to JobStatus) bool {
	for _, s := range AllowedFrom(to) {
		if s == from {
			return true
		}
	}
	return false
}

// JobTarget identifies what a job crawls.
type JobTarget struct {
	AuthorID string `json:"author_id,omitempty"`
	URL      string `json:"url,omitempty"`
	Year     int    `json:"year,omitempty"`
	Query    string `json:"query,omitempty"`
}

// Job is the persisted record of one crawl intent.
type Job struct {
	ID          string     `json:"id"`
	Type        JobType    `json:"type"`
	Target      JobTarget  `json:"target"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// LockKey returns the key used to serialize jobs touching the same article set.
func (j Job) LockKey() string {
	if j.Type == JobTypeBibliographic {
		return "year:" + strconv.Itoa(j.Target.Year)
	}
	return "author:" + j.Target.AuthorID
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Status JobStatus
	Limit  int
}

// QueueMessage is the wire payload moved through the broker. It points at a
// Job; consumers always re-read the job before acting on it.
type QueueMessage struct {
	JobID  string            `json:"jobId"`
	Params map[string]string `json:"params,omitempty"`
}

// Author is a tracked researcher. Authors are managed elsewhere; the pipeline
// only reads them and maintains their article list.
type Author struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ScholarURL  string    `json:"scholar_url,omitempty"`
	ScopusID    string    `json:"scopus_id,omitempty"`
	RecrawlDays int       `json:"recrawl_days,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ArticleIDs  []string  `json:"article_ids"`
}

// Source names where an article record came from.
type Source string

// Article sources.
const (
	SourceScholar       Source = "scholar"
	SourceBibliographic Source = "bibliographic"
)

// IndexStatus records whether a scholar article was found in the
// bibliographic index and with what evidence.
type IndexStatus struct {
	Indexed    bool       `json:"indexed"`
	ExternalID string     `json:"external_id,omitempty"`
	Similarity float64    `json:"similarity,omitempty"`
	MatchedAt  *time.Time `json:"matched_at,omitempty"`
}

// Article is the canonical bibliographic record. (Source, Title) is the upsert key.
type Article struct {
	ID         string       `json:"id"`
	Source     Source       `json:"source"`
	ExternalID string       `json:"external_id,omitempty"`
	Title      string       `json:"title"`
	Link       string       `json:"link,omitempty"`
	Metadata   Metadata     `json:"metadata"`
	Index      *IndexStatus `json:"index_status,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// ArticleFilter narrows ListArticles results.
type ArticleFilter struct {
	Source Source
	// Title matches exactly when set.
	Title string
}

// SimilarMatch is the external record a local article resembles.
type SimilarMatch struct {
	ExternalID string  `json:"external_id"`
	Title      string  `json:"title"`
	Score      float64 `json:"similarity_score"`
}

// SimilarityCandidate is an open suspected duplicate awaiting review.
type SimilarityCandidate struct {
	ID        string       `json:"id"`
	ArticleID string       `json:"article_id"`
	SimilarTo SimilarMatch `json:"similar_to"`
	CreatedAt time.Time    `json:"created_at"`
}

// Decision is an operator verdict on a candidate.
type Decision string

// Review decisions.
const (
	DecisionDuplicate    Decision = "duplicate"
	DecisionNotDuplicate Decision = "not_duplicate"
)

// SystemConfigKey is the document key of the single SystemConfig record.
const SystemConfigKey = "system"

// SystemConfig holds tunables read on every detection run.
type SystemConfig struct {
	MatchingThreshold    float64   `json:"string_matching_threshold"`
	NotMatchingThreshold float64   `json:"string_not_matching_threshold"`
	DefaultQuery         string    `json:"default_query,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DefaultSystemConfig returns the values seeded when no document exists.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		MatchingThreshold:    0.95,
		NotMatchingThreshold: 0.5,
	}
}

// Validate checks threshold ranges and ordering.
func (c SystemConfig) Validate() error {
	if c.MatchingThreshold <= 0 || c.MatchingThreshold > 1 {
		return Validationf("string_matching_threshold must be in (0, 1]")
	}
	if c.NotMatchingThreshold < 0 || c.NotMatchingThreshold > c.MatchingThreshold {
		return Validationf("string_not_matching_threshold must be in [0, string_matching_threshold]")
	}
	return nil
}

// BibliographicQuery describes one year's fetch from the search API.
type BibliographicQuery struct {
	Year    int
	Extra   string
	Default string
}

// BibliographicRecord is one entry returned by the search API.
type BibliographicRecord struct {
	ExternalID      string     `json:"external_id"`
	Title           string     `json:"title"`
	Link            string     `json:"link,omitempty"`
	Creator         string     `json:"creator,omitempty"`
	PublicationName string     `json:"publication_name,omitempty"`
	Volume          string     `json:"volume,omitempty"`
	Issue           string     `json:"issue,omitempty"`
	Pages           string     `json:"pages,omitempty"`
	DOI             string     `json:"doi,omitempty"`
	CoverDate       *time.Time `json:"cover_date,omitempty"`
	CitationCount   *int       `json:"citation_count,omitempty"`
}

// Article converts the record into a bibliographic-sourced article.
func (r BibliographicRecord) Article() Article {
	return Article{
		Source:     SourceBibliographic,
		ExternalID: r.ExternalID,
		Title:      r.Title,
		Link:       r.Link,
		Metadata: Metadata{
			PublicationDate: r.CoverDate,
			Authors:         r.Creator,
			Journal:         r.PublicationName,
			Volume:          r.Volume,
			Issue:           r.Issue,
			Pages:           r.Pages,
			DOI:             r.DOI,
			CitationCount:   r.CitationCount,
		},
	}
}

// DetailFailure records an article whose detail page could not be read.
type DetailFailure struct {
	Title string `json:"title"`
	Link  string `json:"link"`
	Error string `json:"error"`
}

// ScholarResult is the output of one profile scrape.
type ScholarResult struct {
	Articles    []Article
	Failures    []DetailFailure
	ProfileHTML []byte
	Pages       int
}
