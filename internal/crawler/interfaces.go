package crawler

import (
	"context"
	"time"
)

// JobStore persists crawl jobs. Status changes are checked against
// CanTransition and fail with ErrInvalidTransition otherwise.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	CountJobsByStatus(ctx context.Context) (map[JobStatus]int, error)
	// StartAttempt moves the job to processing and increments Attempts.
	StartAttempt(ctx context.Context, jobID string, at time.Time) (Job, error)
	// FinishJob moves the job to completed or failed.
	FinishJob(ctx context.Context, jobID string, status JobStatus, errText string, at time.Time) (Job, error)
}

// ArticleStore persists articles keyed by (source, title).
type ArticleStore interface {
	// UpsertArticle inserts the article or replaces the content of the one
	// sharing its source and title, keeping the stored ID, CreatedAt, and Index.
	UpsertArticle(ctx context.Context, article Article) (Article, error)
	GetArticle(ctx context.Context, articleID string) (Article, error)
	ListArticles(ctx context.Context, filter ArticleFilter) ([]Article, error)
	SetIndexStatus(ctx context.Context, articleID string, status IndexStatus) error
	DeleteArticle(ctx context.Context, articleID string) error
}

// AuthorStore is the slice of author management the pipeline depends on.
type AuthorStore interface {
	ListAuthors(ctx context.Context) ([]Author, error)
	GetAuthor(ctx context.Context, authorID string) (Author, error)
	// AddArticles appends ids not already linked to the author.
	AddArticles(ctx context.Context, authorID string, articleIDs []string) error
	// RemoveArticle unlinks the article from every author and reports how many changed.
	RemoveArticle(ctx context.Context, articleID string) (int, error)
}

// CandidateStore persists open similarity candidates, at most one per article.
type CandidateStore interface {
	// UpsertCandidate replaces the open candidate of the same article, keeping its ID.
	UpsertCandidate(ctx context.Context, candidate SimilarityCandidate) (SimilarityCandidate, error)
	GetCandidate(ctx context.Context, candidateID string) (SimilarityCandidate, error)
	ListCandidates(ctx context.Context) ([]SimilarityCandidate, error)
	DeleteCandidate(ctx context.Context, candidateID string) error
	DeleteCandidatesForArticle(ctx context.Context, articleID string) error
}

// ConfigStore holds the SystemConfig document.
type ConfigStore interface {
	GetSystemConfig(ctx context.Context) (SystemConfig, error)
	// EnsureSystemConfig seeds defaults when no document exists and returns the stored one.
	EnsureSystemConfig(ctx context.Context, defaults SystemConfig) (SystemConfig, error)
	SaveSystemConfig(ctx context.Context, cfg SystemConfig) error
}

// MessageHandler processes one delivery. A nil return acknowledges the
// message; an error requeues it.
type MessageHandler func(ctx context.Context, msg QueueMessage) error

// Broker moves QueueMessages between intake and the consumer with
// at-least-once delivery.
type Broker interface {
	Publish(ctx context.Context, queue string, msg QueueMessage) error
	// Subscribe blocks, delivering messages to handler until ctx ends.
	Subscribe(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
