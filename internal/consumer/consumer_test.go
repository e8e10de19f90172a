package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-ingest/internal/articles"
	"github.com/JakeFAU/scholar-ingest/internal/clock/system"
	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/dedup"
	queuemem "github.com/JakeFAU/scholar-ingest/internal/queue/memory"
	"github.com/JakeFAU/scholar-ingest/internal/storage/memory"
)

const (
	testQueue = "crawl-jobs"
	testDLQ   = "crawl-jobs-dead-letter"
	profile   = "https://scholar.google.com/citations?user=abc"
)

var now = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

// fakeScraper returns queued errors first, then result.
type fakeScraper struct {
	mu       sync.Mutex
	errs     []error
	result   crawler.ScholarResult
	calls    int
	urls     []string
	inflight atomic.Int32
	maxSeen  atomic.Int32
	hold     time.Duration
	blockCtx bool
}

func (f *fakeScraper) Scrape(ctx context.Context, url string) (crawler.ScholarResult, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.blockCtx {
		<-ctx.Done()
		return crawler.ScholarResult{}, ctx.Err()
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.urls = append(f.urls, url)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return crawler.ScholarResult{}, err
	}
	return f.result, nil
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeFetcher struct {
	records []crawler.BibliographicRecord
	query   crawler.BibliographicQuery
}

func (f *fakeFetcher) FetchYear(_ context.Context, q crawler.BibliographicQuery) ([]crawler.BibliographicRecord, error) {
	f.query = q
	return f.records, nil
}

type fixture struct {
	consumer *Consumer
	jobs     *memory.JobStore
	authors  *memory.AuthorStore
	articles *memory.ArticleStore
	config   *memory.ConfigStore
	blobs    *memory.BlobStore
	broker   *queuemem.Broker
	scraper  *fakeScraper
	fetcher  *fakeFetcher
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := system.NewFrozen(now)
	ids := &seqIDs{}
	f := &fixture{
		jobs: memory.NewJobStore(),
		authors: memory.NewAuthorStore(
			crawler.Author{ID: "au-1", ScholarURL: profile, CreatedAt: now},
			crawler.Author{ID: "au-2", CreatedAt: now},
		),
		articles: memory.NewArticleStore(),
		config:   memory.NewConfigStore(),
		blobs:    memory.NewBlobStore(),
		broker:   queuemem.NewBroker(16, nil),
		scraper: &fakeScraper{result: crawler.ScholarResult{
			Articles: []crawler.Article{
				{Title: "Graph neural networks", Link: "https://scholar.google.com/a"},
				{Title: "Protein folding", Link: "https://scholar.google.com/b"},
			},
			ProfileHTML: []byte("<html></html>"),
			Pages:       1,
		}},
		fetcher: &fakeFetcher{},
	}
	t.Cleanup(func() { _ = f.broker.Close() })
	_, err := f.config.EnsureSystemConfig(context.Background(), crawler.DefaultSystemConfig())
	require.NoError(t, err)

	cfg.Queue = testQueue
	cfg.DeadLetterQueue = testDLQ
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "raw"
	}
	svc := articles.NewService(f.articles, f.authors, ids, clock, nil)
	f.consumer = New(Deps{
		Jobs:     f.jobs,
		Authors:  f.authors,
		Config:   f.config,
		Articles: svc,
		Scraper:  f.scraper,
		Fetcher:  f.fetcher,
		Detector: dedup.NewDetector(f.articles, memory.NewCandidateStore(), f.config, nil, ids, clock, nil),
		Archive:  f.blobs,
		Broker:   f.broker,
		Clock:    clock,
	}, cfg, nil)
	return f
}

func (f *fixture) addJob(t *testing.T, id string, typ crawler.JobType, target crawler.JobTarget) {
	t.Helper()
	require.NoError(t, f.jobs.CreateJob(context.Background(), crawler.Job{
		ID:        id,
		Type:      typ,
		Target:    target,
		Status:    crawler.JobStatusPending,
		CreatedAt: now,
	}))
}

func (f *fixture) job(t *testing.T, id string) crawler.Job {
	t.Helper()
	job, err := f.jobs.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestHandleScholarJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	f.addJob(t, "job-1", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})

	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))

	job := f.job(t, "job-1")
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	require.Empty(t, job.Error)

	require.Equal(t, []string{profile}, f.scraper.urls)
	require.Equal(t, 2, f.articles.Len())
	author, err := f.authors.GetAuthor(ctx, "au-1")
	require.NoError(t, err)
	require.Len(t, author.ArticleIDs, 2)

	body, contentType, ok := f.blobs.Object("raw/job-1/profile.html")
	require.True(t, ok)
	require.Equal(t, "<html></html>", string(body))
	require.Contains(t, contentType, "text/html")
}

func TestHandleRescrapeDoesNotDuplicate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	f.addJob(t, "job-1", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})
	f.addJob(t, "job-2", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})

	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))
	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-2"}))

	require.Equal(t, 2, f.articles.Len())
	author, err := f.authors.GetAuthor(ctx, "au-1")
	require.NoError(t, err)
	require.Len(t, author.ArticleIDs, 2)
}

func TestHandleDuplicateDeliveryOfFinishedJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	f.addJob(t, "job-1", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})

	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))
	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))
	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))

	require.Equal(t, 1, f.scraper.callCount())
	require.Equal(t, 1, f.job(t, "job-1").Attempts)
}

func TestHandleUnknownJobIsAcknowledged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	require.NoError(t, f.consumer.Handle(context.Background(), crawler.QueueMessage{JobID: "missing"}))
	require.NoError(t, f.consumer.Handle(context.Background(), crawler.QueueMessage{}))
	require.Zero(t, f.scraper.callCount())
}

func TestHandleTransientFailureRequeuesThenSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxAttempts: 3})
	f.scraper.errs = []error{crawler.MarkTransient(errors.New("429 too many requests"))}
	ctx := context.Background()
	f.addJob(t, "job-1", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})

	err := f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"})
	require.Error(t, err)
	job := f.job(t, "job-1")
	require.Equal(t, crawler.JobStatusProcessing, job.Status)
	require.Equal(t, 1, job.Attempts)

	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))
	job = f.job(t, "job-1")
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, 2, job.Attempts)
}

func TestHandleRetryCapDeadLetters(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxAttempts: 2})
	boom := crawler.MarkTransient(errors.New("upstream unavailable"))
	f.scraper.errs = []error{boom, boom, boom}
	ctx := context.Background()
	f.addJob(t, "job-1", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})

	require.Error(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))
	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))

	job := f.job(t, "job-1")
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, 2, job.Attempts)
	require.Contains(t, job.Error, "upstream unavailable")
	require.Equal(t, 1, f.broker.Len(testDLQ))

	// A late redelivery after the cap leaves the job alone.
	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))
	require.Equal(t, 2, f.scraper.callCount())
}

func TestHandlePermanentFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxAttempts: 5})
	f.scraper.errs = []error{crawler.MarkPermanent(errors.New("404 profile not found"))}
	ctx := context.Background()
	f.addJob(t, "job-1", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})

	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))
	job := f.job(t, "job-1")
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.Zero(t, f.broker.Len(testDLQ))
}

func TestHandleMissingAuthorURLFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	f.addJob(t, "job-1", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-2"})
	f.addJob(t, "job-2", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "ghost", URL: profile})

	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))
	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-2"}))
	require.Equal(t, crawler.JobStatusFailed, f.job(t, "job-1").Status)
	require.Equal(t, crawler.JobStatusFailed, f.job(t, "job-2").Status)
	require.Zero(t, f.scraper.callCount())
}

func TestHandleFailFastDetails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxAttempts: 1, FailFastDetails: true})
	f.scraper.result.Failures = []crawler.DetailFailure{{Title: "Protein folding", Error: "status 503"}}
	ctx := context.Background()
	f.addJob(t, "job-1", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})

	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))
	job := f.job(t, "job-1")
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, "Protein folding")
	require.Zero(t, f.articles.Len())
}

func TestHandleBestEffortDetails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.scraper.result.Failures = []crawler.DetailFailure{{Title: "Protein folding", Error: "status 503"}}
	f.addJob(t, "job-1", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})

	require.NoError(t, f.consumer.Handle(context.Background(), crawler.QueueMessage{JobID: "job-1"}))
	require.Equal(t, crawler.JobStatusCompleted, f.job(t, "job-1").Status)
	require.Equal(t, 2, f.articles.Len())
}

func TestHandleRecrawlKeepsMetadataWhenDetailFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	citations := 42
	f.scraper.result.Articles[1].Metadata = crawler.Metadata{Journal: "Nature", CitationCount: &citations}
	f.addJob(t, "job-1", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})
	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-1"}))

	f.scraper.result.Articles = []crawler.Article{
		{Title: "Graph neural networks", Link: "https://scholar.google.com/a", Metadata: crawler.Metadata{Journal: "JMLR"}},
		{Title: "Protein folding", Link: "https://scholar.google.com/b"},
		{Title: "Sparse attention", Link: "https://scholar.google.com/c"},
	}
	f.scraper.result.Failures = []crawler.DetailFailure{
		{Title: "Protein folding", Error: "status 503"},
		{Title: "Sparse attention", Error: "status 503"},
	}
	f.addJob(t, "job-2", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})
	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "job-2"}))
	require.Equal(t, crawler.JobStatusCompleted, f.job(t, "job-2").Status)

	folding, err := f.articles.ListArticles(ctx, crawler.ArticleFilter{Source: crawler.SourceScholar, Title: "Protein folding"})
	require.NoError(t, err)
	require.Len(t, folding, 1)
	require.Equal(t, "Nature", folding[0].Metadata.Journal)
	require.NotNil(t, folding[0].Metadata.CitationCount)
	require.Equal(t, 42, *folding[0].Metadata.CitationCount)

	graphs, err := f.articles.ListArticles(ctx, crawler.ArticleFilter{Source: crawler.SourceScholar, Title: "Graph neural networks"})
	require.NoError(t, err)
	require.Len(t, graphs, 1)
	require.Equal(t, "JMLR", graphs[0].Metadata.Journal)

	require.Equal(t, 3, f.articles.Len())
	author, err := f.authors.GetAuthor(ctx, "au-1")
	require.NoError(t, err)
	require.Len(t, author.ArticleIDs, 3)
	require.Contains(t, author.ArticleIDs, folding[0].ID)
}

func TestHandleJobTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxAttempts: 1, JobTimeout: 20 * time.Millisecond})
	f.scraper.blockCtx = true
	f.addJob(t, "job-1", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})

	require.NoError(t, f.consumer.Handle(context.Background(), crawler.QueueMessage{JobID: "job-1"}))
	job := f.job(t, "job-1")
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, "deadline exceeded")
	require.Equal(t, 1, f.broker.Len(testDLQ))
}

func TestHandleBibliographicJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	cfg := crawler.DefaultSystemConfig()
	cfg.DefaultQuery = "DOCTYPE(ar)"
	require.NoError(t, f.config.SaveSystemConfig(ctx, cfg))

	f.addJob(t, "scholar", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})
	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "scholar"}))

	f.fetcher.records = []crawler.BibliographicRecord{
		{ExternalID: "SCOPUS_ID:1", Title: "Graph Neural Networks"},
		{ExternalID: "SCOPUS_ID:2", Title: "Unrelated survey of databases"},
	}
	f.addJob(t, "biblio", crawler.JobTypeBibliographic, crawler.JobTarget{Year: 2023, Query: "SUBJAREA(COMP)"})
	require.NoError(t, f.consumer.Handle(ctx, crawler.QueueMessage{JobID: "biblio"}))

	require.Equal(t, crawler.JobStatusCompleted, f.job(t, "biblio").Status)
	require.Equal(t, crawler.BibliographicQuery{Year: 2023, Extra: "SUBJAREA(COMP)", Default: "DOCTYPE(ar)"}, f.fetcher.query)
	require.Equal(t, 4, f.articles.Len())

	scholar, err := f.articles.ListArticles(ctx, crawler.ArticleFilter{Source: crawler.SourceScholar})
	require.NoError(t, err)
	require.Len(t, scholar, 2)
	for _, a := range scholar {
		require.NotNil(t, a.Index)
		require.Equal(t, a.Title == "Graph neural networks", a.Index.Indexed, a.Title)
	}

	_, _, ok := f.blobs.Object("raw/biblio/entries.json")
	require.True(t, ok)
}

func TestHandleSerializesPerAuthor(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.scraper.hold = 20 * time.Millisecond
	for i := range 4 {
		f.addJob(t, fmt.Sprintf("job-%d", i), crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.consumer.Handle(context.Background(), crawler.QueueMessage{JobID: fmt.Sprintf("job-%d", i)})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, int32(1), f.scraper.maxSeen.Load())
	require.Equal(t, 4, f.scraper.callCount())
	require.Zero(t, f.consumer.locks.size())
}

func TestRunConsumesFromBroker(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Concurrency: 2})
	f.addJob(t, "job-1", crawler.JobTypeScholar, crawler.JobTarget{AuthorID: "au-1"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.broker.Publish(ctx, testQueue, crawler.QueueMessage{JobID: "job-1"}))

	done := make(chan error, 1)
	go func() { done <- f.consumer.Run(ctx) }()

	require.Eventually(t, func() bool {
		job, err := f.jobs.GetJob(context.Background(), "job-1")
		return err == nil && job.Status == crawler.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
