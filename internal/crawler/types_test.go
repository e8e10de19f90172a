package crawler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := [][2]JobStatus{
		{JobStatusPending, JobStatusProcessing},
		{JobStatusProcessing, JobStatusProcessing},
		{JobStatusProcessing, JobStatusCompleted},
		{JobStatusProcessing, JobStatusFailed},
		{JobStatusPending, JobStatusFailed},
	}
	for _, pair := range allowed {
		require.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]JobStatus{
		{JobStatusPending, JobStatusCompleted},
		{JobStatusCompleted, JobStatusProcessing},
		{JobStatusFailed, JobStatusProcessing},
		{JobStatusFailed, JobStatusPending},
		{JobStatusCompleted, JobStatusFailed},
		{JobStatusProcessing, JobStatusPending},
	}
	for _, pair := range denied {
		require.False(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestJobLockKey(t *testing.T) {
	t.Parallel()

	scholar := Job{Type: JobTypeScholar, Target: JobTarget{AuthorID: "a1"}}
	biblio := Job{Type: JobTypeBibliographic, Target: JobTarget{Year: 2022}}
	require.Equal(t, "author:a1", scholar.LockKey())
	require.Equal(t, "year:2022", biblio.LockKey())
}

func TestSystemConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultSystemConfig().Validate())
	require.ErrorIs(t, SystemConfig{MatchingThreshold: 0}.Validate(), ErrValidation)
	require.ErrorIs(t, SystemConfig{MatchingThreshold: 0.6, NotMatchingThreshold: 0.7}.Validate(), ErrValidation)
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	base := fmt.Errorf("fetch page: %w", MarkTransient(fmt.Errorf("status 503")))
	require.True(t, IsTransient(base))
	require.False(t, IsTransient(MarkPermanent(base)))
	require.True(t, IsTransient(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	require.True(t, IsTransient(ErrPaginationStalled))
	require.False(t, IsTransient(fmt.Errorf("plain")))
	require.False(t, IsTransient(nil))

	nf := NotFoundf("job %s", "x")
	require.ErrorIs(t, fmt.Errorf("get: %w", nf), ErrNotFound)
	require.ErrorIs(t, InvalidTransition("j", JobStatusFailed, JobStatusProcessing), ErrInvalidTransition)
}

func TestBibliographicRecordArticle(t *testing.T) {
	t.Parallel()

	n := 5
	rec := BibliographicRecord{ExternalID: "SCOPUS_ID:1", Title: "T", PublicationName: "J", CitationCount: &n}
	a := rec.Article()
	require.Equal(t, SourceBibliographic, a.Source)
	require.Equal(t, "SCOPUS_ID:1", a.ExternalID)
	require.Equal(t, "J", a.Metadata.Journal)
	require.Equal(t, 5, *a.Metadata.CitationCount)
}
