package articles

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-ingest/internal/clock/system"
	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/storage/memory"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

func newService(t *testing.T) (*Service, *memory.ArticleStore, *memory.AuthorStore, *system.Frozen) {
	t.Helper()
	articles := memory.NewArticleStore()
	authors := memory.NewAuthorStore(crawler.Author{ID: "au1", Name: "Ada"})
	clock := system.NewFrozen(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewService(articles, authors, &seqIDs{}, clock, nil), articles, authors, clock
}

func TestIngestUpsertsByTitle(t *testing.T) {
	t.Parallel()

	svc, store, _, clock := newService(t)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, crawler.SourceScholar, []crawler.Article{
		{Title: "Alpha", Metadata: crawler.Metadata{Volume: "1"}},
		{Title: "  "},
		{Title: "Beta"},
		{Title: "Alpha", Metadata: crawler.Metadata{Volume: "2"}},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, "Alpha", first[0].Title)
	require.Equal(t, "2", first[0].Metadata.Volume)
	require.Equal(t, crawler.SourceScholar, first[0].Source)
	require.Equal(t, 2, store.Len())

	clock.Advance(time.Hour)
	second, err := svc.Ingest(ctx, crawler.SourceScholar, []crawler.Article{
		{Title: "Alpha", Metadata: crawler.Metadata{Volume: "3"}},
	})
	require.NoError(t, err)
	require.Equal(t, first[0].ID, second[0].ID)
	require.Equal(t, first[0].CreatedAt, second[0].CreatedAt)
	require.True(t, second[0].UpdatedAt.After(first[0].UpdatedAt))
	require.Equal(t, "3", second[0].Metadata.Volume)
	require.Equal(t, 2, store.Len())
}

func TestIngestKeepsSourcesApart(t *testing.T) {
	t.Parallel()

	svc, store, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, crawler.SourceScholar, []crawler.Article{{Title: "Alpha"}})
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, crawler.SourceBibliographic, []crawler.Article{{Title: "Alpha"}})
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())
}

func TestIngestWithoutDetailKeepsStoredArticles(t *testing.T) {
	t.Parallel()

	svc, store, _, clock := newService(t)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, crawler.SourceScholar, []crawler.Article{
		{Title: "Alpha", Metadata: crawler.Metadata{Journal: "Nature"}},
	})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	got, err := svc.IngestWithoutDetail(ctx, crawler.SourceScholar, []crawler.Article{
		{Title: " Alpha "},
		{Title: "Gamma", Link: "https://scholar.example/g"},
		{Title: ""},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, first[0].ID, got[0].ID)
	require.Equal(t, "Nature", got[0].Metadata.Journal)
	require.Equal(t, first[0].UpdatedAt, got[0].UpdatedAt)
	require.Equal(t, "Gamma", got[1].Title)
	require.Equal(t, crawler.SourceScholar, got[1].Source)

	stored, err := store.GetArticle(ctx, first[0].ID)
	require.NoError(t, err)
	require.Equal(t, "Nature", stored.Metadata.Journal)
	require.Equal(t, 2, store.Len())
}

func TestLinkToAuthorIsSetUnion(t *testing.T) {
	t.Parallel()

	svc, _, authors, _ := newService(t)
	ctx := context.Background()

	stored, err := svc.Ingest(ctx, crawler.SourceScholar, []crawler.Article{{Title: "Alpha"}, {Title: "Beta"}})
	require.NoError(t, err)
	require.NoError(t, svc.LinkToAuthor(ctx, "au1", stored))
	require.NoError(t, svc.LinkToAuthor(ctx, "au1", stored))

	author, err := authors.GetAuthor(ctx, "au1")
	require.NoError(t, err)
	require.Equal(t, []string{stored[0].ID, stored[1].ID}, author.ArticleIDs)

	err = svc.LinkToAuthor(ctx, "ghost", stored)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
