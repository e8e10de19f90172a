package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

func TestArticleStoreUpsertReplacesByTitle(t *testing.T) {
	t.Parallel()

	store := NewArticleStore()
	ctx := context.Background()
	created := time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC)

	first, err := store.UpsertArticle(ctx, crawler.Article{
		ID:        "art-1",
		Source:    crawler.SourceScholar,
		Title:     "Deep Things",
		Link:      "https://example.com/old",
		CreatedAt: created,
	})
	require.NoError(t, err)
	require.NoError(t, store.SetIndexStatus(ctx, first.ID, crawler.IndexStatus{Indexed: true, ExternalID: "S1"}))

	second, err := store.UpsertArticle(ctx, crawler.Article{
		ID:        "art-2",
		Source:    crawler.SourceScholar,
		Title:     "Deep Things",
		Link:      "https://example.com/new",
		CreatedAt: created.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, "art-1", second.ID)
	require.Equal(t, created, second.CreatedAt)
	require.NotNil(t, second.Index)
	require.Equal(t, "S1", second.Index.ExternalID)
	require.Equal(t, "https://example.com/new", second.Link)
	require.Equal(t, 1, store.Len())

	other, err := store.UpsertArticle(ctx, crawler.Article{
		ID:     "art-3",
		Source: crawler.SourceBibliographic,
		Title:  "Deep Things",
	})
	require.NoError(t, err)
	require.Equal(t, "art-3", other.ID, "sources do not share the title key")

	scholar, err := store.ListArticles(ctx, crawler.ArticleFilter{Source: crawler.SourceScholar})
	require.NoError(t, err)
	require.Len(t, scholar, 1)

	byTitle, err := store.ListArticles(ctx, crawler.ArticleFilter{Source: crawler.SourceBibliographic, Title: "Deep Things"})
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	require.Equal(t, "art-3", byTitle[0].ID)
	none, err := store.ListArticles(ctx, crawler.ArticleFilter{Title: "Shallow Things"})
	require.NoError(t, err)
	require.Empty(t, none)

	require.NoError(t, store.DeleteArticle(ctx, "art-1"))
	_, err = store.GetArticle(ctx, "art-1")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.ErrorIs(t, store.DeleteArticle(ctx, "art-1"), crawler.ErrNotFound)
}

func TestAuthorStoreArticleLinks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewAuthorStore(
		crawler.Author{ID: "a1", ArticleIDs: []string{"x"}},
		crawler.Author{ID: "a2", ArticleIDs: []string{"x", "y"}},
	)

	require.NoError(t, store.AddArticles(ctx, "a1", []string{"x", "z", "z", ""}))
	a1, err := store.GetAuthor(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "z"}, a1.ArticleIDs)

	changed, err := store.RemoveArticle(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, 2, changed)

	a2, err := store.GetAuthor(ctx, "a2")
	require.NoError(t, err)
	require.Equal(t, []string{"y"}, a2.ArticleIDs)

	require.ErrorIs(t, store.AddArticles(ctx, "missing", []string{"x"}), crawler.ErrNotFound)

	a2.ArticleIDs[0] = "mutated"
	fresh, err := store.GetAuthor(ctx, "a2")
	require.NoError(t, err)
	require.Equal(t, []string{"y"}, fresh.ArticleIDs, "returned authors are copies")
}

func TestCandidateStoreOnePerArticle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCandidateStore()

	first, err := store.UpsertCandidate(ctx, crawler.SimilarityCandidate{
		ID:        "c1",
		ArticleID: "art",
		SimilarTo: crawler.SimilarMatch{ExternalID: "S1", Score: 0.6},
	})
	require.NoError(t, err)
	require.Equal(t, "c1", first.ID)

	second, err := store.UpsertCandidate(ctx, crawler.SimilarityCandidate{
		ID:        "c2",
		ArticleID: "art",
		SimilarTo: crawler.SimilarMatch{ExternalID: "S2", Score: 0.8},
	})
	require.NoError(t, err)
	require.Equal(t, "c1", second.ID)

	list, err := store.ListCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "S2", list[0].SimilarTo.ExternalID)

	require.NoError(t, store.DeleteCandidatesForArticle(ctx, "art"))
	_, err = store.GetCandidate(ctx, "c1")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.ErrorIs(t, store.DeleteCandidate(ctx, "c1"), crawler.ErrNotFound)
}

func TestConfigStoreSeedsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewConfigStore()

	_, err := store.GetSystemConfig(ctx)
	require.ErrorIs(t, err, crawler.ErrNotFound)

	seeded, err := store.EnsureSystemConfig(ctx, crawler.DefaultSystemConfig())
	require.NoError(t, err)
	require.Equal(t, 0.95, seeded.MatchingThreshold)

	custom := crawler.SystemConfig{MatchingThreshold: 0.9, NotMatchingThreshold: 0.3}
	require.NoError(t, store.SaveSystemConfig(ctx, custom))

	again, err := store.EnsureSystemConfig(ctx, crawler.DefaultSystemConfig())
	require.NoError(t, err)
	require.Equal(t, 0.9, again.MatchingThreshold, "existing document is not overwritten")

	require.ErrorIs(t, store.SaveSystemConfig(ctx, crawler.SystemConfig{MatchingThreshold: 2}), crawler.ErrValidation)
}
