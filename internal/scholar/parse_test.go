package scholar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestProfileURLForcesListView(t *testing.T) {
	t.Parallel()

	got, err := ProfileURL(" https://scholar.example/citations?user=abc&hl=en&sortby=title ")
	require.NoError(t, err)
	require.Equal(t, "https://scholar.example/citations?hl=en&sortby=pubdate&user=abc&view_op=list_works", got)
}

func TestProfileURLRejectsRelative(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "/citations?user=abc", "ftp://scholar.example/x"} {
		_, err := ProfileURL(raw)
		require.ErrorIs(t, err, crawler.ErrValidation, raw)
	}
}

func TestParseProfileExtractsRows(t *testing.T) {
	t.Parallel()

	rows, err := ParseProfile(readFixture(t, "profile.html"), "https://scholar.example/citations?user=abc")
	require.NoError(t, err)
	require.Equal(t, []Row{
		{
			Title: "Notes on the Analytical Engine",
			Link:  "https://scholar.example/citations?view_op=view_citation&user=abc&citation_for_view=abc:1",
		},
		{
			Title: "Sketch of the Analytical Engine",
			Link:  "https://scholar.example/citations?view_op=view_citation&user=abc&citation_for_view=abc:2",
		},
		{Title: "Untitled Letter"},
	}, rows)
}

func TestParseProfileWithoutTable(t *testing.T) {
	t.Parallel()

	_, err := ParseProfile(readFixture(t, "blocked.html"), "https://scholar.example/")
	require.ErrorIs(t, err, ErrNoPublicationTable)
}

func TestParseDetailMapsFields(t *testing.T) {
	t.Parallel()

	md, err := ParseDetail(readFixture(t, "detail.html"))
	require.NoError(t, err)

	require.Equal(t, "Ada Lovelace, Luigi Menabrea", md.Authors)
	require.NotNil(t, md.PublicationDate)
	require.Equal(t, time.Date(1843, 9, 1, 0, 0, 0, 0, time.UTC), *md.PublicationDate)
	require.Equal(t, "Scientific Memoirs", md.Journal)
	require.Equal(t, "3", md.Volume)
	require.Equal(t, "666-731", md.Pages)
	require.Equal(t, "Richard and John E. Taylor", md.Publisher)
	require.NotNil(t, md.CitationCount)
	require.Equal(t, 1204, *md.CitationCount)

	require.Contains(t, md.Extra, "translated")
	require.NotNil(t, md.Extra["translated"].Date)
	require.Equal(t, 1843, md.Extra["translated"].Date.Year())
	require.Equal(t,
		"Notes on the Analytical Engine A Lovelace - All 12 versions",
		md.Extra["scholar_articles"].Text,
	)
}

func TestParseDetailEmptyPage(t *testing.T) {
	t.Parallel()

	md, err := ParseDetail([]byte("<html><body></body></html>"))
	require.NoError(t, err)
	require.Equal(t, crawler.Metadata{}, md)
}
