package bibliographic

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

var months = []string{
	"January", "February", "March",
	"April", "May", "June",
	"July", "August", "September",
	"October", "November", "December",
}

// BuildQuery assembles the base search expression for one year.
func BuildQuery(country string, q crawler.BibliographicQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "AFFILCOUNTRY(%q) AND PUBYEAR = %d", country, q.Year)
	if extra := strings.TrimSpace(q.Extra); extra != "" {
		fmt.Fprintf(&b, " AND (%s)", extra)
	}
	if def := strings.TrimSpace(q.Default); def != "" {
		fmt.Fprintf(&b, " AND (%s)", def)
	}
	return b.String()
}

// PartitionQueries splits base into four quarter groups plus a catch-all for
// records whose publication date text names no month. A record whose date
// text spans two quarters appears in both groups.
func PartitionQueries(base string) []string {
	out := make([]string, 0, 5)
	for q := 0; q < 4; q++ {
		out = append(out, base+" AND "+monthClause(months[q*3:q*3+3]))
	}
	return append(out, base+" AND NOT "+monthClause(months))
}

func monthClause(names []string) string {
	quoted := make([]string, len(names))
	for i, m := range names {
		quoted[i] = fmt.Sprintf("%q", m)
	}
	return "PUBDATETXT(" + strings.Join(quoted, " OR ") + ")"
}
