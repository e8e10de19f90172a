package crawler

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Metadata is the typed view of an article's detail table. Labels without a
// dedicated field land in Extra so nothing scraped is lost.
type Metadata struct {
	PublicationDate *time.Time           `json:"publication_date,omitempty"`
	Authors         string               `json:"authors,omitempty"`
	Journal         string               `json:"journal,omitempty"`
	Conference      string               `json:"conference,omitempty"`
	Book            string               `json:"book,omitempty"`
	Publisher       string               `json:"publisher,omitempty"`
	Volume          string               `json:"volume,omitempty"`
	Issue           string               `json:"issue,omitempty"`
	Pages           string               `json:"pages,omitempty"`
	Description     string               `json:"description,omitempty"`
	DOI             string               `json:"doi,omitempty"`
	CitationCount   *int                 `json:"citation_count,omitempty"`
	Extra           map[string]MetaValue `json:"extra,omitempty"`
}

// MetaValue is an overflow entry: either free text or a normalized date.
type MetaValue struct {
	Text string     `json:"text,omitempty"`
	Date *time.Time `json:"date,omitempty"`
}

var (
	citedByExpr  = regexp.MustCompile(`(?i)cited by\s+([\d,]+)`)
	nonKeyExpr   = regexp.MustCompile(`[^a-z0-9]+`)
	bareNumberRe = regexp.MustCompile(`^[\d,]+$`)
)

// MetadataKey turns a display label such as "Publication date" into
// "publication_date".
func MetadataKey(label string) string {
	key := nonKeyExpr.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "_")
	return strings.Trim(key, "_")
}

// ParseCitationCount reads "Cited by 42" (or a bare "42") into an int.
func ParseCitationCount(raw string) *int {
	raw = strings.TrimSpace(raw)
	digits := ""
	if m := citedByExpr.FindStringSubmatch(raw); m != nil {
		digits = m[1]
	} else if bareNumberRe.MatchString(raw) {
		digits = raw
	}
	if digits == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(digits, ",", ""))
	if err != nil {
		return nil
	}
	return &n
}

// Set records one label/value pair from a detail table.
func (m *Metadata) Set(label, raw string) {
	raw = strings.TrimSpace(raw)
	key := MetadataKey(label)
	if raw == "" || key == "" {
		return
	}
	switch key {
	case "publication_date":
		if d := NormalizeDate(raw); d != nil {
			m.PublicationDate = d
			return
		}
		m.setExtra(key, raw)
	case "authors", "inventors":
		m.Authors = raw
	case "journal", "source":
		m.Journal = raw
	case "conference":
		m.Conference = raw
	case "book":
		m.Book = raw
	case "publisher":
		m.Publisher = raw
	case "volume":
		m.Volume = raw
	case "issue":
		m.Issue = raw
	case "pages":
		m.Pages = raw
	case "description":
		m.Description = raw
	case "doi":
		m.DOI = raw
	case "total_citations":
		if n := ParseCitationCount(raw); n != nil {
			m.CitationCount = n
		}
	default:
		m.setExtra(key, raw)
	}
}

func (m *Metadata) setExtra(key, raw string) {
	if m.Extra == nil {
		m.Extra = make(map[string]MetaValue)
	}
	if d := NormalizeDate(raw); d != nil {
		m.Extra[key] = MetaValue{Date: d}
		return
	}
	m.Extra[key] = MetaValue{Text: raw}
}
