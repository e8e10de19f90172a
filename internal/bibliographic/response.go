package bibliographic

import (
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

type searchResponse struct {
	Results searchResults `json:"search-results"`
}

type searchResults struct {
	TotalResults string  `json:"opensearch:totalResults"`
	Entries      []entry `json:"entry"`
}

type entry struct {
	Error           string `json:"error"`
	Identifier      string `json:"dc:identifier"`
	Title           string `json:"dc:title"`
	URL             string `json:"prism:url"`
	Creator         string `json:"dc:creator"`
	PublicationName string `json:"prism:publicationName"`
	Volume          string `json:"prism:volume"`
	Issue           string `json:"prism:issueIdentifier"`
	PageRange       string `json:"prism:pageRange"`
	DOI             string `json:"prism:doi"`
	CoverDate       string `json:"prism:coverDate"`
	CitedByCount    string `json:"citedby-count"`
	Links           []link `json:"link"`
}

type link struct {
	Ref  string `json:"@ref"`
	Href string `json:"@href"`
}

// record converts an entry; ok is false for placeholder entries such as the
// one returned for an empty result set.
func (e entry) record() (crawler.BibliographicRecord, bool) {
	if e.Error != "" || strings.TrimSpace(e.Title) == "" {
		return crawler.BibliographicRecord{}, false
	}
	rec := crawler.BibliographicRecord{
		ExternalID:      e.Identifier,
		Title:           strings.TrimSpace(e.Title),
		Link:            e.URL,
		Creator:         e.Creator,
		PublicationName: e.PublicationName,
		Volume:          e.Volume,
		Issue:           e.Issue,
		Pages:           e.PageRange,
		DOI:             e.DOI,
	}
	for _, l := range e.Links {
		if l.Ref == "scopus" && l.Href != "" {
			rec.Link = l.Href
			break
		}
	}
	if t, err := time.Parse("2006-01-02", e.CoverDate); err == nil {
		rec.CoverDate = &t
	}
	if n, err := strconv.Atoi(strings.TrimSpace(e.CitedByCount)); err == nil {
		rec.CitationCount = &n
	}
	return rec, true
}
