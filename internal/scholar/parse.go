package scholar

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

// ErrNoPublicationTable is returned when a page has no publication list,
// usually a block or consent interstitial instead of the profile.
var ErrNoPublicationTable = errors.New("publication table not found")

// Row is one entry of a profile's publication list.
type Row struct {
	Title string
	Link  string
}

// ProfileURL returns rawURL with the publication list sorted by date, newest first.
func ProfileURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", crawler.Validationf("parse profile url %q: %v", rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", crawler.Validationf("profile url %q must be an absolute http(s) url", rawURL)
	}
	q := u.Query()
	q.Set("view_op", "list_works")
	q.Set("sortby", "pubdate")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseProfile extracts publication rows from a fully expanded profile page.
// Links are resolved against base.
func ParseProfile(html []byte, base string) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse profile html: %w", err)
	}
	if doc.Find("#gsc_a_b").Length() == 0 && doc.Find("tr.gsc_a_tr").Length() == 0 {
		return nil, ErrNoPublicationTable
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	var rows []Row
	doc.Find("tr.gsc_a_tr a.gsc_a_at").Each(func(_ int, s *goquery.Selection) {
		title := collapseSpace(s.Text())
		if title == "" {
			return
		}
		rows = append(rows, Row{Title: title, Link: resolveLink(baseURL, s)})
	})
	return rows, nil
}

// ParseDetail reads the field/value table of an article detail page.
func ParseDetail(html []byte) (crawler.Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return crawler.Metadata{}, fmt.Errorf("parse detail html: %w", err)
	}
	var md crawler.Metadata
	doc.Find("#gsc_oci_table .gs_scl").Each(func(_ int, s *goquery.Selection) {
		label := collapseSpace(s.Find(".gsc_oci_field").Text())
		value := s.Find(".gsc_oci_value")
		if crawler.MetadataKey(label) == "total_citations" {
			if link := value.Find("a").First(); link.Length() > 0 {
				md.Set(label, link.Text())
				return
			}
		}
		md.Set(label, collapseSpace(value.Text()))
	})
	return md, nil
}

func resolveLink(base *url.URL, s *goquery.Selection) string {
	href, ok := s.Attr("data-href")
	if !ok || href == "" {
		href, _ = s.Attr("href")
	}
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
