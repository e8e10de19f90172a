// Package bibliographic fetches a year's worth of records from the
// bibliographic search API, working around its result window.
package bibliographic

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/metrics"
)

// Config controls the search API client.
type Config struct {
	BaseURL        string
	APIKey         string
	Country        string
	PageSize       int
	MaxResults     int
	PageDelay      time.Duration
	RequestTimeout time.Duration
}

// Client queries the search API one page at a time.
type Client struct {
	cfg     Config
	http    *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New validates cfg and builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bibliographic base url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("bibliographic api key is required")
	}
	if cfg.Country == "" {
		return nil, fmt.Errorf("bibliographic country is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 2000
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New()
	client.SetHeader("X-ELS-APIKey", cfg.APIKey)
	client.SetHeader("Accept", "application/json")
	client.SetTimeout(cfg.RequestTimeout)

	limit := rate.Inf
	if cfg.PageDelay > 0 {
		limit = rate.Every(cfg.PageDelay)
	}
	return &Client{
		cfg:     cfg,
		http:    client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("bibliographic"),
	}, nil
}

// FetchYear returns every record matching the year's query. When the total
// exceeds the result window the query is split into month groups and the
// groups are concatenated without deduplication.
func (c *Client) FetchYear(ctx context.Context, q crawler.BibliographicQuery) ([]crawler.BibliographicRecord, error) {
	base := BuildQuery(c.cfg.Country, q)
	total, err := c.count(ctx, base)
	if err != nil {
		return nil, err
	}
	c.logger.Info("year query counted", zap.Int("year", q.Year), zap.Int("total", total))
	if total <= c.cfg.MaxResults {
		return c.fetchGroup(ctx, base, total)
	}

	var out []crawler.BibliographicRecord
	for _, group := range PartitionQueries(base) {
		groupTotal, err := c.count(ctx, group)
		if err != nil {
			return nil, err
		}
		records, err := c.fetchGroup(ctx, group, groupTotal)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

func (c *Client) fetchGroup(ctx context.Context, query string, total int) ([]crawler.BibliographicRecord, error) {
	if total > c.cfg.MaxResults {
		c.logger.Warn("query exceeds result window, truncating",
			zap.String("query", query),
			zap.Int("total", total),
			zap.Int("window", c.cfg.MaxResults),
		)
		metrics.ObserveWindowTruncation()
		total = c.cfg.MaxResults
	}
	out := make([]crawler.BibliographicRecord, 0, total)
	for start := 0; start < total; start += c.cfg.PageSize {
		size := min(c.cfg.PageSize, total-start)
		page, err := c.search(ctx, "page", query, start, size)
		if err != nil {
			return nil, err
		}
		if len(page.Results.Entries) == 0 {
			break
		}
		for _, e := range page.Results.Entries {
			if rec, ok := e.record(); ok {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (c *Client) count(ctx context.Context, query string) (int, error) {
	page, err := c.search(ctx, "count", query, 0, 0)
	if err != nil {
		return 0, err
	}
	total, err := strconv.Atoi(strings.TrimSpace(page.Results.TotalResults))
	if err != nil {
		return 0, crawler.MarkPermanent(fmt.Errorf("malformed totalResults %q: %w", page.Results.TotalResults, err))
	}
	return total, nil
}

func (c *Client) search(ctx context.Context, kind, query string, start, count int) (searchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return searchResponse{}, crawler.MarkTransient(fmt.Errorf("page delay wait: %w", err))
	}
	var out searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"query": query,
			"start": strconv.Itoa(start),
			"count": strconv.Itoa(count),
		}).
		SetResult(&out).
		Get(c.cfg.BaseURL)
	if err != nil {
		metrics.ObserveBibliographicRequest(kind, 0)
		return searchResponse{}, crawler.MarkTransient(fmt.Errorf("search request: %w", err))
	}
	code := resp.StatusCode()
	metrics.ObserveBibliographicRequest(kind, code)
	switch {
	case code == http.StatusOK:
		return out, nil
	case code == http.StatusTooManyRequests || code >= 500:
		return searchResponse{}, crawler.MarkTransient(fmt.Errorf("search api status %d", code))
	default:
		return searchResponse{}, crawler.MarkPermanent(fmt.Errorf("search api status %d: %s", code, snippet(resp.Body())))
	}
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
