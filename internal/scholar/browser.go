package scholar

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/metrics"
)

const (
	showMoreSelector = "#gsc_bpf_more"
	// showMoreEnabled reports whether the "show more" button can still load rows.
	showMoreEnabled = `(() => { const b = document.querySelector("#gsc_bpf_more"); return !!b && !b.disabled; })()`
)

// BrowserConfig controls the headless browser.
type BrowserConfig struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	MaxPagination     int
	ClickWait         time.Duration
}

// Browser drives headless Chrome to expand profile pages and render detail pages.
type Browser struct {
	cfg         BrowserConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewBrowser creates a chromedp-backed browser.
func NewBrowser(cfg BrowserConfig) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.MaxPagination <= 0 {
		cfg.MaxPagination = 200
	}
	if cfg.ClickWait <= 0 {
		cfg.ClickWait = time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (b *Browser) Close() {
	b.allocCancel()
}

// LoadProfile opens the profile, clicks "show more" until the list is
// exhausted, and returns the expanded DOM with the number of pages loaded.
func (b *Browser) LoadProfile(ctx context.Context, profileURL string) ([]byte, int, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, 0, err
	}
	defer b.release()

	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	if err := b.run(taskCtx, b.networkSetupAction(), chromedp.Navigate(profileURL),
		chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return nil, 0, browserError(ctx, "open profile", err)
	}

	pages, err := paginate(ctx, &chromePager{browser: b, ctx: taskCtx}, b.cfg.MaxPagination)
	if err != nil {
		return nil, pages, browserError(ctx, "expand profile", err)
	}

	var html string
	if err := b.run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, pages, browserError(ctx, "read profile", err)
	}
	return []byte(html), pages, nil
}

// FetchDetail renders a single page and returns its DOM.
func (b *Browser) FetchDetail(ctx context.Context, pageURL string) ([]byte, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	var html string
	err := b.run(taskCtx,
		b.networkSetupAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, browserError(ctx, "render detail", err)
	}
	return []byte(html), nil
}

// run executes actions under the per-navigation timeout.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return crawler.MarkTransient(fmt.Errorf("browser slot wait canceled: %w", ctx.Err()))
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

// chromePager adapts a live tab to the pager used by paginate.
type chromePager struct {
	browser *Browser
	ctx     context.Context
}

func (p *chromePager) HasMore(_ context.Context) (bool, error) {
	var more bool
	if err := p.browser.run(p.ctx, chromedp.Evaluate(showMoreEnabled, &more)); err != nil {
		return false, err
	}
	return more, nil
}

func (p *chromePager) Next(_ context.Context) error {
	return p.browser.run(p.ctx,
		chromedp.Click(showMoreSelector, chromedp.ByQuery),
		chromedp.Sleep(p.browser.cfg.ClickWait),
	)
}

type pager interface {
	HasMore(ctx context.Context) (bool, error)
	Next(ctx context.Context) error
}

// paginate advances p until it reports no more rows. It returns the number of
// pages loaded, counting the first. More than maxClicks clicks, or the context
// ending, is a stalled pagination.
func paginate(ctx context.Context, p pager, maxClicks int) (int, error) {
	pages := 1
	for clicks := 0; ; clicks++ {
		if err := ctx.Err(); err != nil {
			metrics.ObserveScholarPage("stalled")
			return pages, fmt.Errorf("%w: %w", crawler.ErrPaginationStalled, err)
		}
		more, err := p.HasMore(ctx)
		if err != nil {
			metrics.ObserveScholarPage("error")
			return pages, err
		}
		if !more {
			return pages, nil
		}
		if clicks >= maxClicks {
			metrics.ObserveScholarPage("stalled")
			return pages, fmt.Errorf("%w after %d clicks", crawler.ErrPaginationStalled, clicks)
		}
		if err := p.Next(ctx); err != nil {
			metrics.ObserveScholarPage("error")
			return pages, err
		}
		pages++
		metrics.ObserveScholarPage("ok")
	}
}

// browserError marks browser failures transient.
func browserError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%w)", err, ctxErr)
	}
	return crawler.MarkTransient(fmt.Errorf("%s: %w", op, err))
}
