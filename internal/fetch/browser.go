package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// BrowserConfig controls the headless fallback used for WAF-protected hosts.
type BrowserConfig struct {
	UserAgent    string
	NavTimeout   time.Duration
	SettleDelay  time.Duration // fixed wait after load before reading the DOM
	WaitSelector string        // optional CSS selector to wait for
	// MinBodyBytes accepts an error-status page whose document is at least
	// this large. Several agency sites serve real listings behind 4xx/5xx.
	MinBodyBytes int
	// MinTableRows accepts an error-status page containing a table with at
	// least this many rows.
	MinTableRows int
}

func (c *BrowserConfig) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 45 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.MinBodyBytes <= 0 {
		c.MinBodyBytes = 20 * 1024
	}
	if c.MinTableRows <= 0 {
		c.MinTableRows = 5
	}
}

// Browser is the headless-Chrome client used for hosts that reject plain
// HTTP clients. It owns one long-lived browser with a single profile so
// cookies issued during a challenge survive into follow-up fetches. It is an
// explicitly constructed, injectable resource; call Close on shutdown.
type Browser struct {
	cfg    BrowserConfig
	logger *zap.Logger

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
}

// NewBrowser constructs a Browser. Chrome itself starts lazily on first use.
func NewBrowser(cfg BrowserConfig, logger *zap.Logger) *Browser {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{cfg: cfg, logger: logger}
}

func (b *Browser) ensureStarted() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		return b.browserCtx, nil
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("hide-scrollbars", true),
	)
	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.browserStop = chromedp.NewContext(b.allocCtx)
	// Sanity-start the browser so a broken Chrome install fails here, not
	// mid-crawl.
	if err := chromedp.Run(b.browserCtx); err != nil {
		b.teardownLocked()
		return nil, fmt.Errorf("start headless browser: %w", err)
	}
	b.logger.Info("headless browser started")
	return b.browserCtx, nil
}

// Close shuts the browser down. Safe to call without a prior fetch.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardownLocked()
}

func (b *Browser) teardownLocked() {
	if b.browserStop != nil {
		b.browserStop()
		b.browserStop, b.browserCtx = nil, nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel, b.allocCtx = nil, nil
	}
}

// Fetch renders the URL in a fresh tab of the shared browser and returns the
// final DOM plus accumulated cookies. Success is content-based: an error
// status is accepted when the document still carries a sizeable table or
// exceeds the byte threshold.
func (b *Browser) Fetch(ctx context.Context, url string, opts Options) (Response, error) {
	browserCtx, err := b.ensureStarted()
	if err != nil {
		return Response{}, err
	}

	tabCtx, closeTab := chromedp.NewContext(browserCtx)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, b.cfg.NavTimeout)
	defer cancel()

	// Keep the caller's cancellation without re-parenting the tab.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-tabCtx.Done():
		}
	}()

	var (
		status  int64
		html    string
		cookies []*network.Cookie
	)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument && resp.Response != nil {
				status = resp.Response.Status
			}
		}
	})

	start := time.Now()
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return err
			}
			if b.cfg.UserAgent != "" {
				return emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx)
			}
			return nil
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if b.cfg.WaitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(b.cfg.WaitSelector, chromedp.ByQuery))
	}
	actions = append(actions,
		chromedp.Sleep(b.cfg.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			cs, err := storage.GetCookies().Do(ctx)
			if err != nil {
				return err
			}
			cookies = cs
			return nil
		}),
	)
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return Response{}, fmt.Errorf("browser fetch %s: %w", url, err)
	}

	body := []byte(html)
	if status >= 400 && !b.usableDespiteStatus(body) {
		return Response{}, &HTTPStatusError{StatusCode: int(status), URL: url}
	}

	return Response{
		URL:         url,
		StatusCode:  int(status),
		Headers:     http.Header{},
		Body:        body,
		Cookies:     toHTTPCookies(cookies),
		Duration:    time.Since(start),
		UsedBrowser: true,
	}, nil
}

// usableDespiteStatus recognizes the agency habit of serving a working page
// under an error status code.
func (b *Browser) usableDespiteStatus(body []byte) bool {
	if len(body) >= b.cfg.MinBodyBytes {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	usable := false
	doc.Find("table").EachWithBreak(func(_ int, tbl *goquery.Selection) bool {
		if tbl.Find("tr").Length() >= b.cfg.MinTableRows {
			usable = true
			return false
		}
		return true
	})
	return usable
}

func toHTTPCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		out = append(out, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return out
}
