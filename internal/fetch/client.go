// Package fetch is the resilient HTTP layer under every crawl: pooled
// keep-alive connections, bounded retries over transient failures, and a
// headless-browser fallback for WAF-protected hosts.
package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Options tune a single fetch call.
type Options struct {
	Headers http.Header
	Cookies []*http.Cookie
	Timeout time.Duration
}

// Response is the result of one fetch, regardless of transport.
type Response struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Cookies     []*http.Cookie
	Duration    time.Duration
	UsedBrowser bool
}

// Client fetches a URL. Implementations: CollyClient and Browser.
type Client interface {
	Fetch(ctx context.Context, url string, opts Options) (Response, error)
}

// CollyConfig controls collector behavior.
type CollyConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyClient implements Client with a colly collector over a shared pooled
// transport, so repeated calls against the same agency host reuse
// connections instead of burning its rate limit on handshakes.
type CollyClient struct {
	cfg       CollyConfig
	retry     RetryPolicy
	transport http.RoundTripper
	base      *colly.Collector
	logger    *zap.Logger
}

// NewCollyClient builds a CollyClient.
func NewCollyClient(cfg CollyConfig, retry RetryPolicy, logger *zap.Logger) *CollyClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true // government listing pages routinely 404 robots.txt
	transport := newPooledTransport()
	c.WithTransport(transport)

	return &CollyClient{
		cfg:       cfg,
		retry:     retry,
		transport: transport,
		base:      c,
		logger:    logger,
	}
}

// Fetch executes one GET with the retry policy applied around the transport.
func (c *CollyClient) Fetch(ctx context.Context, url string, opts Options) (Response, error) {
	var resp Response
	err := c.retry.Do(ctx, func() error {
		r, ferr := c.fetchOnce(ctx, url, opts)
		if ferr != nil {
			return ferr
		}
		resp = r
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (c *CollyClient) fetchOnce(ctx context.Context, url string, opts Options) (Response, error) {
	collector := c.base.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(c.transport)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	collector.SetRequestTimeout(timeout)
	collector.CheckHead = false

	var (
		result   Response
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range opts.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
		if len(opts.Cookies) > 0 {
			if err := collector.SetCookies(url, opts.Cookies); err != nil {
				c.logger.Debug("set cookies failed", zap.Error(err))
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		body := decodeKorean(append([]byte(nil), r.Body...), r.Headers.Get("Content-Type"))
		result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       body,
			Cookies:    collector.Cookies(r.Request.URL.String()),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = &HTTPStatusError{StatusCode: r.StatusCode, URL: url}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return Response{}, fetchErr
		}
		if err != nil {
			return Response{}, fmt.Errorf("visit %s: %w", url, err)
		}
	}
	return result, nil
}

// newPooledTransport bounds idle connections per host to a small pool, as a
// courtesy to rate-limited agency servers.
func newPooledTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
