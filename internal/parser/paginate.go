package parser

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bizradar-io/support-crawler/internal/fetch"
	"github.com/bizradar-io/support-crawler/internal/metrics"
	"github.com/bizradar-io/support-crawler/internal/model"
)

// MaxPages is the safety valve on pagination. Boards that loop their last
// page forever are a known failure mode; nothing legitimate is 40 pages deep
// inside a one-week window.
const MaxPages = 40

// emptyPagesToStop ends pagination after this many consecutive pages with no
// in-window candidates. Two, not one: several boards interleave stale pinned
// content in ways that can blank a single page.
const emptyPagesToStop = 2

// Paginator walks a source's listing pages through a parser, fetching via
// the routed fetch layer and pacing requests politely.
type Paginator struct {
	fetcher  fetch.Client
	pacer    *rate.Limiter
	maxPages int
	logger   *zap.Logger
}

// NewPaginator constructs a Paginator. pageDelay is the fixed politeness
// delay enforced between page fetches; maxPages caps the sweep, defaulting
// to MaxPages when zero.
func NewPaginator(fetcher fetch.Client, pageDelay float64, maxPages int, logger *zap.Logger) *Paginator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPages <= 0 {
		maxPages = MaxPages
	}
	limit := rate.Inf
	if pageDelay > 0 {
		limit = rate.Limit(1 / pageDelay)
	}
	return &Paginator{
		fetcher:  fetcher,
		pacer:    rate.NewLimiter(limit, 1),
		maxPages: maxPages,
		logger:   logger,
	}
}

// Collect gathers every in-window candidate across the source's pages.
func (pg *Paginator) Collect(ctx context.Context, p Parser, listingURL string, window Window) ([]model.Candidate, error) {
	var (
		all          []model.Candidate
		emptyStreak  int
		pagesFetched int
	)
	for page := 1; page <= pg.maxPages; page++ {
		if err := pg.pacer.Wait(ctx); err != nil {
			return all, fmt.Errorf("pagination pacing: %w", err)
		}
		pageURL, err := p.PageURL(listingURL, page)
		if err != nil {
			return all, err
		}
		resp, err := pg.fetcher.Fetch(ctx, pageURL, fetch.Options{})
		if err != nil {
			metrics.ObservePage(listingURL, "error")
			return all, fmt.Errorf("fetch page %d: %w", page, err)
		}
		metrics.ObservePage(listingURL, "ok")
		pagesFetched++

		candidates, err := p.ParseListing(resp.Body, pageURL, window)
		if err != nil {
			return all, fmt.Errorf("parse page %d: %w", page, err)
		}
		if len(candidates) == 0 {
			emptyStreak++
			if emptyStreak >= emptyPagesToStop {
				break
			}
			continue
		}
		emptyStreak = 0
		all = append(all, candidates...)
	}
	pg.logger.Info("pagination finished",
		zap.String("url", listingURL),
		zap.Int("pages", pagesFetched),
		zap.Int("candidates", len(all)),
	)
	return all, nil
}
