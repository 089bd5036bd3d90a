package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bizradar-io/support-crawler/internal/model"
)

// UpsertSource registers one configured listing page, keyed by its URL.
// Seeding is idempotent: re-running updates agency, family, and the active
// flag in place.
func (s *Store) UpsertSource(ctx context.Context, src *model.CrawlSource) error {
	query := `
		INSERT INTO crawl_sources (agency, listing_url, site_family, region, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (listing_url) DO UPDATE
		SET agency = EXCLUDED.agency,
		    site_family = EXCLUDED.site_family,
		    region = EXCLUDED.region,
		    active = EXCLUDED.active
		RETURNING id;
	`
	if err := s.db.QueryRow(ctx, query, src.Agency, src.ListingURL, src.Family, src.Region, src.Active).Scan(&src.ID); err != nil {
		return fmt.Errorf("upsert source %s: %w", src.ListingURL, err)
	}
	return nil
}

// ActiveSources lists every source eligible for crawling.
func (s *Store) ActiveSources(ctx context.Context) ([]*model.CrawlSource, error) {
	query := `
		SELECT id, agency, listing_url, site_family, region, active, last_crawl
		FROM crawl_sources
		WHERE active
		ORDER BY id;
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active sources: %w", err)
	}
	defer rows.Close()

	var out []*model.CrawlSource
	for rows.Next() {
		src := &model.CrawlSource{}
		if err := rows.Scan(&src.ID, &src.Agency, &src.ListingURL, &src.Family, &src.Region, &src.Active, &src.LastCrawl); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// GetSource loads one source or returns ErrNotFound.
func (s *Store) GetSource(ctx context.Context, id int64) (*model.CrawlSource, error) {
	query := `
		SELECT id, agency, listing_url, site_family, region, active, last_crawl
		FROM crawl_sources
		WHERE id = $1;
	`
	src := &model.CrawlSource{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&src.ID, &src.Agency, &src.ListingURL, &src.Family, &src.Region, &src.Active, &src.LastCrawl)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("source %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get source %d: %w", id, err)
	}
	return src, nil
}

// TouchLastCrawl records when a source was last swept.
func (s *Store) TouchLastCrawl(ctx context.Context, sourceID int64, at time.Time) error {
	query := `UPDATE crawl_sources SET last_crawl = $1 WHERE id = $2;`
	if _, err := s.db.Exec(ctx, query, at, sourceID); err != nil {
		return fmt.Errorf("touch source %d: %w", sourceID, err)
	}
	return nil
}
