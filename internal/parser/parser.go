// Package parser turns fetched listing pages into candidate records.
//
// Each supported site family gets one hand-built parser; the registry maps a
// family tag to its implementation so adding a family means adding one type,
// not growing a conditional chain.
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bizradar-io/support-crawler/internal/model"
)

// Window is the registration-date acceptance window for a sweep.
type Window struct {
	Now   time.Time
	Hours int
}

// Contains reports whether a registration date falls inside the window.
// The boundary is inclusive: a record registered exactly Hours ago passes.
func (w Window) Contains(registered time.Time) bool {
	if registered.IsZero() {
		return false
	}
	cutoff := w.Now.Add(-time.Duration(w.Hours) * time.Hour)
	return !registered.Before(cutoff) && !registered.After(w.Now.Add(24*time.Hour))
}

// Parser extracts in-window candidates from one listing page.
type Parser interface {
	Family() model.SiteFamily
	// ParseListing returns the candidates on the page that pass the window
	// and plausibility filters. An empty slice with nil error means the page
	// simply had nothing in-window.
	ParseListing(body []byte, sourceURL string, window Window) ([]model.Candidate, error)
	// PageURL builds the URL for the 1-based page number.
	PageURL(listingURL string, page int) (string, error)
}

// Registry resolves a site family to its parser.
type Registry struct {
	parsers map[model.SiteFamily]Parser
}

// NewRegistry builds a registry holding all known family parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: map[model.SiteFamily]Parser{}}
	for _, p := range []Parser{NewBizinfo(), NewKStartup(), NewTechnopark()} {
		r.parsers[p.Family()] = p
	}
	return r
}

// Register adds or replaces a family parser.
func (r *Registry) Register(p Parser) {
	r.parsers[p.Family()] = p
}

// For returns the parser for a family.
func (r *Registry) For(family model.SiteFamily) (Parser, error) {
	p, ok := r.parsers[family]
	if !ok {
		return nil, fmt.Errorf("parser: no parser registered for family %q", family)
	}
	return p, nil
}

var numericTitleRe = regexp.MustCompile(`^[\d\s.\-]+$`)

// plausibleTitle rejects rows that cannot be announcements: too short or
// purely numeric (row counters, pinned-notice markers).
func plausibleTitle(title string) bool {
	title = strings.TrimSpace(title)
	if len([]rune(title)) < 3 {
		return false
	}
	return !numericTitleRe.MatchString(title)
}

// noticeMarkers are the pin labels agencies put in the number column.
var noticeMarkers = []string{"공지", "notice", "필독", "고정"}

func isNoticeRow(numberCell string) bool {
	cell := strings.ToLower(strings.TrimSpace(numberCell))
	for _, m := range noticeMarkers {
		if cell == m {
			return true
		}
	}
	return false
}

// dateRe finds a date inside decorated cells like "등록일 : 2025-01-02(화)"
// or "2025.01.02 14:30". Separator styles vary per agency.
var dateRe = regexp.MustCompile(`(\d{4})[.\-/]\s?(\d{1,2})[.\-/]\s?(\d{1,2})(?:[^\d]*(\d{1,2}):(\d{2}))?`)

// ParseDate extracts the first date (optionally with a time) found in s.
// KST is assumed because every source site is Korean. A missing or
// unparseable date returns false; callers must drop such rows, never
// default them to "in window".
func ParseDate(s string) (time.Time, bool) {
	m := dateRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, false
	}
	year, month, day := atoi(m[1]), atoi(m[2]), atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	hour, minute := 0, 0
	if m[4] != "" {
		hour, minute = atoi(m[4]), atoi(m[5])
		if hour > 23 || minute > 59 {
			hour, minute = 0, 0
		}
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, locKST), true
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

var locKST = time.FixedZone("KST", 9*60*60)
