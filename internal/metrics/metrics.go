// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal       *prometheus.CounterVec
	candidatesTotal  *prometheus.CounterVec
	attachmentsTotal *prometheus.CounterVec
	dedupDecisions   *prometheus.CounterVec
	jobsTotal        *prometheus.CounterVec
	browserFallbacks *prometheus.CounterVec
	projectsUpserted *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Listing pages fetched, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)
		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_candidates_total",
				Help: "In-window listing candidates, labeled by site family.",
			},
			[]string{"family"},
		)
		attachmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_attachments_total",
				Help: "Attachment downloads, labeled by detected type and outcome.",
			},
			[]string{"type", "outcome"},
		)
		dedupDecisions = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_dedup_decisions_total",
				Help: "Dedup engine placements, labeled by decision.",
			},
			[]string{"decision"},
		)
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Crawl jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)
		browserFallbacks = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_browser_fallbacks_total",
				Help: "Fetches routed through the headless browser, by site.",
			},
			[]string{"site"},
		)
		projectsUpserted = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_projects_upserted_total",
				Help: "Project upserts, labeled by new/updated.",
			},
			[]string{"kind"},
		)
	})
}

// SanitizeSite reduces a URL to a lowercase hostname label, "unknown" when
// unparseable.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one listing-page fetch.
func ObservePage(site, outcome string) {
	pagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveCandidates counts in-window candidates from one sweep.
func ObserveCandidates(family string, n int) {
	if n > 0 {
		candidatesTotal.WithLabelValues(family).Add(float64(n))
	}
}

// ObserveAttachment counts one attachment download attempt.
func ObserveAttachment(fileType, outcome string) {
	attachmentsTotal.WithLabelValues(fileType, outcome).Inc()
}

// ObserveDedup counts one dedup placement decision.
func ObserveDedup(decision string) {
	dedupDecisions.WithLabelValues(decision).Inc()
}

// ObserveJob counts one finished job.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveBrowserFallback counts one fetch served by the browser path.
func ObserveBrowserFallback(site string) {
	browserFallbacks.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveUpsert counts one project upsert, kind "new" or "updated".
func ObserveUpsert(kind string) {
	projectsUpserted.WithLabelValues(kind).Inc()
}
