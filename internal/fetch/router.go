package fetch

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/bizradar-io/support-crawler/internal/metrics"
)

// Allowlist is the fixed set of hostnames routed through the browser
// fallback. These hosts are known to reject plain HTTP clients outright, so
// probing them first would only trip their WAF counters.
type Allowlist struct {
	hosts map[string]struct{}
}

// NewAllowlist builds an Allowlist from hostnames; subdomain matches count.
func NewAllowlist(hosts []string) *Allowlist {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return &Allowlist{hosts: set}
}

// Contains reports whether host (or a parent domain of it) is listed.
func (a *Allowlist) Contains(host string) bool {
	host = strings.ToLower(host)
	for h := range a.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Router dispatches fetches to the plain client or the browser fallback
// based on the target host.
type Router struct {
	plain     Client
	browser   Client
	allowlist *Allowlist
	logger    *zap.Logger
}

// NewRouter constructs a Router. browser may be nil when headless support is
// disabled; allow-listed hosts then fall back to the plain client.
func NewRouter(plain Client, browser Client, allowlist *Allowlist, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{plain: plain, browser: browser, allowlist: allowlist, logger: logger}
}

// Fetch routes one call.
func (r *Router) Fetch(ctx context.Context, rawURL string, opts Options) (Response, error) {
	if r.browser != nil && r.allowlist != nil {
		if u, err := url.Parse(rawURL); err == nil && r.allowlist.Contains(u.Hostname()) {
			r.logger.Debug("routing through browser fallback", zap.String("host", u.Hostname()))
			metrics.ObserveBrowserFallback(rawURL)
			return r.browser.Fetch(ctx, rawURL, opts)
		}
	}
	return r.plain.Fetch(ctx, rawURL, opts)
}
