package push

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
)

// OriginPolicy decides which browser origins may open push connections. It
// guards both backends: the websocket upgrader and the event stream.
type OriginPolicy struct {
	allowed        map[string]struct{}
	allowLocalhost bool
	metrics        *metrics.PushMetrics
}

// NewOriginPolicy allows the editor's own origin (derived from appURL), every
// origin in extra, requests without an Origin header (same-origin and
// non-browser clients) and, in development, localhost.
func NewOriginPolicy(appURL string, extra []string, isDevelopment bool, m *metrics.PushMetrics) *OriginPolicy {
	p := &OriginPolicy{
		allowed:        make(map[string]struct{}, len(extra)+1),
		allowLocalhost: isDevelopment,
		metrics:        m,
	}
	for _, raw := range append([]string{appURL}, extra...) {
		if origin := extractOrigin(raw); origin != "" {
			p.allowed[origin] = struct{}{}
		}
	}
	return p
}

// Allow has the signature of websocket.Upgrader.CheckOrigin.
func (p *OriginPolicy) Allow(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := p.allowed[extractOrigin(origin)]; ok {
		return true
	}
	if p.allowLocalhost && isLocalhostOrigin(origin) {
		return true
	}

	slog.Warn("Push origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
	if p.metrics != nil {
		p.metrics.RejectedConnections.WithLabelValues("origin").Inc()
	}
	return false
}

// extractOrigin normalises a URL to scheme://host, dropping path and query.
func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
