package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
	"github.com/pscheid92/flowcollab/internal/domain"
	"github.com/pscheid92/flowcollab/internal/platform/config"
)

type fakePush struct {
	mu    sync.Mutex
	calls int
}

func (p *fakePush) Handle(c echo.Context) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return c.String(http.StatusOK, "connected")
}

func (p *fakePush) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeSaved struct {
	mu    sync.Mutex
	saved []domain.WorkflowSaved
	err   error
}

func (f *fakeSaved) Saved(_ context.Context, saved domain.WorkflowSaved) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, saved)
	return f.err
}

func (f *fakeSaved) received() []domain.WorkflowSaved {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.WorkflowSaved(nil), f.saved...)
}

type testServer struct {
	*Server
	push  *fakePush
	saved *fakeSaved
}

func newTestServer(t *testing.T, opts ...func(*config.Config, *Dependencies)) *testServer {
	t.Helper()

	cfg := &config.Config{
		Port:             "0",
		ConnectRateLimit: 100,
		ConnectRateBurst: 100,
	}
	push := &fakePush{}
	saved := &fakeSaved{}
	reg := metrics.NewRegistry()
	deps := Dependencies{
		Push:        push,
		Saved:       saved,
		Metrics:     metrics.Handler(reg),
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
		PushMetrics: metrics.NewPushMetrics(reg),
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	return &testServer{Server: NewServer(cfg, deps), push: push, saved: saved}
}

func withNotifyToken(token string) func(*config.Config, *Dependencies) {
	return func(cfg *config.Config, _ *Dependencies) { cfg.NotifyToken = token }
}

func withConnectLimit(rate float64, burst int) func(*config.Config, *Dependencies) {
	return func(cfg *config.Config, _ *Dependencies) {
		cfg.ConnectRateLimit = rate
		cfg.ConnectRateBurst = burst
	}
}

func withHealthChecks(checks ...HealthCheck) func(*config.Config, *Dependencies) {
	return func(_ *config.Config, deps *Dependencies) { deps.HealthChecks = checks }
}

func (s *testServer) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = testRemoteAddr
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}
