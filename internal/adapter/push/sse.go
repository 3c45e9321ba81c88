package push

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
	"github.com/pscheid92/flowcollab/internal/domain"
	"github.com/pscheid92/flowcollab/internal/platform/correlation"
	apperrors "github.com/pscheid92/flowcollab/internal/platform/errors"
)

var errStreamClosed = errors.New("event stream closed")

// SSEBackend serves push-only connections as a server-sent event stream.
// Clients cannot send messages on it and it is not liveness-probed; the
// connection ends when the request does.
type SSEBackend struct {
	hub      *Hub
	identity IdentityResolver
	origins  *OriginPolicy
	metrics  *metrics.PushMetrics
}

// NewSSEBackend returns an event stream backend. A nil origins policy accepts
// every origin.
func NewSSEBackend(hub *Hub, identity IdentityResolver, origins *OriginPolicy, m *metrics.PushMetrics) *SSEBackend {
	return &SSEBackend{hub: hub, identity: identity, origins: origins, metrics: m}
}

func (b *SSEBackend) Handle(c echo.Context) error {
	r := c.Request()

	if b.origins != nil && !b.origins.Allow(r) {
		return apperrors.ForbiddenError("origin not allowed")
	}

	sessionID := c.QueryParam("sessionId")
	if sessionID == "" {
		b.rejected("missing_session_id")
		return apperrors.ValidationError(domain.ErrMissingSessionID.Error())
	}

	userID, err := b.identity.ResolveUser(r)
	if err != nil {
		b.rejected("unauthenticated")
		return apperrors.UnauthorizedError("unauthorized", err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")

	conn := newSSEConn(res)
	connectionID, err := b.hub.Register(sessionID, userID, BackendSSE, conn)
	if errors.Is(err, domain.ErrTooManyConnections) {
		return apperrors.UnavailableError("too many push connections", err)
	}
	if err != nil {
		return apperrors.InternalError("failed to register push connection", err)
	}

	ctx := correlation.WithSession(r.Context(), sessionID, userID)
	slog.InfoContext(ctx, "Push connection established", "backend", BackendSSE)

	if err := conn.comment("connected"); err != nil {
		slog.DebugContext(ctx, "Event stream write failed", "error", err)
	}

	select {
	case <-ctx.Done():
	case <-conn.done:
	}

	// Close before unregistering so no write reaches the finished response.
	_ = conn.Close()
	b.hub.Unregister(sessionID, connectionID)
	slog.InfoContext(ctx, "Push connection closed", "backend", BackendSSE)
	return nil
}

func (b *SSEBackend) rejected(reason string) {
	if b.metrics != nil {
		b.metrics.RejectedConnections.WithLabelValues(reason).Inc()
	}
}

type flushWriter interface {
	http.ResponseWriter
	http.Flusher
}

// sseConn writes frames to an open event stream. Writes after Close fail.
type sseConn struct {
	mu     sync.Mutex
	w      flushWriter
	closed bool
	done   chan struct{}
}

func newSSEConn(w flushWriter) *sseConn {
	return &sseConn{w: w, done: make(chan struct{})}
}

func (c *sseConn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errStreamClosed
	}
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	c.w.Flush()
	return nil
}

func (c *sseConn) comment(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errStreamClosed
	}
	if _, err := fmt.Fprintf(c.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("failed to write comment: %w", err)
	}
	c.w.Flush()
	return nil
}

func (c *sseConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}
