package push

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
	"github.com/pscheid92/flowcollab/internal/domain"
	"github.com/pscheid92/flowcollab/internal/platform/correlation"
)

const (
	BackendWebSocket = "websocket"
	BackendSSE       = "sse"

	writeDeadline  = 5 * time.Second
	maxMessageSize = 4 << 20
)

// InboundHandler processes one decoded client message. It is called
// synchronously from the connection's read loop, so messages from one
// connection are handled strictly in arrival order.
type InboundHandler func(ctx context.Context, sessionID, userID string, msg domain.InboundMessage)

// WebSocketBackend accepts bidirectional push connections.
type WebSocketBackend struct {
	hub      *Hub
	identity IdentityResolver
	inbound  InboundHandler
	upgrader websocket.Upgrader
	metrics  *metrics.PushMetrics
}

func NewWebSocketBackend(hub *Hub, identity IdentityResolver, inbound InboundHandler, checkOrigin func(*http.Request) bool, m *metrics.PushMetrics) *WebSocketBackend {
	return &WebSocketBackend{
		hub:      hub,
		identity: identity,
		inbound:  inbound,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		metrics: m,
	}
}

// Handle upgrades the request and serves the connection until it closes.
// Rejections happen after the upgrade so the client sees a close code.
func (b *WebSocketBackend) Handle(c echo.Context) error {
	r := c.Request()

	ws, err := b.upgrader.Upgrade(c.Response(), r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		slog.Debug("WebSocket upgrade failed", "error", err)
		return nil
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		b.reject(ws, websocket.ClosePolicyViolation, domain.ErrMissingSessionID.Error(), "missing_session_id")
		return nil
	}

	userID, err := b.identity.ResolveUser(r)
	if err != nil {
		slog.Debug("Rejecting unauthenticated push connection", "session_id", sessionID, "error", err)
		b.reject(ws, websocket.ClosePolicyViolation, "Unauthorized", "unauthenticated")
		return nil
	}

	conn := &wsConn{ws: ws}
	connectionID, err := b.hub.Register(sessionID, userID, BackendWebSocket, conn)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, domain.ErrTooManyConnections) {
			code = websocket.CloseTryAgainLater
		}
		slog.Warn("Failed to register push connection", "session_id", sessionID, "error", err)
		_ = conn.closeWith(code, err.Error())
		return nil
	}
	defer b.hub.Unregister(sessionID, connectionID)

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		b.hub.MarkAlive(sessionID, connectionID)
		return nil
	})

	ctx := correlation.WithSession(context.WithoutCancel(r.Context()), sessionID, userID)
	slog.InfoContext(ctx, "Push connection established", "backend", BackendWebSocket)
	b.readLoop(ctx, ws, sessionID, userID)
	slog.InfoContext(ctx, "Push connection closed", "backend", BackendWebSocket)
	return nil
}

func (b *WebSocketBackend) readLoop(ctx context.Context, ws *websocket.Conn, sessionID, userID string) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "Push connection read error", "error", err)
			}
			return
		}

		var msg domain.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.WarnContext(ctx, "Dropping malformed push message", "error", err, "size", len(data))
			if b.metrics != nil {
				b.metrics.MalformedMessages.Inc()
			}
			continue
		}

		b.hub.Touch(sessionID, userID)
		b.inbound(correlation.WithNewID(ctx), sessionID, userID, msg)
	}
}

func (b *WebSocketBackend) reject(ws *websocket.Conn, code int, reason, metricReason string) {
	if b.metrics != nil {
		b.metrics.RejectedConnections.WithLabelValues(metricReason).Inc()
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	_ = ws.WriteMessage(websocket.TextMessage, []byte(reason))
	_ = (&wsConn{ws: ws}).closeWith(code, reason)
}

// wsConn adapts a gorilla connection to Conn and Prober. Data frames are
// written only by the connection's clientWriter; control frames may be
// written from any goroutine.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Write(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) CloseWithReason(reason string) error {
	return c.closeWith(websocket.CloseNormalClosure, reason)
}

func (c *wsConn) closeWith(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
	return c.ws.Close()
}
