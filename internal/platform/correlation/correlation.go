package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

type (
	idKey      struct{}
	sessionKey struct{}
)

type session struct {
	sessionID string
	userID    string
}

// NewID generates an 8-character hex correlation ID (4 random bytes).
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithID returns a new context carrying the given correlation ID.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey{}, id)
}

// WithNewID is shorthand for WithID(ctx, NewID()).
func WithNewID(ctx context.Context) context.Context {
	return WithID(ctx, NewID())
}

// ID extracts the correlation ID from ctx, returning ("", false) if not present.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idKey{}).(string)
	return id, ok && id != ""
}

// WithSession tags ctx with the push session and the user owning it, so every
// log line emitted while handling that connection can be traced back to it.
func WithSession(ctx context.Context, sessionID, userID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, session{sessionID: sessionID, userID: userID})
}

// Session returns the session and user ids stored by WithSession.
func Session(ctx context.Context) (sessionID, userID string, ok bool) {
	s, ok := ctx.Value(sessionKey{}).(session)
	if !ok {
		return "", "", false
	}
	return s.sessionID, s.userID, true
}

// Handler wraps an existing slog.Handler and injects "correlation_id",
// "session_id" and "user_id" attributes taken from the record's context.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if sessionID, userID, ok := Session(ctx); ok {
		r.AddAttrs(slog.String("session_id", sessionID), slog.String("user_id", userID))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
