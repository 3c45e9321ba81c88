package domain

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDraftNotFound      = errors.New("draft not found")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrMissingSessionID   = errors.New(`the query parameter "sessionId" is missing`)
	ErrTooManyConnections = errors.New("too many connections")
	ErrHubStopped         = errors.New("hub stopped")
)
