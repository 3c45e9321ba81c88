package push

import (
	"slices"

	"github.com/google/uuid"
)

// Addressing selects which of a user's sessions receive user-directed sends.
type Addressing string

const (
	// AddressNewest delivers to the session the user was most recently seen on.
	AddressNewest Addressing = "newest"
	// AddressAll delivers to every live session the user was seen on.
	AddressAll Addressing = "all"
)

type connection struct {
	id        uuid.UUID
	sessionID string
	userID    string
	backend   string
	writer    *clientWriter
	conn      Conn
	alive     bool
}

// Registry tracks live connections by session id and the sessions each user
// was seen on. It is not safe for concurrent use; the Hub goroutine owns it.
type Registry struct {
	connections    map[string]*connection
	sessionsByUser map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		connections:    make(map[string]*connection),
		sessionsByUser: make(map[string][]string),
	}
}

// Add stores c under its session id and returns the connection it displaced, if any.
func (r *Registry) Add(c *connection) *connection {
	displaced := r.connections[c.sessionID]
	r.connections[c.sessionID] = c
	r.Touch(c.userID, c.sessionID)
	return displaced
}

// Remove deletes the connection for sessionID if its id matches. A newer
// connection that displaced it under the same session id is left alone.
func (r *Registry) Remove(sessionID string, id uuid.UUID) (*connection, bool) {
	c, ok := r.connections[sessionID]
	if !ok || c.id != id {
		return nil, false
	}
	delete(r.connections, sessionID)
	return c, true
}

func (r *Registry) Get(sessionID string) (*connection, bool) {
	c, ok := r.connections[sessionID]
	return c, ok
}

func (r *Registry) ForEach(fn func(c *connection)) {
	for _, c := range r.connections {
		fn(c)
	}
}

func (r *Registry) Len() int {
	return len(r.connections)
}

// Touch marks sessionID as the most recent session of userID.
func (r *Registry) Touch(userID, sessionID string) {
	sessions := r.sessionsByUser[userID]
	if i := slices.Index(sessions, sessionID); i >= 0 {
		sessions = slices.Delete(sessions, i, i+1)
	}
	r.sessionsByUser[userID] = append(sessions, sessionID)
}

// SessionsFor resolves the live sessions a user-directed send should reach,
// most recent first. Under AddressNewest only the most recently seen session
// counts; if it is gone the send is dropped even when an older one is live.
func (r *Registry) SessionsFor(userID string, addressing Addressing) []string {
	sessions := r.sessionsByUser[userID]
	if len(sessions) == 0 {
		return nil
	}

	if addressing != AddressAll {
		newest := sessions[len(sessions)-1]
		if !r.ownedBy(newest, userID) {
			return nil
		}
		return []string{newest}
	}

	var live []string
	for i := len(sessions) - 1; i >= 0; i-- {
		if r.ownedBy(sessions[i], userID) {
			live = append(live, sessions[i])
		}
	}
	return live
}

func (r *Registry) ownedBy(sessionID, userID string) bool {
	c, ok := r.connections[sessionID]
	return ok && c.userID == userID
}

// HasUser reports whether userID owns at least one live connection.
func (r *Registry) HasUser(userID string) bool {
	for _, c := range r.connections {
		if c.userID == userID {
			return true
		}
	}
	return false
}
