package collab

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/pscheid92/flowcollab/internal/domain"
	"github.com/stretchr/testify/require"
)

type sent struct {
	msgType domain.MessageType
	data    any
}

// fakeTransport delivers messages to per-user inboxes of connected users.
type fakeTransport struct {
	mu        sync.Mutex
	connected []string
	inboxes   map[string][]sent
	sessions  map[string][]sent
	err       error
}

func newFakeTransport(users ...string) *fakeTransport {
	t := &fakeTransport{inboxes: make(map[string][]sent), sessions: make(map[string][]sent)}
	for _, u := range users {
		t.connect(u)
	}
	return t
}

func (t *fakeTransport) connect(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !slices.Contains(t.connected, userID) {
		t.connected = append(t.connected, userID)
	}
}

func (t *fakeTransport) Broadcast(msgType domain.MessageType, data any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	for _, u := range t.connected {
		t.inboxes[u] = append(t.inboxes[u], sent{msgType: msgType, data: data})
	}
	return nil
}

func (t *fakeTransport) SendToUser(msgType domain.MessageType, data any, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	if slices.Contains(t.connected, userID) {
		t.inboxes[userID] = append(t.inboxes[userID], sent{msgType: msgType, data: data})
	}
	return nil
}

func (t *fakeTransport) SendToSession(msgType domain.MessageType, data any, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sessions[sessionID] = append(t.sessions[sessionID], sent{msgType: msgType, data: data})
	return nil
}

// drainSession returns and clears everything sent directly to sessionID.
func (t *fakeTransport) drainSession(sessionID string) []sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	return msgs
}

// drain returns and clears everything delivered to userID.
func (t *fakeTransport) drain(userID string) []sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.inboxes[userID]
	delete(t.inboxes, userID)
	return msgs
}

type fakeDirectory struct {
	users map[string]domain.User
	err   error
	calls int
	mu    sync.Mutex
}

func (d *fakeDirectory) GetByIDs(_ context.Context, userIDs []string) ([]domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	var out []domain.User
	for _, id := range userIDs {
		if u, ok := d.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

var errTransport = errors.New("transport down")

// presenceOf extracts workflowId -> user ids from a presence message.
func presenceOf(t *testing.T, msg sent) map[string][]string {
	t.Helper()
	require.Equal(t, domain.MessageWorkflowUsersChanged, msg.msgType)
	payload, ok := msg.data.(domain.WorkflowUsersChanged)
	require.True(t, ok)

	out := make(map[string][]string)
	for workflowID, users := range payload.UsersByWorkflowID {
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.User.ID)
		}
		out[workflowID] = ids
	}
	return out
}

func draftOf(t *testing.T, msg sent) domain.WorkflowChanged {
	t.Helper()
	require.Equal(t, domain.MessageWorkflowChanged, msg.msgType)
	payload, ok := msg.data.(domain.WorkflowChanged)
	require.True(t, ok)
	return payload
}

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}
