package collab

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
	"github.com/pscheid92/flowcollab/internal/domain"
)

const userLookupTimeout = 2 * time.Second

// Transport delivers envelopes to connected clients.
type Transport interface {
	Broadcast(msgType domain.MessageType, data any) error
	SendToUser(msgType domain.MessageType, data any, userID string) error
	SendToSession(msgType domain.MessageType, data any, sessionID string) error
}

// Emitter turns presence and draft state into outbound messages.
type Emitter struct {
	transport Transport
	users     domain.UserDirectory
	metrics   *metrics.CollabMetrics
}

func NewEmitter(transport Transport, users domain.UserDirectory, m *metrics.CollabMetrics) *Emitter {
	if users == nil {
		users = IDOnlyDirectory{}
	}
	return &Emitter{transport: transport, users: users, metrics: m}
}

// PresencePayload resolves the profiles of every present user and builds the
// full presence message. Users the directory cannot resolve are sent with
// their id only.
func (e *Emitter) PresencePayload(ctx context.Context, snap domain.PresenceSnapshot) domain.WorkflowUsersChanged {
	lookupCtx, cancel := context.WithTimeout(ctx, userLookupTimeout)
	defer cancel()

	profiles := make(map[string]domain.User)
	if ids := snap.UserIDs(); len(ids) > 0 {
		users, err := e.users.GetByIDs(lookupCtx, ids)
		if err != nil {
			slog.WarnContext(ctx, "User lookup failed, sending presence with bare ids", "error", err, "user_count", len(ids))
		}
		for _, u := range users {
			profiles[u.ID] = u
		}
	}

	payload := domain.WorkflowUsersChanged{UsersByWorkflowID: make(map[string][]domain.WorkflowUser, len(snap.Workflows))}
	for workflowID, present := range snap.Workflows {
		list := make([]domain.WorkflowUser, 0, len(present))
		for _, p := range present {
			user, ok := profiles[p.UserID]
			if !ok {
				user = domain.User{ID: p.UserID}
			}
			focused := p.FocusedElementIDs
			if focused == nil {
				focused = []string{}
			}
			list = append(list, domain.WorkflowUser{User: user, ActiveElementID: focused})
		}
		payload.UsersByWorkflowID[workflowID] = list
	}
	return payload
}

// BroadcastPresence sends a presence message built by PresencePayload to everyone.
func (e *Emitter) BroadcastPresence(payload domain.WorkflowUsersChanged) error {
	e.count(domain.MessageWorkflowUsersChanged, "broadcast")
	if err := e.transport.Broadcast(domain.MessageWorkflowUsersChanged, payload); err != nil {
		return fmt.Errorf("failed to broadcast presence: %w", err)
	}
	return nil
}

// SendPresenceTo sends a presence message to a single session.
func (e *Emitter) SendPresenceTo(payload domain.WorkflowUsersChanged, sessionID string) error {
	e.count(domain.MessageWorkflowUsersChanged, "session")
	if err := e.transport.SendToSession(domain.MessageWorkflowUsersChanged, payload, sessionID); err != nil {
		return fmt.Errorf("failed to send presence to session %s: %w", sessionID, err)
	}
	return nil
}

// EmitDraft sends the draft to everyone.
func (e *Emitter) EmitDraft(d domain.Draft) error {
	e.count(domain.MessageWorkflowChanged, "broadcast")
	if err := e.transport.Broadcast(domain.MessageWorkflowChanged, draftMessage(d)); err != nil {
		return fmt.Errorf("failed to broadcast draft of workflow %s: %w", d.WorkflowID, err)
	}
	return nil
}

// EmitDraftTo sends the draft to one user only.
func (e *Emitter) EmitDraftTo(d domain.Draft, userID string) error {
	e.count(domain.MessageWorkflowChanged, "user")
	if err := e.transport.SendToUser(domain.MessageWorkflowChanged, draftMessage(d), userID); err != nil {
		return fmt.Errorf("failed to send draft of workflow %s to user %s: %w", d.WorkflowID, userID, err)
	}
	return nil
}

func (e *Emitter) count(msgType domain.MessageType, scope string) {
	if e.metrics != nil {
		e.metrics.Broadcasts.WithLabelValues(string(msgType), scope).Inc()
	}
}

func draftMessage(d domain.Draft) domain.WorkflowChanged {
	return domain.WorkflowChanged{
		WorkflowID:     d.WorkflowID,
		WorkflowJSON:   d.Content,
		EditedByUserID: d.EditedByUserID,
		IsSavedToDB:    d.IsPersisted,
	}
}

// IDOnlyDirectory resolves every id to a profile carrying only the id. It is
// used when no user database is configured.
type IDOnlyDirectory struct{}

func (IDOnlyDirectory) GetByIDs(_ context.Context, userIDs []string) ([]domain.User, error) {
	users := make([]domain.User, len(userIDs))
	for i, id := range userIDs {
		users[i] = domain.User{ID: id}
	}
	return users, nil
}
