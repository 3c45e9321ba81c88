package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
	"github.com/pscheid92/flowcollab/internal/domain"
)

// Service ties presence and draft state to the emitter. It implements Handler
// and is the entry point for save notifications and disconnect cleanup.
type Service struct {
	presence *PresenceTracker
	drafts   *DraftStore
	emitter  *Emitter
	metrics  *metrics.CollabMetrics

	cleanupOnDisconnect bool

	// Serialises presence sends so a snapshot never overtakes a newer one
	// while its user lookup is in flight.
	presenceMu          sync.Mutex
	lastPresenceVersion uint64
}

type ServiceOption func(*Service)

// WithDisconnectCleanup removes a user from every workflow once their last
// connection is gone.
func WithDisconnectCleanup(enabled bool) ServiceOption {
	return func(s *Service) { s.cleanupOnDisconnect = enabled }
}

func WithMetrics(m *metrics.CollabMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func NewService(presence *PresenceTracker, drafts *DraftStore, emitter *Emitter, opts ...ServiceOption) *Service {
	s := &Service{presence: presence, drafts: drafts, emitter: emitter}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open marks userID as present in the workflow, broadcasts presence and sends
// the current draft, if any, to the opening user.
func (s *Service) Open(ctx context.Context, workflowID, userID string) error {
	snap := s.presence.Open(workflowID, userID)
	s.updateGauges()

	if err := s.broadcastPresence(ctx, snap); err != nil {
		return err
	}

	d, err := s.drafts.MustGet(workflowID)
	if errors.Is(err, domain.ErrDraftNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.emitter.EmitDraftTo(d, userID)
}

// Close removes userID from the workflow. The draft is discarded with the last user.
func (s *Service) Close(ctx context.Context, workflowID, userID string) error {
	snap, known, emptied := s.presence.Close(workflowID, userID)
	if emptied {
		s.drafts.Discard(workflowID)
	}
	s.updateGauges()

	if !known {
		return nil
	}
	return s.broadcastPresence(ctx, snap)
}

// Focus replaces the focused elements of userID. Unknown workflows and users are ignored.
func (s *Service) Focus(ctx context.Context, workflowID, userID string, elementIDs []string) error {
	snap, ok := s.presence.Focus(workflowID, userID, elementIDs)
	if !ok {
		slog.DebugContext(ctx, "Ignoring focus for workflow the user has not opened", "workflow_id", workflowID)
		return nil
	}
	return s.broadcastPresence(ctx, snap)
}

// Change records an edit and broadcasts the new draft. The draft is kept even
// when nobody has the workflow open, so the next opener receives it; drafts
// are only dropped when the last viewer leaves.
func (s *Service) Change(_ context.Context, workflowID, userID string, content json.RawMessage) error {
	d := s.drafts.Change(workflowID, userID, content)
	s.updateGauges()

	return s.emitter.EmitDraft(d)
}

// Saved clears the draft of a durably stored workflow and broadcasts the
// persisted document.
func (s *Service) Saved(ctx context.Context, saved domain.WorkflowSaved) error {
	d := s.drafts.Saved(saved.WorkflowID, saved.WorkflowJSON, saved.SavedByUserID)
	s.updateGauges()

	slog.InfoContext(ctx, "Workflow saved", "workflow_id", saved.WorkflowID, "saved_by", saved.SavedByUserID)
	return s.emitter.EmitDraft(d)
}

// SessionConnected sends the current presence to a freshly registered session
// so a reconnecting editor does not show stale viewers until the next change.
// Nothing is sent when nobody has a workflow open or when a newer snapshot has
// already been broadcast, which reached the session too.
func (s *Service) SessionConnected(ctx context.Context, sessionID string) error {
	snap := s.presence.Snapshot()
	if len(snap.Workflows) == 0 {
		return nil
	}
	payload := s.emitter.PresencePayload(ctx, snap)

	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	if snap.Version < s.lastPresenceVersion {
		return nil
	}
	return s.emitter.SendPresenceTo(payload, sessionID)
}

// UserDisconnected is called when the last connection of a user has gone away.
func (s *Service) UserDisconnected(ctx context.Context, userID string) {
	if !s.cleanupOnDisconnect {
		return
	}

	snap, emptied, changed := s.presence.RemoveUser(userID)
	for _, workflowID := range emptied {
		s.drafts.Discard(workflowID)
	}
	s.updateGauges()

	if !changed {
		return
	}
	if err := s.broadcastPresence(ctx, snap); err != nil {
		slog.ErrorContext(ctx, "Failed to broadcast presence after disconnect", "user_id", userID, "error", err)
	}
}

func (s *Service) broadcastPresence(ctx context.Context, snap domain.PresenceSnapshot) error {
	payload := s.emitter.PresencePayload(ctx, snap)

	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	if snap.Version < s.lastPresenceVersion {
		slog.DebugContext(ctx, "Skipping superseded presence snapshot",
			"version", snap.Version,
			"last_sent", s.lastPresenceVersion,
		)
		return nil
	}
	s.lastPresenceVersion = snap.Version
	return s.emitter.BroadcastPresence(payload)
}

func (s *Service) updateGauges() {
	if s.metrics == nil {
		return
	}
	s.metrics.ActiveWorkflows.Set(float64(s.presence.Len()))
	s.metrics.ActiveDrafts.Set(float64(s.drafts.Len()))
}
