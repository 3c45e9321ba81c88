package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pscheid92/flowcollab/internal/domain"
	"github.com/pscheid92/flowcollab/internal/platform/correlation"
	goredis "github.com/redis/go-redis/v9"
)

// SavedChannel carries JSON-encoded domain.WorkflowSaved notifications from
// the persistence service.
const SavedChannel = "workflow:saved"

type SavedHandler interface {
	Saved(ctx context.Context, saved domain.WorkflowSaved) error
}

type SavedSubscriber struct {
	rdb     *goredis.Client
	handler SavedHandler
}

func NewSavedSubscriber(rdb *goredis.Client, handler SavedHandler) *SavedSubscriber {
	return &SavedSubscriber{rdb: rdb, handler: handler}
}

// Start blocks until ctx is cancelled or the subscription is closed.
func (s *SavedSubscriber) Start(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, SavedChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			s.handleMessage(correlation.WithNewID(ctx), msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *SavedSubscriber) handleMessage(ctx context.Context, payload string) {
	var saved domain.WorkflowSaved
	if err := json.Unmarshal([]byte(payload), &saved); err != nil {
		slog.WarnContext(ctx, "Dropping malformed workflow saved message", "error", err)
		return
	}
	if saved.WorkflowID == "" {
		slog.WarnContext(ctx, "Dropping workflow saved message without workflow id")
		return
	}

	if err := s.handler.Saved(ctx, saved); err != nil {
		slog.ErrorContext(ctx, "Failed to handle workflow saved message", "workflow_id", saved.WorkflowID, "error", err)
		return
	}
	slog.DebugContext(ctx, "Workflow saved via pub/sub", "workflow_id", saved.WorkflowID)
}

// SavedPublisher fans save notifications received over HTTP out to every
// instance through SavedChannel, including this one via its own subscriber.
// If the publish fails the notification is applied locally only.
type SavedPublisher struct {
	rdb   *goredis.Client
	local SavedHandler
}

func NewSavedPublisher(rdb *goredis.Client, local SavedHandler) *SavedPublisher {
	return &SavedPublisher{rdb: rdb, local: local}
}

func (p *SavedPublisher) Saved(ctx context.Context, saved domain.WorkflowSaved) error {
	if err := PublishSaved(ctx, p.rdb, saved); err != nil {
		slog.WarnContext(ctx, "Failed to fan out workflow saved, applying locally", "workflow_id", saved.WorkflowID, "error", err)
		return p.local.Saved(ctx, saved)
	}
	return nil
}

func PublishSaved(ctx context.Context, rdb *goredis.Client, saved domain.WorkflowSaved) error {
	data, err := json.Marshal(saved)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow saved message: %w", err)
	}
	if err := rdb.Publish(ctx, SavedChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish workflow saved message: %w", err)
	}
	return nil
}
