package collab

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
	"github.com/pscheid92/flowcollab/internal/domain"
)

// Handler applies decoded inbound messages.
type Handler interface {
	Open(ctx context.Context, workflowID, userID string) error
	Close(ctx context.Context, workflowID, userID string) error
	Focus(ctx context.Context, workflowID, userID string, elementIDs []string) error
	Change(ctx context.Context, workflowID, userID string, content json.RawMessage) error
}

// Dispatcher routes inbound messages by type. It returns only after the
// message has been fully handled.
type Dispatcher struct {
	handler Handler
	metrics *metrics.CollabMetrics
}

func NewDispatcher(handler Handler, m *metrics.CollabMetrics) *Dispatcher {
	return &Dispatcher{handler: handler, metrics: m}
}

func (d *Dispatcher) HandleInbound(ctx context.Context, sessionID, userID string, msg domain.InboundMessage) {
	var err error

	switch msg.Type {
	case domain.MessageWorkflowOpened, domain.MessageWorkflowClosed,
		domain.MessageWorkflowElementFocused, domain.MessageWorkflowChanged:
	default:
		slog.DebugContext(ctx, "Ignoring unknown push message type", "message_type", msg.Type)
		return
	}

	if msg.WorkflowID == "" {
		slog.WarnContext(ctx, "Ignoring push message without workflowId", "message_type", msg.Type)
		return
	}

	if d.metrics != nil {
		d.metrics.InboundMessages.WithLabelValues(string(msg.Type)).Inc()
	}

	switch msg.Type {
	case domain.MessageWorkflowOpened:
		err = d.handler.Open(ctx, msg.WorkflowID, userID)
	case domain.MessageWorkflowClosed:
		err = d.handler.Close(ctx, msg.WorkflowID, userID)
	case domain.MessageWorkflowElementFocused:
		err = d.handler.Focus(ctx, msg.WorkflowID, userID, msg.ActiveElementIDs)
	case domain.MessageWorkflowChanged:
		err = d.handler.Change(ctx, msg.WorkflowID, userID, msg.WorkflowJSON)
	}

	if err != nil {
		slog.ErrorContext(ctx, "Failed to handle push message",
			"message_type", msg.Type,
			"workflow_id", msg.WorkflowID,
			"session_id", sessionID,
			"error", err,
		)
	}
}
