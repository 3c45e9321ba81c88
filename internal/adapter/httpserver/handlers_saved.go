package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/flowcollab/internal/domain"
	apperrors "github.com/pscheid92/flowcollab/internal/platform/errors"
)

type savedRequest struct {
	WorkflowJSON  json.RawMessage `json:"workflowJson"`
	SavedByUserID string          `json:"savedByUserId"`
}

// handleSaved receives the persistence service's notification that a
// workflow was stored and announces the persisted copy to every editor.
func (s *Server) handleSaved(c echo.Context) error {
	workflowID := c.Param("id")
	if workflowID == "" {
		return apperrors.ValidationError("workflow id is required")
	}

	var req savedRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperrors.ValidationError("invalid request body").WithContext("workflow_id", workflowID)
	}
	if len(req.WorkflowJSON) == 0 || string(req.WorkflowJSON) == "null" {
		return apperrors.ValidationError("workflowJson is required").WithContext("workflow_id", workflowID)
	}

	saved := domain.WorkflowSaved{
		WorkflowID:    workflowID,
		WorkflowJSON:  req.WorkflowJSON,
		SavedByUserID: req.SavedByUserID,
	}
	if err := s.saved.Saved(c.Request().Context(), saved); err != nil {
		return apperrors.InternalError("failed to announce saved workflow", err).WithContext("workflow_id", workflowID)
	}

	return c.NoContent(http.StatusNoContent)
}
