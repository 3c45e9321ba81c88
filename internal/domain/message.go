package domain

import "encoding/json"

type MessageType string

const (
	MessageWorkflowOpened         MessageType = "workflowOpened"
	MessageWorkflowClosed         MessageType = "workflowClosed"
	MessageWorkflowElementFocused MessageType = "workflowElementFocused"
	MessageWorkflowChanged        MessageType = "workflowChanged"

	// Outbound only.
	MessageWorkflowUsersChanged MessageType = "workflowUsersChanged"
)

// InboundMessage is the decoded form of every client-to-server message.
// Fields not used by a given Type are left empty.
type InboundMessage struct {
	Type             MessageType     `json:"type"`
	WorkflowID       string          `json:"workflowId"`
	ActiveElementIDs []string        `json:"activeElementIds,omitempty"`
	WorkflowJSON     json.RawMessage `json:"workflowJson,omitempty"`
}

// Envelope wraps every server-to-client message.
type Envelope struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

type WorkflowUser struct {
	User            User     `json:"user"`
	ActiveElementID []string `json:"activeElementId"`
}

type WorkflowUsersChanged struct {
	UsersByWorkflowID map[string][]WorkflowUser `json:"usersByWorkflowId"`
}

type WorkflowChanged struct {
	WorkflowID     string          `json:"workflowId"`
	WorkflowJSON   json.RawMessage `json:"workflowJson"`
	EditedByUserID string          `json:"editedByUserId"`
	IsSavedToDB    bool            `json:"isSavedToDb"`
}

// WorkflowSaved is the notification sent by the persistence collaborator
// after it durably stored a workflow.
type WorkflowSaved struct {
	WorkflowID    string          `json:"workflowId"`
	WorkflowJSON  json.RawMessage `json:"workflowJson"`
	SavedByUserID string          `json:"savedByUserId"`
}
