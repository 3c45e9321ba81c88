package domain

import "encoding/json"

// Draft is the latest in-memory copy of a workflow document.
// IsPersisted is true only for the authoritative copy announced after a save.
type Draft struct {
	WorkflowID     string
	Content        json.RawMessage
	EditedByUserID string
	IsPersisted    bool
	Version        uint64
}
