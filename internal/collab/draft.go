package collab

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pscheid92/flowcollab/internal/domain"
)

// Merger combines an incoming edit with the current draft of a workflow.
// current is nil when the workflow has no draft yet.
type Merger interface {
	Merge(current *domain.Draft, incoming domain.Draft) domain.Draft
}

// LastWriteWins replaces the current draft with the incoming one.
type LastWriteWins struct{}

func (LastWriteWins) Merge(_ *domain.Draft, incoming domain.Draft) domain.Draft {
	return incoming
}

// DraftStore holds the latest unsaved document of each workflow.
type DraftStore struct {
	mu      sync.Mutex
	drafts  map[string]domain.Draft
	merger  Merger
	version uint64
}

func NewDraftStore(merger Merger) *DraftStore {
	if merger == nil {
		merger = LastWriteWins{}
	}
	return &DraftStore{drafts: make(map[string]domain.Draft), merger: merger}
}

// Change records an edit by userID and returns the resulting draft.
func (s *DraftStore) Change(workflowID, userID string, content json.RawMessage) domain.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	incoming := domain.Draft{WorkflowID: workflowID, Content: content, EditedByUserID: userID}

	var current *domain.Draft
	if d, ok := s.drafts[workflowID]; ok {
		current = &d
	}

	merged := s.merger.Merge(current, incoming)
	merged.WorkflowID = workflowID
	merged.IsPersisted = false
	s.version++
	merged.Version = s.version

	s.drafts[workflowID] = merged
	return merged
}

// Saved drops the draft of a workflow that was durably stored and returns the
// persisted copy that clients should converge on.
func (s *DraftStore) Saved(workflowID string, content json.RawMessage, savedByUserID string) domain.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.drafts, workflowID)
	s.version++
	return domain.Draft{
		WorkflowID:     workflowID,
		Content:        content,
		EditedByUserID: savedByUserID,
		IsPersisted:    true,
		Version:        s.version,
	}
}

// Get returns the draft of a workflow. Unknown workflows are reported as absent.
func (s *DraftStore) Get(workflowID string) (domain.Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[workflowID]
	return d, ok
}

// MustGet is Get for callers that require a draft to exist.
func (s *DraftStore) MustGet(workflowID string) (domain.Draft, error) {
	d, ok := s.Get(workflowID)
	if !ok {
		return domain.Draft{}, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrDraftNotFound)
	}
	return d, nil
}

// Discard deletes the draft of a workflow, if any.
func (s *DraftStore) Discard(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, workflowID)
}

func (s *DraftStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}
