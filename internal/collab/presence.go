package collab

import (
	"slices"
	"sync"

	"github.com/pscheid92/flowcollab/internal/domain"
)

// PresenceTracker records which users have each workflow open and which
// elements they focus. Users keep the order in which they opened a workflow.
type PresenceTracker struct {
	mu        sync.Mutex
	workflows map[string][]domain.UserPresence
	version   uint64
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{workflows: make(map[string][]domain.UserPresence)}
}

// Open adds userID to the workflow unless already present.
func (p *PresenceTracker) Open(workflowID, userID string) domain.PresenceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	users := p.workflows[workflowID]
	if indexOf(users, userID) < 0 {
		p.workflows[workflowID] = append(users, domain.UserPresence{UserID: userID, FocusedElementIDs: []string{}})
		p.version++
	}
	return p.snapshotLocked()
}

// Close removes userID from the workflow. known is false when the workflow had
// no presence at all; emptied is true when this removed its last user.
func (p *PresenceTracker) Close(workflowID, userID string) (snap domain.PresenceSnapshot, known, emptied bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, ok := p.workflows[workflowID]
	if !ok {
		return domain.PresenceSnapshot{}, false, false
	}

	if i := indexOf(users, userID); i >= 0 {
		users = slices.Delete(users, i, i+1)
		p.version++
	}
	if len(users) == 0 {
		delete(p.workflows, workflowID)
		emptied = true
	} else {
		p.workflows[workflowID] = users
	}
	return p.snapshotLocked(), true, emptied
}

// Focus replaces the focused elements of userID in the workflow. It reports
// false and changes nothing when the workflow or user is not present.
func (p *PresenceTracker) Focus(workflowID, userID string, elementIDs []string) (domain.PresenceSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, ok := p.workflows[workflowID]
	if !ok {
		return domain.PresenceSnapshot{}, false
	}
	i := indexOf(users, userID)
	if i < 0 {
		return domain.PresenceSnapshot{}, false
	}

	users[i].FocusedElementIDs = dedupe(elementIDs)
	p.version++
	return p.snapshotLocked(), true
}

// RemoveUser drops userID from every workflow and returns the workflows that
// became empty as a result. changed is false when the user was nowhere present.
func (p *PresenceTracker) RemoveUser(userID string) (snap domain.PresenceSnapshot, emptied []string, changed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for workflowID, users := range p.workflows {
		i := indexOf(users, userID)
		if i < 0 {
			continue
		}
		changed = true
		users = slices.Delete(users, i, i+1)
		if len(users) == 0 {
			delete(p.workflows, workflowID)
			emptied = append(emptied, workflowID)
			continue
		}
		p.workflows[workflowID] = users
	}

	if changed {
		p.version++
	}
	return p.snapshotLocked(), emptied, changed
}

func (p *PresenceTracker) Snapshot() domain.PresenceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Has reports whether at least one user has the workflow open.
func (p *PresenceTracker) Has(workflowID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.workflows[workflowID]
	return ok
}

// Len returns the number of workflows with at least one user.
func (p *PresenceTracker) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workflows)
}

func (p *PresenceTracker) snapshotLocked() domain.PresenceSnapshot {
	workflows := make(map[string][]domain.UserPresence, len(p.workflows))
	for workflowID, users := range p.workflows {
		copied := make([]domain.UserPresence, len(users))
		for i, u := range users {
			copied[i] = domain.UserPresence{UserID: u.UserID, FocusedElementIDs: slices.Clone(u.FocusedElementIDs)}
		}
		workflows[workflowID] = copied
	}
	return domain.PresenceSnapshot{Version: p.version, Workflows: workflows}
}

func indexOf(users []domain.UserPresence, userID string) int {
	return slices.IndexFunc(users, func(u domain.UserPresence) bool { return u.UserID == userID })
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
