package domain

// UserPresence is one user's entry in a workflow's presence list.
type UserPresence struct {
	UserID            string
	FocusedElementIDs []string
}

// PresenceSnapshot is a deep copy of the presence state of every workflow.
// Version increases with every mutation.
type PresenceSnapshot struct {
	Version   uint64
	Workflows map[string][]UserPresence
}

// UserIDs returns the distinct user ids across all workflows in unspecified order.
func (s PresenceSnapshot) UserIDs() []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, users := range s.Workflows {
		for _, u := range users {
			if _, ok := seen[u.UserID]; ok {
				continue
			}
			seen[u.UserID] = struct{}{}
			ids = append(ids, u.UserID)
		}
	}
	return ids
}
