package domain

import "context"

// User is the public profile of an editor as shown to peers.
// Owned by the external persistence collaborator; this service only reads it.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// UserDirectory resolves user ids to profiles. Ids that cannot be resolved
// are omitted from the result rather than reported as errors.
type UserDirectory interface {
	GetByIDs(ctx context.Context, userIDs []string) ([]User, error)
}
