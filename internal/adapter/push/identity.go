package push

import (
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/pscheid92/flowcollab/internal/domain"
)

const (
	SessionCookieName = "flowcollab-auth"
	SessionKeyUserID  = "user_id"
)

// IdentityResolver determines the authenticated user behind a connect request.
type IdentityResolver interface {
	ResolveUser(r *http.Request) (string, error)
}

// CookieIdentity reads the user id from a signed session cookie issued by the
// editor application.
type CookieIdentity struct {
	store sessions.Store
}

func NewCookieIdentity(store sessions.Store) *CookieIdentity {
	return &CookieIdentity{store: store}
}

// NewCookieStore builds the session store shared with the editor application.
func NewCookieStore(secret string, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func (i *CookieIdentity) ResolveUser(r *http.Request) (string, error) {
	session, err := i.store.Get(r, SessionCookieName)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}

	userID, ok := session.Values[SessionKeyUserID].(string)
	if !ok || userID == "" {
		return "", domain.ErrUnauthenticated
	}
	return userID, nil
}
