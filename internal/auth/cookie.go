package auth

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

// Keys stored in the signed session cookie
const (
	cookieKeySessionID     = "session_id"
	cookieKeyAuthenticated = "authenticated"
	cookieKeyLoginTime     = "login_time"
)

// CookieState is what the browser holds for an admin session. The database
// row remains the source of truth.
type CookieState struct {
	SessionID     string
	Authenticated bool
	LoginTime     string
}

// SessionCookie binds admin session IDs into a signed, HTTP-only cookie
type SessionCookie struct {
	store *sessions.CookieStore
	name  string
}

// NewSessionCookie creates a SessionCookie signed with secret
func NewSessionCookie(secret []byte, name string, secure bool) *SessionCookie {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   0,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionCookie{store: store, name: name}
}

// Bind writes the session ID, the authenticated marker and the login time
// into the response cookie
func (c *SessionCookie) Bind(w http.ResponseWriter, r *http.Request, sessionID string, loginTime time.Time) error {
	// A cookie that fails to decode yields a fresh session, which is what we want.
	session, _ := c.store.Get(r, c.name)
	session.Values[cookieKeySessionID] = sessionID
	session.Values[cookieKeyAuthenticated] = true
	session.Values[cookieKeyLoginTime] = loginTime.Format(time.RFC3339)
	return session.Save(r, w)
}

// Read returns the cookie state of the request. ok is false when no valid
// signed cookie is present.
func (c *SessionCookie) Read(r *http.Request) (CookieState, bool) {
	session, err := c.store.Get(r, c.name)
	if err != nil || session.IsNew {
		return CookieState{}, false
	}

	id, _ := session.Values[cookieKeySessionID].(string)
	authenticated, _ := session.Values[cookieKeyAuthenticated].(bool)
	loginTime, _ := session.Values[cookieKeyLoginTime].(string)

	state := CookieState{SessionID: id, Authenticated: authenticated, LoginTime: loginTime}
	return state, id != "" && authenticated
}

// Clear expires the cookie on the client
func (c *SessionCookie) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := c.store.Get(r, c.name)
	session.Values = map[interface{}]interface{}{}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}
