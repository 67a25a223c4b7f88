package domain

import "time"

// ============================================================
// Authentication identity (GoTrue user + session)
// ============================================================

// Account is the authenticated identity as reported by the auth backend.
// It carries no application role; that lives on the Profile.
type Account struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	AppMetadata      map[string]any `json:"appMetadata,omitempty"`
	UserMetadata     map[string]any `json:"userMetadata,omitempty"`
	EmailConfirmedAt *time.Time     `json:"emailConfirmedAt,omitempty"`
	LastSignInAt     *time.Time     `json:"lastSignInAt,omitempty"`
}

// Session is a live authenticated session.
type Session struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"tokenType"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Account      Account   `json:"account"`
}

// ExpiresWithin reports whether the access token expires before now+margin.
// A zero ExpiresAt is treated as already expired.
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// AuthEventKind names a transition emitted by the auth backend.
type AuthEventKind string

const (
	EventInitialSession AuthEventKind = "INITIAL_SESSION"
	EventSignedIn       AuthEventKind = "SIGNED_IN"
	EventSignedOut      AuthEventKind = "SIGNED_OUT"
	EventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEventKind = "USER_UPDATED"
)

// AuthEvent is delivered to auth subscribers. Session is nil when the
// event leaves the context signed out.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}
