package sessionstore

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"

	"github.com/gorilla/sessions"
)

// CookieName is the browser cookie holding the tokens.
const CookieName = "ds_session"

const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyTokenType    = "token_type"
	keyExpiresAt    = "expires_at"
	keyAccountID    = "account_id"
	keyEmail        = "email"
)

// Cookie stores the session of one HTTP request/response pair. Only the
// tokens and the account id and email are kept; the rest of the account is
// re-read from GoTrue.
type Cookie struct {
	store sessions.Store
	r     *http.Request
	w     http.ResponseWriter

	mu sync.Mutex
	// maxAge is the cookie lifetime before any Clear in this request.
	maxAge int
	seen   bool
}

// NewCookie binds store to one request and its response writer.
func NewCookie(store sessions.Store, w http.ResponseWriter, r *http.Request) *Cookie {
	return &Cookie{store: store, r: r, w: w}
}

// session returns the request's gorilla session. A cookie that fails to
// decode (rotated secret, tampering) comes back empty and is overwritten on
// the next Save.
func (c *Cookie) session() *sessions.Session {
	s, _ := c.store.Get(c.r, CookieName)
	if s == nil {
		s = sessions.NewSession(c.store, CookieName)
		s.IsNew = true
	}
	if s.Options == nil {
		s.Options = &sessions.Options{Path: "/"}
	}
	if !c.seen {
		c.maxAge = s.Options.MaxAge
		c.seen = true
	}
	return s
}

func (c *Cookie) Load(_ context.Context) (*domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session()
	access, _ := s.Values[keyAccessToken].(string)
	if access == "" {
		return nil, nil
	}
	refresh, _ := s.Values[keyRefreshToken].(string)
	tokenType, _ := s.Values[keyTokenType].(string)
	expiresAt, _ := s.Values[keyExpiresAt].(int64)
	accountID, _ := s.Values[keyAccountID].(string)
	email, _ := s.Values[keyEmail].(string)

	session := &domain.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenType,
		Account:      domain.Account{ID: accountID, Email: email},
	}
	if expiresAt > 0 {
		session.ExpiresAt = time.Unix(expiresAt, 0)
	}
	return session, nil
}

func (c *Cookie) Save(_ context.Context, session *domain.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session()
	s.Values[keyAccessToken] = session.AccessToken
	s.Values[keyRefreshToken] = session.RefreshToken
	s.Values[keyTokenType] = session.TokenType
	s.Values[keyExpiresAt] = session.ExpiresAt.Unix()
	s.Values[keyAccountID] = session.Account.ID
	s.Values[keyEmail] = session.Account.Email
	if s.Options.MaxAge < 0 {
		// Cleared earlier in this request; the cached session still
		// carries the expiry.
		s.Options.MaxAge = c.maxAge
	}
	return s.Save(c.r, c.w)
}

func (c *Cookie) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session()
	for k := range s.Values {
		delete(s.Values, k)
	}
	s.Options.MaxAge = -1
	return s.Save(c.r, c.w)
}
