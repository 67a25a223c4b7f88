package supabase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/observability"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/port"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// AuthSessionConfig tunes an AuthSession.
type AuthSessionConfig struct {
	// JWTSecret verifies access token signatures when set.
	JWTSecret string
	// RefreshMargin refreshes tokens that expire within this window.
	RefreshMargin time.Duration
	Clock         clockwork.Clock
}

// AuthSession implements port.AuthBackend for one rendering context (an
// HTTP request, a CLI invocation) on top of the shared GoTrue API. Its
// tokens live in the context's SessionStorage.
type AuthSession struct {
	api     AuthAPI
	storage port.SessionStorage
	cfg     AuthSessionConfig
	metrics *observability.Metrics
	logger  *zap.Logger

	// mu serializes every storage mutation and the events it emits.
	mu  sync.Mutex
	hub *eventHub

	// initialized is set once the stored session has been validated, or
	// replaced by a sign-in or sign-out. current is the last known session.
	initialized bool
	current     *domain.Session
}

// NewAuthSession creates the auth backend of one rendering context.
func NewAuthSession(api AuthAPI, storage port.SessionStorage, cfg AuthSessionConfig, metrics *observability.Metrics, logger *zap.Logger) *AuthSession {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &AuthSession{
		api:     api,
		storage: storage,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		hub:     newEventHub(),
	}
}

// emit must be called with mu held.
func (s *AuthSession) emit(kind domain.AuthEventKind, session *domain.Session) {
	s.metrics.IncrAuthEvent(kind)
	s.hub.emit(domain.AuthEvent{Kind: kind, Session: session})
}

// settle records the validated session. The first call emits
// INITIAL_SESSION to the subscribers registered before validation ended.
// mu must be held.
func (s *AuthSession) settle(session *domain.Session) {
	s.current = session
	if s.initialized {
		return
	}
	s.initialized = true
	s.emit(domain.EventInitialSession, session)
}

// discard drops a session GoTrue no longer accepts. mu must be held.
func (s *AuthSession) discard(ctx context.Context, reason string, cause error) {
	s.logger.Info("auth: dropping stored session",
		zap.String("reason", reason),
		zap.Error(cause),
	)
	if err := s.storage.Clear(ctx); err != nil {
		s.logger.Warn("auth: failed to clear session storage", zap.Error(err))
	}
	s.emit(domain.EventSignedOut, nil)
	s.settle(nil)
}

// GetCurrentSession returns the stored session after refreshing it when
// it is about to expire and re-validating its user with GoTrue. A session
// GoTrue rejects is cleared, SIGNED_OUT is emitted and nil is returned.
// The first successful validation also emits INITIAL_SESSION.
func (s *AuthSession) GetCurrentSession(ctx context.Context) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "AuthSession.GetCurrentSession")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.storage.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		s.settle(nil)
		return nil, nil
	}

	claims, err := ParseAccessToken(session.AccessToken, s.cfg.JWTSecret)
	if err != nil {
		s.discard(ctx, "unreadable access token", err)
		return nil, nil
	}
	if session.Account.ID != "" && claims.Subject != session.Account.ID {
		s.discard(ctx, "access token subject mismatch", nil)
		return nil, nil
	}
	if session.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}

	refreshed := false
	if session.ExpiresWithin(s.cfg.Clock.Now(), s.cfg.RefreshMargin) {
		next, err := s.api.RefreshSession(ctx, session.RefreshToken)
		if err != nil {
			if IsSessionRejected(err) {
				s.discard(ctx, "refresh token rejected", err)
				return nil, nil
			}
			return nil, err
		}
		session = next
		refreshed = true
	}

	account, err := s.api.GetUser(ctx, session.AccessToken)
	if err != nil {
		if IsSessionRejected(err) {
			s.discard(ctx, "access token rejected", err)
			return nil, nil
		}
		return nil, err
	}
	changed := session.Account.Email != account.Email
	session.Account = *account

	if refreshed || changed {
		if err := s.storage.Save(ctx, session); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
	}
	switch {
	case refreshed:
		s.emit(domain.EventTokenRefreshed, session)
	case changed:
		s.emit(domain.EventUserUpdated, session)
	}
	s.settle(session)
	return session, nil
}

// SignInWithPassword authenticates, stores the session and emits SIGNED_IN.
func (s *AuthSession) SignInWithPassword(ctx context.Context, email, password string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "AuthSession.SignInWithPassword")
	defer span.End()

	session, err := s.api.SignInWithPassword(ctx, email, password)
	if err != nil {
		var credErr *domain.CredentialError
		if errors.As(err, &credErr) {
			s.logger.Info("auth: credentials rejected", zap.String("code", credErr.Code))
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	s.emit(domain.EventSignedIn, session)
	s.current = session
	s.initialized = true

	account := session.Account
	return &account, nil
}

// SignOut revokes the session with GoTrue, clears storage and emits
// SIGNED_OUT. Signing out with nothing stored still emits SIGNED_OUT.
func (s *AuthSession) SignOut(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "AuthSession.SignOut")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.storage.Load(ctx)
	if err != nil {
		s.logger.Warn("auth: failed to load session for sign out", zap.Error(err))
	}
	if session != nil {
		if err := s.api.Logout(ctx, session.AccessToken); err != nil {
			return err
		}
	}

	if err := s.storage.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.emit(domain.EventSignedOut, nil)
	s.current = nil
	s.initialized = true
	return nil
}

// Subscribe registers fn. Its first event is INITIAL_SESSION carrying the
// validated session: immediately when GetCurrentSession already ran, else
// as soon as it completes. A sign-in or sign-out before that replaces it.
func (s *AuthSession) Subscribe(fn func(domain.AuthEvent)) (port.Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("nil auth event callback")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return s.hub.add(fn, nil), nil
	}
	return s.hub.add(fn, &domain.AuthEvent{Kind: domain.EventInitialSession, Session: s.current}), nil
}

// Subscribers returns the number of live subscriptions.
func (s *AuthSession) Subscribers() int {
	return s.hub.count()
}
