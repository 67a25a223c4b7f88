// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
)

// AuthBackend is the hosted authentication service as seen from one
// rendering context.
type AuthBackend interface {
	// GetCurrentSession returns the stored session, or nil when signed out.
	GetCurrentSession(ctx context.Context) (*domain.Session, error)
	// SignInWithPassword fails with *domain.CredentialError on rejection.
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Account, error)
	SignOut(ctx context.Context) error
	// Subscribe registers fn for auth events. Events for one subscriber are
	// delivered in order, one at a time.
	Subscribe(fn func(domain.AuthEvent)) (Subscription, error)
}

// Subscription is a handle on an auth event registration.
type Subscription interface {
	// Unsubscribe stops delivery. No callback starts after it returns.
	Unsubscribe()
}

// ProfileStore loads the application profile for an account, joined to
// its tenant. A missing row is reported as *domain.ErrNotFound.
type ProfileStore interface {
	FetchProfile(ctx context.Context, accountID string) (*domain.Profile, error)
}

// SessionStorage persists the tokens of one rendering context.
type SessionStorage interface {
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context) (*domain.Session, error)
	Save(ctx context.Context, s *domain.Session) error
	Clear(ctx context.Context) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
