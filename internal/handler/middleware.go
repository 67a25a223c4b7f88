package handler

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/observability"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/sessionstore"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/port"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/service"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

type contextKey string

const resolverKey contextKey = "sessionResolver"

const defaultResolveTimeout = 5 * time.Second

// AuthBackendFactory builds the auth backend of one request on top of the
// request's cookie storage.
type AuthBackendFactory func(storage port.SessionStorage) port.AuthBackend

// SessionConfig configures the per-request session middleware.
type SessionConfig struct {
	NewAuthBackend AuthBackendFactory
	Profiles       port.ProfileStore
	Cookies        sessions.Store
	// ResolveTimeout bounds how long a request waits for its session.
	ResolveTimeout time.Duration
}

// SessionMiddleware gives every request its own SessionResolver, backed by
// the request's session cookie, and waits for it to settle before calling
// next. The resolver is closed when the request ends.
func SessionMiddleware(cfg SessionConfig, metrics *observability.Metrics, logger *zap.Logger) func(http.Handler) http.Handler {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = defaultResolveTimeout
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), "SessionMiddleware")
			defer span.End()

			storage := sessionstore.NewCookie(cfg.Cookies, w, r)
			resolver := service.NewSessionResolver(
				cfg.NewAuthBackend(storage),
				cfg.Profiles,
				service.SessionResolverConfig{ResolveTimeout: cfg.ResolveTimeout},
				metrics,
				logger,
			)
			defer resolver.Close()

			if err := resolver.Initialize(ctx); err != nil {
				span.RecordError(err)
				handleServiceError(w, err, logger)
				return
			}

			waitCtx, cancel := context.WithTimeout(ctx, cfg.ResolveTimeout)
			_, err := resolver.Await(waitCtx, domain.SessionState.Settled)
			cancel()
			if err != nil {
				span.RecordError(err)
				handleServiceError(w, err, logger)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, resolverKey, resolver)))
		})
	}
}

// TrustedRealIP applies chi's RealIP only to requests whose socket peer is
// in trusted. Anyone else could pick a new address per request.
func TrustedRealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		forwarded := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fromTrustedPeer(r.RemoteAddr, trusted) {
				forwarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func fromTrustedPeer(remoteAddr string, trusted []netip.Prefix) bool {
	ap, err := netip.ParseAddrPort(remoteAddr)
	if err != nil {
		return false
	}
	addr := ap.Addr().Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ResolverFromContext returns the request's SessionResolver, or nil
// outside SessionMiddleware.
func ResolverFromContext(ctx context.Context) *service.SessionResolver {
	r, _ := ctx.Value(resolverKey).(*service.SessionResolver)
	return r
}

// sessionState is the settled state of the request's resolver.
func sessionState(r *http.Request) domain.SessionState {
	if resolver := ResolverFromContext(r.Context()); resolver != nil {
		return resolver.State()
	}
	return domain.SessionState{}
}
