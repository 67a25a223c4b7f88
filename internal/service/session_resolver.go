package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/observability"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("service")

// ErrResolverClosed is returned by operations on a closed SessionResolver.
var ErrResolverClosed = errors.New("session resolver closed")

// SessionResolverConfig tunes a SessionResolver.
type SessionResolverConfig struct {
	// ResolveTimeout bounds one profile lookup. Zero leaves only the
	// resolver lifetime and the HTTP client timeout.
	ResolveTimeout time.Duration
}

// SessionResolver turns the auth backend's session into the identity a
// rendering context works with: account, profile, role and tenant.
//
// State changes come from Initialize and from auth events. A resolution
// only lands if no event for a different identity arrived after it
// started; resolutions for the same account overwrite each other, last
// one wins.
type SessionResolver struct {
	auth     port.AuthBackend
	profiles port.ProfileStore
	cfg      SessionResolverConfig
	metrics  *observability.Metrics
	logger   *zap.Logger

	// ctx lives until Close and parents every profile lookup.
	ctx     context.Context
	cancel  context.CancelFunc
	lookups singleflight.Group

	mu    sync.Mutex
	state domain.SessionState
	// target is the account the state is converging to, "" when signed out.
	// epoch changes whenever target does.
	target      string
	epoch       uint64
	sub         port.Subscription
	initialized bool
	closed      bool
	// changed is closed and replaced on every state change.
	changed     chan struct{}
	watchers    map[uint64]chan domain.SessionState
	nextWatcher uint64
}

// NewSessionResolver creates a resolver in the loading state. Call
// Initialize to start it and Close to release it.
func NewSessionResolver(
	auth port.AuthBackend,
	profiles port.ProfileStore,
	cfg SessionResolverConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *SessionResolver {
	ctx, cancel := context.WithCancel(context.Background())
	metrics.ResolverOpened()
	return &SessionResolver{
		auth:     auth,
		profiles: profiles,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    domain.SessionState{Loading: true},
		changed:  make(chan struct{}),
		watchers: make(map[uint64]chan domain.SessionState),
	}
}

// Initialize subscribes to auth events, then resolves the current session.
// It returns once the current session is resolved, unless an auth event
// took over in the meantime. Only a subscription failure is returned.
func (r *SessionResolver) Initialize(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "SessionResolver.Initialize")
	defer span.End()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &domain.SubscriptionError{Err: ErrResolverClosed}
	}
	if r.initialized {
		r.mu.Unlock()
		return nil
	}
	r.initialized = true
	r.mu.Unlock()

	// Subscribing first means no event can slip between the check and the
	// subscription.
	sub, err := r.auth.Subscribe(r.onAuthEvent)
	if err != nil {
		span.RecordError(err)
		r.logger.Error("session: auth subscription failed", zap.Error(err))
		return &domain.SubscriptionError{Err: err}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	r.sub = sub
	since := r.epoch
	r.mu.Unlock()

	session, err := r.auth.GetCurrentSession(ctx)
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("session: current session unavailable, treating as signed out", zap.Error(err))
		session = nil
	}

	if session == nil {
		r.clearSince(since)
		return nil
	}

	epoch, ok := r.begin(session.Account.ID, since, true)
	if !ok {
		r.logger.Debug("session: initial check superseded by an auth event",
			zap.String("account_id", session.Account.ID),
		)
		return nil
	}
	r.resolveProfile(ctx, session.Account, epoch)
	return nil
}

// onAuthEvent is the subscription callback.
func (r *SessionResolver) onAuthEvent(ev domain.AuthEvent) {
	if ev.Session == nil {
		r.logger.Debug("session: auth event without session", zap.String("event", string(ev.Kind)))
		r.clear()
		return
	}

	r.logger.Debug("session: auth event",
		zap.String("event", string(ev.Kind)),
		zap.String("account_id", ev.Session.Account.ID),
	)
	epoch, ok := r.begin(ev.Session.Account.ID, 0, false)
	if !ok {
		return
	}
	r.resolveProfile(r.ctx, ev.Session.Account, epoch)
}

// begin claims the state for accountID and returns the epoch the
// resolution must still hold when it completes. With conditional set it
// backs off when the epoch moved past since to a different account.
func (r *SessionResolver) begin(accountID string, since uint64, conditional bool) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, false
	}
	if conditional && r.epoch != since && r.target != accountID {
		return 0, false
	}
	if r.target != accountID {
		r.epoch++
		r.target = accountID
	}
	return r.epoch, true
}

// resolveProfile looks up the profile of account and commits the result.
// A failed lookup keeps the account with the client role; the error is
// logged and never returned.
func (r *SessionResolver) resolveProfile(ctx context.Context, account domain.Account, epoch uint64) {
	ctx, span := tracer.Start(ctx, "SessionResolver.resolveProfile")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", account.ID))

	next := domain.SessionState{Account: &account, Role: domain.RoleClient}

	profile, err := r.lookup(ctx, account.ID)
	if err != nil {
		lookupErr := &domain.ProfileLookupError{AccountID: account.ID, Err: err}
		span.RecordError(lookupErr)
		r.logger.Warn("session: profile lookup failed, defaulting role to client",
			zap.String("account_id", account.ID),
			zap.Error(lookupErr),
		)
	} else {
		next.Profile = profile
		next.Role = profile.EffectiveRole()
		next.Tenant = profile.Tenant
	}
	span.SetAttributes(attribute.String("session.role", string(next.Role)))

	if !r.commit(epoch, next) {
		span.SetAttributes(attribute.Bool("session.stale", true))
	}
}

// lookup fetches a profile. Concurrent lookups for one account share a
// single call, bounded by the resolver lifetime rather than any caller's.
func (r *SessionResolver) lookup(ctx context.Context, accountID string) (*domain.Profile, error) {
	span := trace.SpanFromContext(ctx)

	v, err, shared := r.lookups.Do(accountID, func() (any, error) {
		lctx := trace.ContextWithSpan(r.ctx, span)
		if r.cfg.ResolveTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(lctx, r.cfg.ResolveTimeout)
			defer cancel()
		}

		p, err := r.profiles.FetchProfile(lctx, accountID)
		if err == nil && p == nil {
			err = &domain.ErrNotFound{Resource: "profile", ID: accountID}
		}

		var notFound *domain.ErrNotFound
		switch {
		case err == nil:
			r.metrics.IncrProfileLookup(observability.LookupOK)
		case errors.As(err, &notFound):
			r.metrics.IncrProfileLookup(observability.LookupNotFound)
		default:
			r.metrics.IncrProfileLookup(observability.LookupError)
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	span.SetAttributes(attribute.Bool("lookup.shared", shared))
	if err != nil {
		return nil, err
	}
	return v.(*domain.Profile), nil
}

// commit publishes next unless the resolver closed or the identity moved
// on since epoch.
func (r *SessionResolver) commit(epoch uint64, next domain.SessionState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if epoch != r.epoch {
		r.metrics.IncrStaleResolution()
		r.logger.Debug("session: dropping stale resolution",
			zap.String("account_id", next.Account.ID),
			zap.String("current_account_id", r.target),
		)
		return false
	}
	r.publishLocked(next)
	return true
}

func (r *SessionResolver) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

// clearSince clears the state only if no event moved it since epoch.
func (r *SessionResolver) clearSince(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch {
		return
	}
	r.clearLocked()
}

func (r *SessionResolver) clearLocked() {
	if r.closed {
		return
	}
	r.epoch++
	r.target = ""
	r.publishLocked(domain.SessionState{})
}

// publishLocked stores next and wakes watchers and waiters.
func (r *SessionResolver) publishLocked(next domain.SessionState) {
	r.state = next
	close(r.changed)
	r.changed = make(chan struct{})
	for _, w := range r.watchers {
		select {
		case <-w:
		default:
		}
		w <- next
	}
}

// SignIn delegates to the auth backend. State follows the SIGNED_IN event,
// not this call. Rejected credentials come back as *domain.CredentialError.
func (r *SessionResolver) SignIn(ctx context.Context, email, password string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "SessionResolver.SignIn")
	defer span.End()

	account, err := r.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return account, nil
}

// SignOut delegates to the auth backend. State follows the SIGNED_OUT event.
func (r *SessionResolver) SignOut(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "SessionResolver.SignOut")
	defer span.End()

	if err := r.auth.SignOut(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// SetAccount overwrites the account without a lookup. nil clears the
// state. A different account drops profile and tenant and gets the client
// role until the next auth event resolves it; the same account keeps them.
func (r *SessionResolver) SetAccount(account *domain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if account == nil {
		r.clearLocked()
		return
	}

	a := *account
	next := r.state
	next.Account = &a
	next.Loading = false
	if r.target != a.ID {
		r.epoch++
		r.target = a.ID
	}
	if r.state.Account == nil || r.state.Account.ID != a.ID {
		next.Profile = nil
		next.Tenant = nil
		next.Role = domain.RoleClient
	}
	if next.Role == "" {
		next.Role = domain.RoleClient
	}
	r.publishLocked(next)
}

// State returns a snapshot of the current state.
func (r *SessionResolver) State() domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *SessionResolver) IsAdmin() bool   { return r.State().IsAdmin() }
func (r *SessionResolver) IsManager() bool { return r.State().IsManager() }
func (r *SessionResolver) IsClient() bool  { return r.State().IsClient() }

// Watch returns a channel holding the latest state, starting with the
// current one. Intermediate states may be skipped. The channel is closed by
// the returned cancel func or by Close.
func (r *SessionResolver) Watch() (<-chan domain.SessionState, func()) {
	ch := make(chan domain.SessionState, 1)

	r.mu.Lock()
	ch <- r.state
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := r.nextWatcher
	r.nextWatcher++
	r.watchers[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if w, ok := r.watchers[id]; ok {
				delete(r.watchers, id)
				close(w)
			}
		})
	}
}

// Await blocks until pred holds for the state, ctx ends or the resolver
// closes, and returns the last state seen.
func (r *SessionResolver) Await(ctx context.Context, pred func(domain.SessionState) bool) (domain.SessionState, error) {
	for {
		r.mu.Lock()
		st, changed, closed := r.state, r.changed, r.closed
		r.mu.Unlock()

		if pred(st) {
			return st, nil
		}
		if closed {
			return st, ErrResolverClosed
		}

		select {
		case <-changed:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return st, &domain.ErrTimeout{Operation: "session resolution"}
			}
			return st, ctx.Err()
		}
	}
}

// Close unsubscribes from auth events and cancels in-flight lookups. Their
// results are dropped. Safe to call more than once.
func (r *SessionResolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sub := r.sub
	r.sub = nil
	close(r.changed)
	for id, w := range r.watchers {
		delete(r.watchers, id)
		close(w)
	}
	r.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	r.cancel()
	r.metrics.ResolverClosed()
}
