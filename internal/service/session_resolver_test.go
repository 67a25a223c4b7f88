package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/observability"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/port"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/service"

	"go.uber.org/zap"
)

const (
	accountA = "6f1c2a52-7a51-4d39-9a3e-8c1f0c1f2b11"
	accountB = "9d2e4b63-1c7f-4a8e-b5d0-2f3a4b5c6d72"
)

// --- Mocks ---

type mockSubscription struct {
	backend *mockAuthBackend
}

func (s *mockSubscription) Unsubscribe() {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.unsubscribed++
	s.backend.fn = nil
}

type mockAuthBackend struct {
	mu sync.Mutex

	session    *domain.Session
	sessionErr error

	subscribeErr error
	subscribed   int
	unsubscribed int
	fn           func(domain.AuthEvent)

	signInAccount *domain.Account
	signInErr     error
	signOutErr    error
	signIns       int
	signOuts      int
}

func (m *mockAuthBackend) GetCurrentSession(_ context.Context) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.sessionErr
}

func (m *mockAuthBackend) SignInWithPassword(_ context.Context, _, _ string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signIns++
	return m.signInAccount, m.signInErr
}

func (m *mockAuthBackend) SignOut(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signOuts++
	return m.signOutErr
}

func (m *mockAuthBackend) Subscribe(fn func(domain.AuthEvent)) (port.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	m.subscribed++
	m.fn = fn
	return &mockSubscription{backend: m}, nil
}

// emit delivers ev on the calling goroutine, like one delivery goroutine
// of the real backend would.
func (m *mockAuthBackend) emit(ev domain.AuthEvent) {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

type mockProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
	errs     map[string]error
	gates    map[string]chan struct{}
	started  chan string
	calls    atomic.Int32
}

func newMockProfileStore() *mockProfileStore {
	return &mockProfileStore{
		profiles: make(map[string]*domain.Profile),
		errs:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
		started:  make(chan string, 16),
	}
}

func (m *mockProfileStore) set(p *domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

// hold makes lookups for id block until the returned func is called.
func (m *mockProfileStore) hold(id string) func() {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gates[id] = gate
	m.mu.Unlock()
	return func() { close(gate) }
}

func (m *mockProfileStore) FetchProfile(ctx context.Context, id string) (*domain.Profile, error) {
	m.calls.Add(1)
	m.mu.Lock()
	p, err, gate := m.profiles[id], m.errs[id], m.gates[id]
	m.mu.Unlock()

	m.started <- id
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: id}
	}
	cp := *p
	return &cp, nil
}

// --- Helpers ---

func sessionFor(id string) *domain.Session {
	return &domain.Session{
		AccessToken: "token-" + id,
		ExpiresAt:   time.Now().Add(time.Hour),
		Account:     domain.Account{ID: id, Email: id + "@example.com"},
	}
}

func profileFor(id string, role domain.Role) *domain.Profile {
	return &domain.Profile{
		ID:       id,
		Email:    id + "@example.com",
		Role:     role,
		TenantID: "company-1",
		Tenant:   &domain.Tenant{ID: "company-1", Name: "Acme", Status: domain.TenantActive},
	}
}

func newResolver(auth port.AuthBackend, profiles port.ProfileStore) (*service.SessionResolver, *observability.Metrics) {
	metrics := observability.NewMetrics()
	r := service.NewSessionResolver(auth, profiles, service.SessionResolverConfig{ResolveTimeout: time.Second}, metrics, zap.NewNop())
	return r, metrics
}

func waitStarted(t *testing.T, store *mockProfileStore, id string) {
	t.Helper()
	select {
	case got := <-store.started:
		if got != id {
			t.Fatalf("expected lookup for %s, got %s", id, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for lookup of %s", id)
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resolution")
	}
}

func assertCleared(t *testing.T, st domain.SessionState) {
	t.Helper()
	if st.Account != nil || st.Profile != nil || st.Role != "" || st.Tenant != nil || st.Loading {
		t.Errorf("expected cleared state, got %+v", st)
	}
}

// --- Tests ---

func TestNewSessionResolver_Loading(t *testing.T) {
	r, _ := newResolver(&mockAuthBackend{}, newMockProfileStore())
	defer r.Close()

	st := r.State()
	if !st.Loading || st.Authenticated() {
		t.Errorf("expected empty loading state, got %+v", st)
	}
}

func TestInitialize_NoSession(t *testing.T) {
	backend := &mockAuthBackend{}
	store := newMockProfileStore()
	r, _ := newResolver(backend, store)
	defer r.Close()

	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	assertCleared(t, r.State())
	if store.calls.Load() != 0 {
		t.Errorf("expected no profile lookup, got %d", store.calls.Load())
	}
	if backend.subscribed != 1 {
		t.Errorf("expected exactly one subscription, got %d", backend.subscribed)
	}
}

func TestInitialize_ResolvesProfile(t *testing.T) {
	backend := &mockAuthBackend{session: sessionFor(accountA)}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleAdmin))
	r, metrics := newResolver(backend, store)
	defer r.Close()

	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	st := r.State()
	if st.Loading || st.Account == nil || st.Account.ID != accountA {
		t.Fatalf("expected resolved account, got %+v", st)
	}
	if st.Profile == nil || st.Role != domain.RoleAdmin {
		t.Errorf("expected admin profile, got %+v", st)
	}
	if st.Tenant == nil || st.Tenant.Name != "Acme" {
		t.Errorf("expected tenant from join, got %+v", st.Tenant)
	}
	if !r.IsAdmin() || r.IsManager() || r.IsClient() {
		t.Error("expected only IsAdmin to hold")
	}
	if got := metrics.GetSessionSnapshot().ProfileLookups; got != 1 {
		t.Errorf("expected 1 lookup recorded, got %d", got)
	}
}

func TestInitialize_Twice(t *testing.T) {
	backend := &mockAuthBackend{}
	r, _ := newResolver(backend, newMockProfileStore())
	defer r.Close()

	_ = r.Initialize(context.Background())
	_ = r.Initialize(context.Background())
	if backend.subscribed != 1 {
		t.Errorf("expected one subscription, got %d", backend.subscribed)
	}
}

func TestInitialize_SubscriptionFailure(t *testing.T) {
	backend := &mockAuthBackend{subscribeErr: errors.New("realtime down")}
	r, _ := newResolver(backend, newMockProfileStore())
	defer r.Close()

	err := r.Initialize(context.Background())
	var subErr *domain.SubscriptionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubscriptionError, got %v", err)
	}
	if subErr.Err.Error() != "realtime down" {
		t.Errorf("unexpected cause %v", subErr.Err)
	}
}

func TestInitialize_SessionErrorTreatedAsSignedOut(t *testing.T) {
	backend := &mockAuthBackend{sessionErr: &domain.ErrCircuitOpen{Service: "supabase/auth"}}
	r, _ := newResolver(backend, newMockProfileStore())
	defer r.Close()

	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	assertCleared(t, r.State())
}

func TestResolveProfile_MissingRowDefaultsToClient(t *testing.T) {
	backend := &mockAuthBackend{session: sessionFor(accountA)}
	r, metrics := newResolver(backend, newMockProfileStore())
	defer r.Close()

	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("lookup failures must not surface, got %v", err)
	}

	st := r.State()
	if st.Account == nil || st.Account.ID != accountA {
		t.Fatalf("expected account kept, got %+v", st)
	}
	if st.Profile != nil || st.Tenant != nil || st.Role != domain.RoleClient || st.Loading {
		t.Errorf("expected client fallback, got %+v", st)
	}
	if got := metrics.GetSessionSnapshot().ProfileNotFound; got != 1 {
		t.Errorf("expected not_found lookup recorded, got %d", got)
	}
}

func TestResolveProfile_LookupErrorDefaultsToClient(t *testing.T) {
	backend := &mockAuthBackend{session: sessionFor(accountA)}
	store := newMockProfileStore()
	store.errs[accountA] = &domain.ErrExternalService{Service: "supabase/profile", Err: errors.New("connection reset")}
	r, metrics := newResolver(backend, store)
	defer r.Close()

	_ = r.Initialize(context.Background())

	st := r.State()
	if st.Account == nil || st.Profile != nil || st.Role != domain.RoleClient {
		t.Errorf("expected client fallback, got %+v", st)
	}
	if got := metrics.GetSessionSnapshot().ProfileLookupErrors; got != 1 {
		t.Errorf("expected lookup error recorded, got %d", got)
	}
}

func TestResolveProfile_EmptyRoleDefaultsToClient(t *testing.T) {
	backend := &mockAuthBackend{session: sessionFor(accountA)}
	store := newMockProfileStore()
	store.set(profileFor(accountA, ""))
	r, _ := newResolver(backend, store)
	defer r.Close()

	_ = r.Initialize(context.Background())

	st := r.State()
	if st.Profile == nil || st.Role != domain.RoleClient {
		t.Errorf("expected profile with client role, got %+v", st)
	}
}

func TestAuthEvent_SignedInAndOut(t *testing.T) {
	backend := &mockAuthBackend{}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleManager))
	r, _ := newResolver(backend, store)
	defer r.Close()
	_ = r.Initialize(context.Background())

	backend.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sessionFor(accountA)})
	if st := r.State(); st.Role != domain.RoleManager || st.Account.ID != accountA {
		t.Fatalf("expected manager, got %+v", st)
	}

	backend.emit(domain.AuthEvent{Kind: domain.EventSignedOut})
	assertCleared(t, r.State())
}

func TestAuthEvent_DuplicateIsIdempotent(t *testing.T) {
	backend := &mockAuthBackend{}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleManager))
	r, _ := newResolver(backend, store)
	defer r.Close()
	_ = r.Initialize(context.Background())

	ev := domain.AuthEvent{Kind: domain.EventSignedIn, Session: sessionFor(accountA)}
	backend.emit(ev)
	first := r.State()
	backend.emit(ev)
	second := r.State()

	if first.Account.ID != second.Account.ID || first.Role != second.Role ||
		first.Tenant.ID != second.Tenant.ID || first.Loading != second.Loading {
		t.Errorf("expected identical states, got %+v and %+v", first, second)
	}

	backend.emit(domain.AuthEvent{Kind: domain.EventSignedOut})
	backend.emit(domain.AuthEvent{Kind: domain.EventSignedOut})
	assertCleared(t, r.State())
}

func TestAuthEvent_SameAccountLatestWins(t *testing.T) {
	backend := &mockAuthBackend{}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleClient))
	r, _ := newResolver(backend, store)
	defer r.Close()
	_ = r.Initialize(context.Background())

	backend.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sessionFor(accountA)})
	store.set(profileFor(accountA, domain.RoleAdmin))
	backend.emit(domain.AuthEvent{Kind: domain.EventTokenRefreshed, Session: sessionFor(accountA)})

	if st := r.State(); st.Role != domain.RoleAdmin {
		t.Errorf("expected latest resolution to win, got %s", st.Role)
	}
}

func TestAuthEvent_StaleResolutionForOtherAccountDropped(t *testing.T) {
	backend := &mockAuthBackend{}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleAdmin))
	store.set(profileFor(accountB, domain.RoleClient))
	release := store.hold(accountA)
	r, metrics := newResolver(backend, store)
	defer r.Close()
	_ = r.Initialize(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		backend.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sessionFor(accountA)})
	}()
	waitStarted(t, store, accountA)

	backend.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sessionFor(accountB)})
	waitStarted(t, store, accountB)
	if st := r.State(); st.Account == nil || st.Account.ID != accountB {
		t.Fatalf("expected account B, got %+v", st)
	}

	release()
	waitDone(t, done)

	st := r.State()
	if st.Account.ID != accountB || st.Role != domain.RoleClient {
		t.Errorf("slow resolution for A overwrote B: %+v", st)
	}
	if got := metrics.GetSessionSnapshot().StaleResolutions; got != 1 {
		t.Errorf("expected 1 stale resolution, got %d", got)
	}
}

func TestAuthEvent_SignOutBeatsSlowResolution(t *testing.T) {
	backend := &mockAuthBackend{}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleAdmin))
	release := store.hold(accountA)
	r, _ := newResolver(backend, store)
	defer r.Close()
	_ = r.Initialize(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		backend.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sessionFor(accountA)})
	}()
	waitStarted(t, store, accountA)

	backend.emit(domain.AuthEvent{Kind: domain.EventSignedOut})
	release()
	waitDone(t, done)

	st := r.State()
	assertCleared(t, st)
	if st.Profile != nil {
		t.Error("profile present without account")
	}
}

func TestClose_MidResolution(t *testing.T) {
	backend := &mockAuthBackend{}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleAdmin))
	store.hold(accountA)
	r, _ := newResolver(backend, store)
	_ = r.Initialize(context.Background())
	before := r.State()

	done := make(chan struct{})
	go func() {
		defer close(done)
		backend.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sessionFor(accountA)})
	}()
	waitStarted(t, store, accountA)

	r.Close()
	// Close cancels the lookup, so it returns without the gate opening.
	waitDone(t, done)

	if backend.unsubscribed != 1 {
		t.Errorf("expected one unsubscribe, got %d", backend.unsubscribed)
	}
	if st := r.State(); st.Account != nil || st.Loading != before.Loading {
		t.Errorf("late resolution changed a closed resolver: %+v", st)
	}

	// Events delivered after teardown are ignored.
	backend.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sessionFor(accountA)})
	r.SetAccount(&domain.Account{ID: accountB})
	if st := r.State(); st.Account != nil {
		t.Errorf("closed resolver accepted new state: %+v", st)
	}
}

func TestClose_Idempotent(t *testing.T) {
	backend := &mockAuthBackend{}
	r, _ := newResolver(backend, newMockProfileStore())
	_ = r.Initialize(context.Background())

	r.Close()
	r.Close()
	if backend.unsubscribed != 1 {
		t.Errorf("expected one unsubscribe, got %d", backend.unsubscribed)
	}

	var subErr *domain.SubscriptionError
	if err := r.Initialize(context.Background()); !errors.As(err, &subErr) || !errors.Is(err, service.ErrResolverClosed) {
		t.Errorf("expected closed error, got %v", err)
	}
}

func TestSignIn_DelegatesWithoutStateChange(t *testing.T) {
	backend := &mockAuthBackend{signInAccount: &domain.Account{ID: accountA}}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleAdmin))
	r, _ := newResolver(backend, store)
	defer r.Close()
	_ = r.Initialize(context.Background())

	account, err := r.SignIn(context.Background(), "ana@example.com", "s3cret")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if account.ID != accountA {
		t.Errorf("unexpected account %+v", account)
	}
	assertCleared(t, r.State())
	if store.calls.Load() != 0 {
		t.Error("sign-in must not resolve the profile itself")
	}

	backend.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sessionFor(accountA)})
	if !r.IsAdmin() {
		t.Errorf("expected admin after SIGNED_IN, got %+v", r.State())
	}
}

func TestSignIn_CredentialErrorSurfaces(t *testing.T) {
	backend := &mockAuthBackend{signInErr: &domain.CredentialError{Code: "invalid_grant", Message: "Invalid login credentials"}}
	r, _ := newResolver(backend, newMockProfileStore())
	defer r.Close()
	_ = r.Initialize(context.Background())

	account, err := r.SignIn(context.Background(), "ana@example.com", "wrong")
	var credErr *domain.CredentialError
	if !errors.As(err, &credErr) || account != nil {
		t.Fatalf("expected CredentialError, got %v, %+v", err, account)
	}
	assertCleared(t, r.State())
}

func TestSignOut_DelegatesWithoutStateChange(t *testing.T) {
	backend := &mockAuthBackend{session: sessionFor(accountA)}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleManager))
	r, _ := newResolver(backend, store)
	defer r.Close()
	_ = r.Initialize(context.Background())

	if err := r.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if backend.signOuts != 1 {
		t.Errorf("expected one sign-out call, got %d", backend.signOuts)
	}
	if !r.IsManager() {
		t.Error("state must wait for the SIGNED_OUT event")
	}

	backend.emit(domain.AuthEvent{Kind: domain.EventSignedOut})
	assertCleared(t, r.State())
}

func TestSetAccount(t *testing.T) {
	backend := &mockAuthBackend{session: sessionFor(accountA)}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleAdmin))
	r, _ := newResolver(backend, store)
	defer r.Close()
	_ = r.Initialize(context.Background())

	// Same account: profile and role survive.
	r.SetAccount(&domain.Account{ID: accountA, Email: "new@example.com"})
	st := r.State()
	if st.Account.Email != "new@example.com" || st.Role != domain.RoleAdmin || st.Profile == nil {
		t.Errorf("expected account update only, got %+v", st)
	}

	// Different account: profile dropped, client role.
	r.SetAccount(&domain.Account{ID: accountB})
	st = r.State()
	if st.Account.ID != accountB || st.Profile != nil || st.Tenant != nil || st.Role != domain.RoleClient {
		t.Errorf("expected bare account B, got %+v", st)
	}

	r.SetAccount(nil)
	assertCleared(t, r.State())
}

func TestWatch(t *testing.T) {
	backend := &mockAuthBackend{}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleManager))
	r, _ := newResolver(backend, store)
	defer r.Close()

	ch, cancel := r.Watch()
	if st := <-ch; !st.Loading {
		t.Fatalf("expected loading state first, got %+v", st)
	}

	_ = r.Initialize(context.Background())
	if st := <-ch; st.Loading || st.Authenticated() {
		t.Fatalf("expected signed-out state, got %+v", st)
	}

	backend.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sessionFor(accountA)})
	if st := <-ch; st.Role != domain.RoleManager {
		t.Fatalf("expected manager, got %+v", st)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after cancel")
	}
}

func TestWatch_ClosedByClose(t *testing.T) {
	r, _ := newResolver(&mockAuthBackend{}, newMockProfileStore())
	ch, cancel := r.Watch()
	defer cancel()
	<-ch

	r.Close()
	if _, ok := <-ch; ok {
		t.Error("expected channel closed by Close")
	}
}

func TestAwait(t *testing.T) {
	backend := &mockAuthBackend{}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleAdmin))
	r, _ := newResolver(backend, store)
	defer r.Close()
	_ = r.Initialize(context.Background())

	go backend.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sessionFor(accountA)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := r.Await(ctx, func(s domain.SessionState) bool { return s.IsAdmin() })
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if st.Account.ID != accountA {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestAwait_Timeout(t *testing.T) {
	r, _ := newResolver(&mockAuthBackend{}, newMockProfileStore())
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Await(ctx, func(s domain.SessionState) bool { return s.Settled() })
	var timeout *domain.ErrTimeout
	if !errors.As(err, &timeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestAwait_Closed(t *testing.T) {
	r, _ := newResolver(&mockAuthBackend{}, newMockProfileStore())

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Await(context.Background(), func(s domain.SessionState) bool { return s.Authenticated() })
		errCh <- err
	}()
	r.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, service.ErrResolverClosed) {
			t.Errorf("expected ErrResolverClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not return after Close")
	}
}

func TestInvariant_ProfileOnlyWithAccount(t *testing.T) {
	backend := &mockAuthBackend{}
	store := newMockProfileStore()
	store.set(profileFor(accountA, domain.RoleAdmin))
	store.set(profileFor(accountB, domain.RoleManager))
	r, _ := newResolver(backend, store)
	defer r.Close()

	ch, cancel := r.Watch()
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	violations := 0
	go func() {
		defer wg.Done()
		for st := range ch {
			if st.Profile != nil && st.Account == nil {
				violations++
			}
			if st.Account != nil && !st.Loading && st.Role == "" {
				violations++
			}
		}
	}()

	_ = r.Initialize(context.Background())
	events := []domain.AuthEvent{
		{Kind: domain.EventSignedIn, Session: sessionFor(accountA)},
		{Kind: domain.EventSignedOut},
		{Kind: domain.EventSignedIn, Session: sessionFor(accountB)},
		{Kind: domain.EventTokenRefreshed, Session: sessionFor(accountB)},
		{Kind: domain.EventSignedOut},
	}
	for _, ev := range events {
		backend.emit(ev)
	}
	r.Close()
	wg.Wait()

	if violations != 0 {
		t.Errorf("observed %d states breaking the session invariants", violations)
	}
}
