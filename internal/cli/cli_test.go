package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/cli"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/observability"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/port"

	"go.uber.org/zap"
)

const managerID = "1c9a7b2f-3e55-4d6a-8b5f-2e3d4c5b6a71"

// --- Mocks ---

type fakeAuth struct {
	storage port.SessionStorage

	mu sync.Mutex
	fn func(domain.AuthEvent)
}

func (f *fakeAuth) emit(ev domain.AuthEvent) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (f *fakeAuth) GetCurrentSession(ctx context.Context) (*domain.Session, error) {
	return f.storage.Load(ctx)
}

func (f *fakeAuth) SignInWithPassword(ctx context.Context, email, password string) (*domain.Account, error) {
	if email != "manager@dynamicsolutions.digital" || password != "manager-pass" {
		return nil, &domain.CredentialError{Code: "invalid_grant", Message: "Invalid login credentials"}
	}
	s := &domain.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		Account:      domain.Account{ID: managerID, Email: email},
	}
	if err := f.storage.Save(ctx, s); err != nil {
		return nil, err
	}
	f.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: s})
	a := s.Account
	return &a, nil
}

func (f *fakeAuth) SignOut(ctx context.Context) error {
	if err := f.storage.Clear(ctx); err != nil {
		return err
	}
	f.emit(domain.AuthEvent{Kind: domain.EventSignedOut})
	return nil
}

func (f *fakeAuth) Subscribe(fn func(domain.AuthEvent)) (port.Subscription, error) {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
	return unsubscribeFunc(func() {
		f.mu.Lock()
		f.fn = nil
		f.mu.Unlock()
	}), nil
}

type unsubscribeFunc func()

func (u unsubscribeFunc) Unsubscribe() { u() }

type fakeProfiles struct{}

func (fakeProfiles) FetchProfile(_ context.Context, accountID string) (*domain.Profile, error) {
	if accountID != managerID {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: accountID}
	}
	return &domain.Profile{
		ID:       managerID,
		Role:     domain.RoleManager,
		TenantID: "c1",
		Tenant:   &domain.Tenant{ID: "c1", Name: "Acme"},
	}, nil
}

// --- Helpers ---

func testEnv(string) (*cli.Env, error) {
	return &cli.Env{
		NewAuthBackend: func(s port.SessionStorage) port.AuthBackend { return &fakeAuth{storage: s} },
		Profiles:       fakeProfiles{},
		ResolveTimeout: 2 * time.Second,
		Metrics:        observability.NewMetrics(),
		Logger:         zap.NewNop(),
	}, nil
}

func run(t *testing.T, sessionFile, stdin string, args ...string) (string, error) {
	t.Helper()
	root := cli.NewRootCmd(testEnv)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--session-file", sessionFile, "--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// --- Tests ---

func TestLoginWhoamiLogout(t *testing.T) {
	file := filepath.Join(t.TempDir(), "session.yaml")

	out, err := run(t, file, "", "login", "--email", "manager@dynamicsolutions.digital", "--password", "manager-pass")
	if err != nil {
		t.Fatalf("login: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Signed in as manager@dynamicsolutions.digital (manager at Acme)") {
		t.Errorf("unexpected login output %q", out)
	}
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("expected session file: %v", err)
	}

	out, err = run(t, file, "", "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	for _, want := range []string{"Role:     manager", "Company:  Acme (c1)", managerID} {
		if !strings.Contains(out, want) {
			t.Errorf("whoami output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, file, "", "whoami", "--format", "json")
	if err != nil {
		t.Fatalf("whoami json: %v", err)
	}
	var view domain.SessionView
	if err := json.Unmarshal([]byte(out), &view); err != nil || !view.IsManager || !view.Authenticated {
		t.Errorf("unexpected json view %q, %v", out, err)
	}

	out, err = run(t, file, "", "logout")
	if err != nil || !strings.Contains(out, "Signed out.") {
		t.Fatalf("logout: %v %q", err, out)
	}
	if _, err := os.Stat(file); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected session file removed, got %v", err)
	}

	out, _ = run(t, file, "", "whoami")
	if !strings.Contains(out, "Not signed in.") {
		t.Errorf("expected signed out, got %q", out)
	}
}

func TestLogin_PasswordFromStdin(t *testing.T) {
	file := filepath.Join(t.TempDir(), "session.yaml")

	out, err := run(t, file, "manager-pass\n", "login", "--email", "manager@dynamicsolutions.digital")
	if err != nil {
		t.Fatalf("login: %v\n%s", err, out)
	}
}

func TestLogin_Rejected(t *testing.T) {
	file := filepath.Join(t.TempDir(), "session.yaml")

	_, err := run(t, file, "", "login", "--email", "manager@dynamicsolutions.digital", "--password", "wrong")
	var credErr *domain.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
	if _, err := os.Stat(file); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("no session file expected, got %v", err)
	}
}

func TestLogin_MissingEmail(t *testing.T) {
	if _, err := run(t, filepath.Join(t.TempDir(), "s.yaml"), "", "login"); err == nil {
		t.Error("expected an error without --email")
	}
}

func TestLogout_NotSignedIn(t *testing.T) {
	out, err := run(t, filepath.Join(t.TempDir(), "s.yaml"), "", "logout")
	if err != nil || !strings.Contains(out, "Not signed in.") {
		t.Errorf("unexpected %q, %v", out, err)
	}
}

func TestMigrate_InvalidArgs(t *testing.T) {
	for _, args := range [][]string{
		{"migrate", "sideways"},
		{"migrate", "up", "3"},
		{"migrate", "down", "-1"},
		{"migrate", "down", "1", "2"},
	} {
		if _, err := run(t, filepath.Join(t.TempDir(), "s.yaml"), "", args...); err == nil {
			t.Errorf("%v: expected an argument error", args)
		}
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, filepath.Join(t.TempDir(), "s.yaml"), "", "version")
	if err != nil || !strings.Contains(out, "dsctl version: dev") {
		t.Errorf("unexpected %q, %v", out, err)
	}
}
