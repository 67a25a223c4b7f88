// Package cli implements dsctl, the command-line rendering context of the
// dashboard: one process, one session, persisted in a local file.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/config"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/observability"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/postgres"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/resilience"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/sessionstore"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/supabase"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/port"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is stamped at build time with
// -ldflags "-X github.com/dynamicsolutions/dashboard-bfa-go/internal/cli.Version=...".
var Version = "dev"

// Env is what the session commands run against.
type Env struct {
	NewAuthBackend func(storage port.SessionStorage) port.AuthBackend
	Profiles       port.ProfileStore
	ResolveTimeout time.Duration
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	// Close releases the data backend. May be nil.
	Close func()
}

// EnvLoader builds the Env for a log level.
type EnvLoader func(logLevel string) (*Env, error)

type options struct {
	sessionFile string
	envFile     string
	logLevel    string
	loadEnv     EnvLoader
}

// NewRootCmd builds the dsctl command tree.
func NewRootCmd(loadEnv EnvLoader) *cobra.Command {
	o := &options{loadEnv: loadEnv}

	root := &cobra.Command{
		Use:   "dsctl",
		Short: "DynamicSolutions dashboard CLI",
		Long: `dsctl signs in to the DynamicSolutions dashboard from a terminal,
shows the resolved identity and manages the Postgres schema.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(o.envFile)
		},
	}

	root.PersistentFlags().StringVar(&o.sessionFile, "session-file", "", "session file (default is $XDG_CONFIG_HOME/dsctl/session.yaml)")
	root.PersistentFlags().StringVar(&o.envFile, "env-file", ".env", "dotenv file read before the environment")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "error", "log level (debug, info, warn, error)")

	root.AddCommand(
		newLoginCmd(o),
		newWhoamiCmd(o),
		newLogoutCmd(o),
		newMigrateCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs dsctl and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(LoadEnv).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// LoadEnv wires the Supabase auth backend and the configured data backend
// from the environment.
func LoadEnv(logLevel string) (*Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(logLevel)
	metrics := observability.NewMetrics()

	client := supabase.NewClient(
		&http.Client{Timeout: cfg.HTTPTimeout},
		cfg.TrimmedSupabaseURL(),
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		resilience.NewCircuitBreaker("supabase"),
		resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.MaxConcurrency,
		},
		logger,
	)
	authCfg := supabase.AuthSessionConfig{
		JWTSecret:     cfg.SupabaseJWTSecret,
		RefreshMargin: cfg.TokenRefreshMargin,
	}

	env := &Env{
		NewAuthBackend: func(storage port.SessionStorage) port.AuthBackend {
			return supabase.NewAuthSession(client, storage, authCfg, metrics, logger)
		},
		Profiles:       client,
		ResolveTimeout: cfg.ResolveTimeout,
		Metrics:        metrics,
		Logger:         logger,
	}

	if cfg.DataBackend == config.BackendPostgres {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		defer cancel()
		db, err := postgres.Open(ctx, postgres.Config{DSN: cfg.DatabaseURL, MaxConns: 2}, logger)
		if err != nil {
			return nil, err
		}
		env.Profiles = postgres.NewStore(db)
		env.Close = db.Close
	}
	return env, nil
}

// session is one command's resolver over the session file.
type session struct {
	resolver *service.SessionResolver
	env      *Env
	path     string
}

func (s *session) close() {
	s.resolver.Close()
	if s.env.Close != nil {
		s.env.Close()
	}
	_ = s.env.Logger.Sync()
}

// await waits for pred within the resolve timeout.
func (s *session) await(ctx context.Context, pred func(domain.SessionState) bool) (domain.SessionState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.env.ResolveTimeout)
	defer cancel()
	return s.resolver.Await(ctx, pred)
}

// openSession starts a resolver on the session file and waits for it to
// settle.
func (o *options) openSession(ctx context.Context) (*session, error) {
	path := o.sessionFile
	if path == "" {
		p, err := sessionstore.DefaultFilePath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	env, err := o.loadEnv(o.logLevel)
	if err != nil {
		return nil, err
	}
	if env.ResolveTimeout <= 0 {
		env.ResolveTimeout = 10 * time.Second
	}

	s := &session{env: env, path: path}
	s.resolver = service.NewSessionResolver(
		env.NewAuthBackend(sessionstore.NewFile(path)),
		env.Profiles,
		service.SessionResolverConfig{ResolveTimeout: env.ResolveTimeout},
		env.Metrics,
		env.Logger,
	)

	if err := s.resolver.Initialize(ctx); err != nil {
		s.close()
		return nil, err
	}
	if _, err := s.await(ctx, domain.SessionState.Settled); err != nil {
		s.close()
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return s, nil
}
