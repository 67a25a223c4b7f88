package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/config"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/handler"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/cache"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/observability"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/postgres"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/resilience"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/sessionstore"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/supabase"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/port"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
		os.Exit(1)
	}

	// --- Config ---
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateServer()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("data_backend", cfg.DataBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("resolve_timeout", cfg.ResolveTimeout),
		zap.Duration("token_refresh_margin", cfg.TokenRefreshMargin),
		zap.Duration("dashboard_cache_ttl", cfg.DashboardCacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Bool("jwt_verification", cfg.SupabaseJWTSecret != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "dashboard-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("supabase")

	// --- Supabase ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	supabaseClient := supabase.NewClient(
		httpClient,
		cfg.TrimmedSupabaseURL(),
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		cb,
		resilienceCfg,
		logger,
	)

	// --- Data backend ---
	var (
		profiles  port.ProfileStore
		dashStore port.DashboardStore
	)
	healthChecks := map[string]port.HealthChecker{"supabase": supabaseClient}

	switch cfg.DataBackend {
	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.DatabaseURL,
			MaxConns:        int32(cfg.MaxConcurrency),
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
		}, logger)
		cancel()
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer db.Close()

		if cfg.MigrateOnStart {
			n, err := postgres.MigrateUp(context.Background(), db.SQL())
			if err != nil {
				logger.Fatal("failed to apply migrations", zap.Error(err))
			}
			logger.Info("migrations applied", zap.Int("count", n))
		}

		store := postgres.NewStore(db)
		profiles, dashStore = store, store
		healthChecks["postgres"] = db
		logger.Info("using Postgres as data backend")
	default:
		profiles, dashStore = supabaseClient, supabaseClient
		logger.Info("using Supabase PostgREST as data backend",
			zap.String("supabase_url", cfg.TrimmedSupabaseURL()),
		)
	}

	// --- Services ---
	overviewCache := cache.New[*domain.DashboardOverview](cfg.DashboardCacheTTL)
	defer overviewCache.Close()
	dashboard := service.NewDashboard(dashStore, overviewCache, metrics, logger)

	// --- Sessions ---
	cookies, err := sessionstore.NewCookieStore(cfg.SessionSecret, cfg.SessionMaxAge, cfg.CookieSecure)
	if err != nil {
		logger.Fatal("failed to build cookie store", zap.Error(err))
	}
	authCfg := supabase.AuthSessionConfig{
		JWTSecret:     cfg.SupabaseJWTSecret,
		RefreshMargin: cfg.TokenRefreshMargin,
	}
	newAuthBackend := func(storage port.SessionStorage) port.AuthBackend {
		return supabase.NewAuthSession(supabaseClient, storage, authCfg, metrics, logger)
	}

	// --- Router ---
	trustedProxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		logger.Fatal("invalid trusted proxies", zap.Error(err))
	}
	router := handler.NewRouter(handler.Deps{
		Session: handler.SessionConfig{
			NewAuthBackend: newAuthBackend,
			Profiles:       profiles,
			Cookies:        cookies,
			ResolveTimeout: cfg.ResolveTimeout,
		},
		Dashboard:      dashboard,
		LoginLimiter:   handler.NewLoginLimiter(cfg.LoginRatePerSecond, cfg.LoginBurst),
		HealthChecks:   healthChecks,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		TrustedProxies: trustedProxies,
		Metrics:        metrics,
		Logger:         logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
