package handler

import (
	"context"
	"net/http"
	"net/netip"
	"sort"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/observability"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/port"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

const healthCheckTimeout = 2 * time.Second

// Deps is everything the router serves from.
type Deps struct {
	Session      SessionConfig
	Dashboard    *service.Dashboard
	LoginLimiter *LoginLimiter
	// HealthChecks are pinged by /healthz and /readyz, keyed by name.
	HealthChecks map[string]port.HealthChecker
	CORSOrigins  []string
	Metrics      *observability.Metrics
	Logger       *zap.Logger

	// TrustedProxies may set the client address through X-Forwarded-For
	// or X-Real-IP. Empty means the socket peer is always used.
	TrustedProxies []netip.Prefix
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	if d.Session.ResolveTimeout <= 0 {
		d.Session.ResolveTimeout = defaultResolveTimeout
	}
	logger := d.Logger

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(TrustedRealIP(d.TrustedProxies))
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.HealthChecks, logger))
	r.Get("/readyz", readyzHandler(d.HealthChecks, logger))
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/session", sessionMetricsHandler(d.Metrics))

		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware(d.Session, d.Metrics, logger))

			r.Post("/auth/login", loginHandler(d.LoginLimiter, d.Session.ResolveTimeout, logger))
			r.Post("/auth/logout", logoutHandler(d.Session.ResolveTimeout, logger))
			r.Get("/session", sessionHandler())

			r.Get("/dashboard/overview", overviewHandler(d.Dashboard, logger))
			r.Get("/companies", companiesHandler(d.Dashboard, logger))
			r.Get("/projects", projectsHandler(d.Dashboard, logger))
			r.Get("/payments", paymentsHandler(d.Dashboard, logger))
		})
	})

	return r
}

// ============================================================
// Health
// ============================================================

func checkServices(ctx context.Context, checks map[string]port.HealthChecker, logger *zap.Logger) domain.HealthStatus {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now().UTC().Format(time.RFC3339)
	status := domain.HealthStatus{
		Status:   "healthy",
		Services: []domain.ServiceHealth{{Name: "dashboard-bfa", Status: "healthy", LastChecked: now}},
	}

	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		start := time.Now()
		err := checks[name].Ping(cctx)
		cancel()

		svc := domain.ServiceHealth{
			Name:        name,
			Status:      "healthy",
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: now,
		}
		if err != nil {
			logger.Warn("health check failed", zap.String("service", name), zap.Error(err))
			svc.Status = "unhealthy"
			status.Status = "degraded"
		}
		status.Services = append(status.Services, svc)
	}
	return status
}

// healthzHandler always answers 200; dependency state is in the body.
func healthzHandler(checks map[string]port.HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, checkServices(r.Context(), checks, logger))
	}
}

func readyzHandler(checks map[string]port.HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := checkServices(r.Context(), checks, logger)
		if status.Status != "healthy" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
