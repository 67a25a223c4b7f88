package service

import (
	"context"
	"fmt"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/observability"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/port"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	overviewCacheKey     = "overview"
	recentCompaniesLimit = 5
)

// Dashboard serves the role-gated reads behind the admin dashboard.
type Dashboard struct {
	store   port.DashboardStore
	cache   port.Cache[*domain.DashboardOverview]
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewDashboard creates the dashboard service.
func NewDashboard(
	store port.DashboardStore,
	cache port.Cache[*domain.DashboardOverview],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Dashboard {
	return &Dashboard{
		store:   store,
		cache:   cache,
		clock:   clockwork.NewRealClock(),
		metrics: metrics,
		logger:  logger,
	}
}

// WithClock replaces the clock stamping GeneratedAt.
func (d *Dashboard) WithClock(clock clockwork.Clock) *Dashboard {
	d.clock = clock
	return d
}

func requireAccount(state domain.SessionState) error {
	if !state.Authenticated() {
		return &domain.ErrUnauthorized{Message: "sign in required"}
	}
	return nil
}

func requireAdmin(state domain.SessionState, action string) error {
	if err := requireAccount(state); err != nil {
		return err
	}
	if !state.IsAdmin() {
		return &domain.ErrForbidden{Action: action}
	}
	return nil
}

// scope returns the company filter for state. ok is false for a non-admin
// without a company, who sees nothing.
func scope(state domain.SessionState) (companyID string, ok bool) {
	if state.IsAdmin() {
		return "", true
	}
	companyID = state.TenantScope()
	return companyID, companyID != ""
}

// Overview aggregates the admin landing page. Results are cached for the
// cache TTL; every caller gets its own copy.
func (d *Dashboard) Overview(ctx context.Context, state domain.SessionState) (*domain.DashboardOverview, error) {
	ctx, span := tracer.Start(ctx, "Dashboard.Overview")
	defer span.End()

	if err := requireAdmin(state, "view dashboard overview"); err != nil {
		return nil, err
	}

	if cached, ok := d.cache.Get(overviewCacheKey); ok {
		d.metrics.IncrCacheHit("overview")
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached.Clone(), nil
	}
	d.metrics.IncrCacheMiss("overview")

	start := d.clock.Now()
	defer func() {
		d.metrics.RecordRequestDuration("dashboard_overview", d.clock.Since(start))
	}()

	var (
		totalCompanies int
		pendingTasks   int
		projects       []domain.Project
		payments       []domain.Payment
		recent         []domain.Tenant
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := d.store.CountCompanies(gCtx)
		if err != nil {
			return d.storeError("count companies", err)
		}
		totalCompanies = n
		return nil
	})

	g.Go(func() error {
		p, err := d.store.ListProjects(gCtx, domain.ListFilter{Status: string(domain.ProjectActive)})
		if err != nil {
			return d.storeError("list active projects", err)
		}
		projects = p
		return nil
	})

	g.Go(func() error {
		p, err := d.store.ListPayments(gCtx, domain.ListFilter{Status: string(domain.PaymentCompleted)})
		if err != nil {
			return d.storeError("list completed payments", err)
		}
		payments = p
		return nil
	})

	g.Go(func() error {
		n, err := d.store.CountTasks(gCtx, "pending")
		if err != nil {
			return d.storeError("count pending tasks", err)
		}
		pendingTasks = n
		return nil
	})

	g.Go(func() error {
		c, err := d.store.ListCompanies(gCtx, recentCompaniesLimit)
		if err != nil {
			return d.storeError("list recent companies", err)
		}
		recent = c
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	overview := &domain.DashboardOverview{
		TotalCompanies:  totalCompanies,
		ActiveProjects:  len(projects),
		TotalRevenue:    domain.SumPayments(payments),
		PendingTasks:    pendingTasks,
		RecentCompanies: recent,
		Projects:        projects,
		GeneratedAt:     d.clock.Now().UTC(),
	}
	d.cache.Set(overviewCacheKey, overview)
	return overview.Clone(), nil
}

func (d *Dashboard) storeError(op string, err error) error {
	d.logger.Error("dashboard: store call failed",
		zap.String("operation", op),
		zap.Error(err),
	)
	d.metrics.IncrExternalError("dashboard")
	return fmt.Errorf("%s: %w", op, err)
}

// ListCompanies returns every company, newest first. Admin only.
func (d *Dashboard) ListCompanies(ctx context.Context, state domain.SessionState) ([]domain.Tenant, error) {
	ctx, span := tracer.Start(ctx, "Dashboard.ListCompanies")
	defer span.End()

	if err := requireAdmin(state, "list companies"); err != nil {
		return nil, err
	}
	companies, err := d.store.ListCompanies(ctx, 0)
	if err != nil {
		return nil, d.storeError("list companies", err)
	}
	return companies, nil
}

// ListProjects returns projects visible to state, optionally by status.
func (d *Dashboard) ListProjects(ctx context.Context, state domain.SessionState, status string) ([]domain.Project, error) {
	ctx, span := tracer.Start(ctx, "Dashboard.ListProjects")
	defer span.End()

	if err := requireAccount(state); err != nil {
		return nil, err
	}
	st, err := domain.ParseProjectStatus(status)
	if err != nil {
		return nil, err
	}
	companyID, ok := scope(state)
	span.SetAttributes(attribute.String("company.id", companyID))
	if !ok {
		return []domain.Project{}, nil
	}

	projects, err := d.store.ListProjects(ctx, domain.ListFilter{CompanyID: companyID, Status: string(st)})
	if err != nil {
		return nil, d.storeError("list projects", err)
	}
	return projects, nil
}

// ListPayments returns payments visible to state with their count and total.
func (d *Dashboard) ListPayments(ctx context.Context, state domain.SessionState, status string) (*domain.PaymentSummary, error) {
	ctx, span := tracer.Start(ctx, "Dashboard.ListPayments")
	defer span.End()

	if err := requireAccount(state); err != nil {
		return nil, err
	}
	st, err := domain.ParsePaymentStatus(status)
	if err != nil {
		return nil, err
	}
	companyID, ok := scope(state)
	span.SetAttributes(attribute.String("company.id", companyID))
	if !ok {
		return &domain.PaymentSummary{Payments: []domain.Payment{}}, nil
	}

	payments, err := d.store.ListPayments(ctx, domain.ListFilter{CompanyID: companyID, Status: string(st)})
	if err != nil {
		return nil, d.storeError("list payments", err)
	}
	return &domain.PaymentSummary{
		Payments:    payments,
		Count:       len(payments),
		TotalAmount: domain.SumPayments(payments),
	}, nil
}
