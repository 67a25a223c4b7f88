package port

import (
	"context"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
)

// DashboardStore reads the tables behind the admin dashboard.
type DashboardStore interface {
	CountCompanies(ctx context.Context) (int, error)
	ListCompanies(ctx context.Context, limit int) ([]domain.Tenant, error)
	ListProjects(ctx context.Context, filter domain.ListFilter) ([]domain.Project, error)
	ListPayments(ctx context.Context, filter domain.ListFilter) ([]domain.Payment, error)
	CountTasks(ctx context.Context, status string) (int, error)
}

// HealthChecker is implemented by stores that can report reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
