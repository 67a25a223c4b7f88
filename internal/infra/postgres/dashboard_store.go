package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel/attribute"
)

func countQuery(table string, where sq.Eq) sq.SelectBuilder {
	q := psql.Select("COUNT(*)").From(table)
	if len(where) > 0 {
		q = q.Where(where)
	}
	return q
}

func companiesQuery(limit int) sq.SelectBuilder {
	q := psql.Select(companyColumns...).
		From("companies c").
		OrderBy("c.created_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q
}

// filtered applies the company and status filters shared by projects and
// payments.
func filtered(q sq.SelectBuilder, filter domain.ListFilter) sq.SelectBuilder {
	if filter.CompanyID != "" {
		q = q.Where(sq.Eq{"company_id": filter.CompanyID})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": filter.Status})
	}
	return q.OrderBy("created_at DESC")
}

func projectsQuery(filter domain.ListFilter) sq.SelectBuilder {
	return filtered(psql.Select(
		"id::text", "company_id::text", "name", "COALESCE(description, '')", "COALESCE(type, '')",
		"status", "budget::float8", "spent_amount::float8", "start_date", "end_date",
		"COALESCE(assigned_to::text, '')", "created_at",
	).From("projects"), filter)
}

func paymentsQuery(filter domain.ListFilter) sq.SelectBuilder {
	return filtered(psql.Select(
		"id::text", "company_id::text", "COALESCE(project_id::text, '')", "amount::float8", "currency",
		"status", "COALESCE(payment_method, '')", "due_date", "paid_at", "created_at",
	).From("payments"), filter)
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func (s *Store) count(ctx context.Context, table string, where sq.Eq) (int, error) {
	var n int
	err := countQuery(table, where).RunWith(s.db.db).QueryRowContext(ctx).Scan(&n)
	if err != nil {
		return 0, &domain.ErrExternalService{Service: "postgres/" + table, Err: err}
	}
	return n, nil
}

// CountCompanies returns the number of companies.
func (s *Store) CountCompanies(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CountCompanies")
	defer span.End()

	return s.count(ctx, "companies", nil)
}

// CountTasks counts tasks, optionally restricted to one status.
func (s *Store) CountTasks(ctx context.Context, status string) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CountTasks")
	defer span.End()

	var where sq.Eq
	if status != "" {
		where = sq.Eq{"status": status}
	}
	return s.count(ctx, "tasks", where)
}

// ListCompanies returns companies, newest first. limit <= 0 means all.
func (s *Store) ListCompanies(ctx context.Context, limit int) ([]domain.Tenant, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListCompanies")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	rows, err := companiesQuery(limit).RunWith(s.db.db).QueryContext(ctx)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres/companies", Err: err}
	}
	defer rows.Close()

	companies := []domain.Tenant{}
	for rows.Next() {
		var c nullCompany
		if err := rows.Scan(c.dest()...); err != nil {
			return nil, &domain.ErrExternalService{Service: "postgres/companies", Err: fmt.Errorf("failed to scan company: %w", err)}
		}
		t, err := c.toTenant()
		if err != nil {
			return nil, &domain.ErrExternalService{Service: "postgres/companies", Err: err}
		}
		companies = append(companies, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres/companies", Err: err}
	}
	return companies, nil
}

// ListProjects returns projects matching filter, newest first.
func (s *Store) ListProjects(ctx context.Context, filter domain.ListFilter) ([]domain.Project, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListProjects")
	defer span.End()
	span.SetAttributes(attribute.String("filter.status", filter.Status))

	rows, err := projectsQuery(filter).RunWith(s.db.db).QueryContext(ctx)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres/projects", Err: err}
	}
	defer rows.Close()

	projects := []domain.Project{}
	for rows.Next() {
		var (
			p          domain.Project
			status     string
			start, end sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &p.Description, &p.Type,
			&status, &p.Budget, &p.SpentAmount, &start, &end, &p.AssignedTo, &p.CreatedAt); err != nil {
			return nil, &domain.ErrExternalService{Service: "postgres/projects", Err: fmt.Errorf("failed to scan project: %w", err)}
		}
		p.Status = domain.ProjectStatus(status)
		p.StartDate = nullTime(start)
		p.EndDate = nullTime(end)
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres/projects", Err: err}
	}
	return projects, nil
}

// ListPayments returns payments matching filter, newest first.
func (s *Store) ListPayments(ctx context.Context, filter domain.ListFilter) ([]domain.Payment, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListPayments")
	defer span.End()
	span.SetAttributes(attribute.String("filter.status", filter.Status))

	rows, err := paymentsQuery(filter).RunWith(s.db.db).QueryContext(ctx)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres/payments", Err: err}
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		var (
			p           domain.Payment
			status      string
			due, paidAt sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.ProjectID, &p.Amount, &p.Currency,
			&status, &p.Method, &due, &paidAt, &p.CreatedAt); err != nil {
			return nil, &domain.ErrExternalService{Service: "postgres/payments", Err: fmt.Errorf("failed to scan payment: %w", err)}
		}
		p.Status = domain.PaymentStatus(status)
		p.DueDate = nullTime(due)
		p.PaidAt = nullTime(paidAt)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres/payments", Err: err}
	}
	return payments, nil
}
