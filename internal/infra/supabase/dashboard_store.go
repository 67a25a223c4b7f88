package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
)

// --- Dashboard API (implements port.DashboardStore) ---

type projectRow struct {
	ID          string  `json:"id"`
	CompanyID   string  `json:"company_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	Budget      float64 `json:"budget"`
	SpentAmount float64 `json:"spent_amount"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	AssignedTo  string  `json:"assigned_to"`
	CreatedAt   string  `json:"created_at"`
}

type paymentRow struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"company_id"`
	ProjectID string  `json:"project_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Status    string  `json:"status"`
	Method    string  `json:"payment_method"`
	DueDate   string  `json:"due_date"`
	PaidAt    string  `json:"paid_at"`
	CreatedAt string  `json:"created_at"`
}

func filterQuery(filter domain.ListFilter) url.Values {
	q := url.Values{
		"select": {"*"},
		"order":  {"created_at.desc"},
	}
	if filter.Status != "" {
		q.Set("status", "eq."+filter.Status)
	}
	if filter.CompanyID != "" {
		q.Set("company_id", "eq."+filter.CompanyID)
	}
	return q
}

// list fetches rows of table into out, an address of a slice.
func (c *Client) list(ctx context.Context, table string, query url.Values, out any) error {
	err := c.execute(ctx, "supabase/"+table, func() error {
		resp, err := c.doRequest(ctx, http.MethodGet, table, query, "")
		if err != nil {
			return err
		}
		if resp.body == nil {
			return nil
		}
		if err := json.Unmarshal(resp.body, out); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode %s: %w", table, err))
		}
		return nil
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/" + table, Err: err}
	}
	return nil
}

// CountCompanies returns the number of companies.
func (c *Client) CountCompanies(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CountCompanies")
	defer span.End()

	return c.count(ctx, "companies", nil)
}

// ListCompanies returns companies, newest first. limit <= 0 means all.
func (c *Client) ListCompanies(ctx context.Context, limit int) ([]domain.Tenant, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListCompanies")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	q := url.Values{
		"select": {"*"},
		"order":  {"created_at.desc"},
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var rows []companyRow
	if err := c.list(ctx, "companies", q, &rows); err != nil {
		return nil, err
	}

	companies := make([]domain.Tenant, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toTenant()
		if err != nil {
			return nil, &domain.ErrExternalService{Service: "supabase/companies", Err: err}
		}
		companies = append(companies, *t)
	}
	return companies, nil
}

// ListProjects returns projects matching filter, newest first.
func (c *Client) ListProjects(ctx context.Context, filter domain.ListFilter) ([]domain.Project, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProjects")
	defer span.End()
	span.SetAttributes(attribute.String("filter.status", filter.Status))

	var rows []projectRow
	if err := c.list(ctx, "projects", filterQuery(filter), &rows); err != nil {
		return nil, err
	}

	projects := make([]domain.Project, 0, len(rows))
	for _, r := range rows {
		projects = append(projects, domain.Project{
			ID:          r.ID,
			CompanyID:   r.CompanyID,
			Name:        r.Name,
			Description: r.Description,
			Type:        r.Type,
			Status:      domain.ProjectStatus(r.Status),
			Budget:      r.Budget,
			SpentAmount: r.SpentAmount,
			StartDate:   parseTimePtr(r.StartDate),
			EndDate:     parseTimePtr(r.EndDate),
			AssignedTo:  r.AssignedTo,
			CreatedAt:   parseTime(r.CreatedAt),
		})
	}
	return projects, nil
}

// ListPayments returns payments matching filter, newest first.
func (c *Client) ListPayments(ctx context.Context, filter domain.ListFilter) ([]domain.Payment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListPayments")
	defer span.End()
	span.SetAttributes(attribute.String("filter.status", filter.Status))

	var rows []paymentRow
	if err := c.list(ctx, "payments", filterQuery(filter), &rows); err != nil {
		return nil, err
	}

	payments := make([]domain.Payment, 0, len(rows))
	for _, r := range rows {
		currency := r.Currency
		if currency == "" {
			currency = "BRL"
		}
		payments = append(payments, domain.Payment{
			ID:        r.ID,
			CompanyID: r.CompanyID,
			ProjectID: r.ProjectID,
			Amount:    r.Amount,
			Currency:  currency,
			Status:    domain.PaymentStatus(r.Status),
			Method:    r.Method,
			DueDate:   parseTimePtr(r.DueDate),
			PaidAt:    parseTimePtr(r.PaidAt),
			CreatedAt: parseTime(r.CreatedAt),
		})
	}
	return payments, nil
}

// CountTasks counts tasks, optionally restricted to one status.
func (c *Client) CountTasks(ctx context.Context, status string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CountTasks")
	defer span.End()

	q := url.Values{}
	if status != "" {
		q.Set("status", "eq."+status)
	}
	return c.count(ctx, "tasks", q)
}
