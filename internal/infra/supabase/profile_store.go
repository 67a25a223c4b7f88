package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/resilience"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// --- Profile API (implements port.ProfileStore) ---

// companyRow maps the companies table.
type companyRow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Email       string         `json:"email"`
	Phone       string         `json:"phone"`
	CNPJ        string         `json:"cnpj"`
	Website     string         `json:"website"`
	Industry    string         `json:"industry"`
	Size        string         `json:"size"`
	Status      string         `json:"status"`
	Address     map[string]any `json:"address"`
	BillingInfo map[string]any `json:"billing_info"`
	Settings    map[string]any `json:"settings"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

func (r *companyRow) toTenant() (*domain.Tenant, error) {
	status, err := domain.ParseTenantStatus(r.Status)
	if err != nil {
		return nil, err
	}
	return &domain.Tenant{
		ID:          r.ID,
		Name:        r.Name,
		Slug:        r.Slug,
		Email:       r.Email,
		Phone:       r.Phone,
		CNPJ:        r.CNPJ,
		Website:     r.Website,
		Industry:    r.Industry,
		Size:        r.Size,
		Status:      status,
		Address:     r.Address,
		BillingInfo: r.BillingInfo,
		Settings:    r.Settings,
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}, nil
}

// userRow maps the users table with its company embedded.
type userRow struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	FullName  string      `json:"full_name"`
	AvatarURL string      `json:"avatar_url"`
	Role      string      `json:"role"`
	CompanyID string      `json:"company_id"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
	Companies *companyRow `json:"companies"`
}

// toProfile validates the row shape before it becomes a domain value.
func (r *userRow) toProfile(accountID string) (*domain.Profile, error) {
	if _, err := uuid.Parse(r.ID); err != nil {
		return nil, &domain.ErrValidation{Field: "id", Message: fmt.Sprintf("not a uuid: %q", r.ID)}
	}
	role, err := domain.ParseRole(r.Role)
	if err != nil {
		return nil, err
	}

	p := &domain.Profile{
		ID:        r.ID,
		Email:     r.Email,
		FullName:  r.FullName,
		AvatarURL: r.AvatarURL,
		Role:      role,
		TenantID:  r.CompanyID,
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
	}
	if err := p.CheckOwner(accountID); err != nil {
		return nil, err
	}
	if r.Companies != nil {
		t, err := r.Companies.toTenant()
		if err != nil {
			return nil, err
		}
		p.Tenant = t
	}
	return p, nil
}

// FetchProfile loads the users row for accountID joined to its company.
func (c *Client) FetchProfile(ctx context.Context, accountID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FetchProfile")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	if _, err := uuid.Parse(accountID); err != nil {
		return nil, &domain.ErrValidation{Field: "account_id", Message: "not a uuid"}
	}

	var profile *domain.Profile

	err := c.execute(ctx, "supabase/profile", func() error {
		query := url.Values{
			"id":     {"eq." + accountID},
			"select": {"*,companies(*)"},
			"limit":  {"1"},
		}
		resp, err := c.doRequest(ctx, http.MethodGet, "users", query, "")
		if err != nil {
			return err
		}

		if resp.body == nil || string(resp.body) == "[]" {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "profile", ID: accountID})
		}

		var rows []userRow
		if err := json.Unmarshal(resp.body, &rows); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode profile: %w", err))
		}
		if len(rows) == 0 {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "profile", ID: accountID})
		}

		p, err := rows[0].toProfile(accountID)
		if err != nil {
			return resilience.Permanent(err)
		}
		profile = p
		return nil
	})

	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/profile", Err: err}
	}

	span.SetAttributes(attribute.String("profile.role", string(profile.Role)))
	return profile, nil
}
