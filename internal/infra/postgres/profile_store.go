package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Store implements port.ProfileStore and port.DashboardStore on Postgres.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

var companyColumns = []string{
	"c.id::text", "c.name", "c.slug",
	"COALESCE(c.email, '')", "COALESCE(c.phone, '')", "COALESCE(c.cnpj, '')",
	"COALESCE(c.website, '')", "COALESCE(c.industry, '')", "COALESCE(c.size, '')",
	"c.status", "c.address::text", "c.billing_info::text", "c.settings::text",
	"c.created_at", "c.updated_at",
}

// profileQuery selects one users row left-joined to its company.
func profileQuery(accountID string) sq.SelectBuilder {
	cols := append([]string{
		"u.id::text", "u.email", "COALESCE(u.full_name, '')", "COALESCE(u.avatar_url, '')",
		"COALESCE(u.role, '')", "COALESCE(u.company_id::text, '')", "u.created_at", "u.updated_at",
	}, companyColumns...)

	return psql.Select(cols...).
		From("users u").
		LeftJoin("companies c ON c.id = u.company_id").
		Where(sq.Eq{"u.id": accountID}).
		Limit(1)
}

// nullCompany receives company columns that are NULL when the join misses.
type nullCompany struct {
	id        sql.NullString
	name      sql.NullString
	slug      sql.NullString
	email     sql.NullString
	phone     sql.NullString
	cnpj      sql.NullString
	website   sql.NullString
	industry  sql.NullString
	size      sql.NullString
	status    sql.NullString
	address   sql.NullString
	billing   sql.NullString
	settings  sql.NullString
	createdAt sql.NullTime
	updatedAt sql.NullTime
}

func (n *nullCompany) dest() []any {
	return []any{
		&n.id, &n.name, &n.slug, &n.email, &n.phone, &n.cnpj, &n.website, &n.industry, &n.size,
		&n.status, &n.address, &n.billing, &n.settings, &n.createdAt, &n.updatedAt,
	}
}

func jsonMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (n *nullCompany) toTenant() (*domain.Tenant, error) {
	if !n.id.Valid {
		return nil, nil
	}
	status, err := domain.ParseTenantStatus(n.status.String)
	if err != nil {
		return nil, err
	}
	t := &domain.Tenant{
		ID:        n.id.String,
		Name:      n.name.String,
		Slug:      n.slug.String,
		Email:     n.email.String,
		Phone:     n.phone.String,
		CNPJ:      n.cnpj.String,
		Website:   n.website.String,
		Industry:  n.industry.String,
		Size:      n.size.String,
		Status:    status,
		CreatedAt: n.createdAt.Time,
		UpdatedAt: n.updatedAt.Time,
	}
	if t.Address, err = jsonMap(n.address); err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	if t.BillingInfo, err = jsonMap(n.billing); err != nil {
		return nil, fmt.Errorf("decode billing_info: %w", err)
	}
	if t.Settings, err = jsonMap(n.settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return t, nil
}

// FetchProfile loads the profile of accountID joined to its company.
func (s *Store) FetchProfile(ctx context.Context, accountID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.FetchProfile")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	if _, err := uuid.Parse(accountID); err != nil {
		return nil, &domain.ErrValidation{Field: "account_id", Message: "not a uuid"}
	}

	var (
		p       domain.Profile
		role    string
		company nullCompany
	)
	dest := append([]any{
		&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &role, &p.TenantID, &p.CreatedAt, &p.UpdatedAt,
	}, company.dest()...)

	err := profileQuery(accountID).
		RunWith(s.db.db).
		QueryRowContext(ctx).
		Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: "profile", ID: accountID}
		}
		return nil, &domain.ErrExternalService{Service: "postgres/profile", Err: err}
	}

	if p.Role, err = domain.ParseRole(role); err != nil {
		return nil, err
	}
	if err := p.CheckOwner(accountID); err != nil {
		return nil, err
	}
	if p.Tenant, err = company.toTenant(); err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres/profile", Err: err}
	}

	span.SetAttributes(attribute.String("profile.role", string(p.Role)))
	return &p, nil
}
