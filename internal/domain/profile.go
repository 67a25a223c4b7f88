package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role is the application-level permission tier of a profile.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleClient  Role = "client"
)

// ParseRole validates a raw role column. An empty value is not an error;
// it maps to the empty Role so callers can apply the client default.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleManager, RoleClient, "":
		return Role(s), nil
	}
	return "", &ErrValidation{Field: "role", Message: fmt.Sprintf("unknown role %q", s)}
}

// TenantStatus is the lifecycle state of a company.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantInactive  TenantStatus = "inactive"
	TenantSuspended TenantStatus = "suspended"
)

// ParseTenantStatus validates a raw status column. Empty maps to active,
// which is the column default.
func ParseTenantStatus(s string) (TenantStatus, error) {
	switch TenantStatus(s) {
	case TenantActive, TenantInactive, TenantSuspended:
		return TenantStatus(s), nil
	case "":
		return TenantActive, nil
	}
	return "", &ErrValidation{Field: "status", Message: fmt.Sprintf("unknown company status %q", s)}
}

// Tenant is a client company. The dashboard calls them companies.
type Tenant struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Email       string         `json:"email,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	CNPJ        string         `json:"cnpj,omitempty"`
	Website     string         `json:"website,omitempty"`
	Industry    string         `json:"industry,omitempty"`
	Size        string         `json:"size,omitempty"`
	Status      TenantStatus   `json:"status"`
	Address     map[string]any `json:"address,omitempty"`
	BillingInfo map[string]any `json:"billingInfo,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Profile is the application record for an Account. Its ID equals the
// Account ID.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Role      Role      `json:"role"`
	TenantID  string    `json:"companyId,omitempty"`
	Tenant    *Tenant   `json:"company,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EffectiveRole returns the profile role, defaulting to client when unset.
func (p *Profile) EffectiveRole() Role {
	if p == nil || p.Role == "" {
		return RoleClient
	}
	return p.Role
}

// CheckOwner fails when the profile does not belong to accountID.
func (p *Profile) CheckOwner(accountID string) error {
	if !strings.EqualFold(p.ID, accountID) {
		return &ErrValidation{Field: "id", Message: fmt.Sprintf("profile %s does not belong to account %s", p.ID, accountID)}
	}
	return nil
}
