package domain

// SessionState is the resolved identity a rendering context sees.
//
// Profile is non-nil only when Account is non-nil, and Role is non-empty
// whenever Account is non-nil and Loading is false.
type SessionState struct {
	Account *Account
	Profile *Profile
	Role    Role
	Tenant  *Tenant
	Loading bool
}

// Authenticated reports whether an account is present.
func (s SessionState) Authenticated() bool {
	return s.Account != nil
}

func (s SessionState) IsAdmin() bool   { return s.Role == RoleAdmin }
func (s SessionState) IsManager() bool { return s.Role == RoleManager }
func (s SessionState) IsClient() bool  { return s.Role == RoleClient }

// Settled reports whether the initial resolution has completed.
func (s SessionState) Settled() bool {
	return !s.Loading
}

// TenantScope returns the company a non-admin state is limited to.
func (s SessionState) TenantScope() string {
	if s.Tenant != nil {
		return s.Tenant.ID
	}
	if s.Profile != nil {
		return s.Profile.TenantID
	}
	return ""
}

// SessionView is the wire shape of a SessionState.
type SessionView struct {
	Authenticated bool     `json:"authenticated"`
	Account       *Account `json:"account,omitempty"`
	Profile       *Profile `json:"profile,omitempty"`
	Role          Role     `json:"role,omitempty"`
	Tenant        *Tenant  `json:"tenant,omitempty"`
	IsAdmin       bool     `json:"isAdmin"`
	IsManager     bool     `json:"isManager"`
	IsClient      bool     `json:"isClient"`
}

// View returns the wire shape of s.
func (s SessionState) View() SessionView {
	return SessionView{
		Authenticated: s.Authenticated(),
		Account:       s.Account,
		Profile:       s.Profile,
		Role:          s.Role,
		Tenant:        s.Tenant,
		IsAdmin:       s.IsAdmin(),
		IsManager:     s.IsManager(),
		IsClient:      s.IsClient(),
	}
}
