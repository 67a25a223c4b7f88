package domain

import (
	"slices"
	"time"
)

// ============================================================
// Dashboard read models
// ============================================================

type ProjectStatus string

const (
	ProjectPlanning  ProjectStatus = "planning"
	ProjectActive    ProjectStatus = "active"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// Project is a piece of work delivered for a company.
type Project struct {
	ID          string        `json:"id"`
	CompanyID   string        `json:"companyId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Type        string        `json:"type,omitempty"`
	Status      ProjectStatus `json:"status"`
	Budget      float64       `json:"budget"`
	SpentAmount float64       `json:"spentAmount"`
	StartDate   *time.Time    `json:"startDate,omitempty"`
	EndDate     *time.Time    `json:"endDate,omitempty"`
	AssignedTo  string        `json:"assignedTo,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment is a charge against a company, optionally tied to a project.
type Payment struct {
	ID        string        `json:"id"`
	CompanyID string        `json:"companyId"`
	ProjectID string        `json:"projectId,omitempty"`
	Amount    float64       `json:"amount"`
	Currency  string        `json:"currency"`
	Status    PaymentStatus `json:"status"`
	Method    string        `json:"method,omitempty"`
	DueDate   *time.Time    `json:"dueDate,omitempty"`
	PaidAt    *time.Time    `json:"paidAt,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ListFilter narrows payment and project listings. Empty fields match
// everything.
type ListFilter struct {
	CompanyID string
	Status    string
}

// PaymentSummary is the payments listing plus its aggregate.
type PaymentSummary struct {
	Payments    []Payment `json:"payments"`
	Count       int       `json:"count"`
	TotalAmount float64   `json:"totalAmount"`
}

// DashboardOverview backs the admin landing page.
type DashboardOverview struct {
	TotalCompanies  int       `json:"totalCompanies"`
	ActiveProjects  int       `json:"activeProjects"`
	TotalRevenue    float64   `json:"totalRevenue"`
	PendingTasks    int       `json:"pendingTasks"`
	RecentCompanies []Tenant  `json:"recentCompanies"`
	Projects        []Project `json:"projects"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

// Clone copies o and its slices. Maps inside tenants stay shared.
func (o *DashboardOverview) Clone() *DashboardOverview {
	if o == nil {
		return nil
	}
	c := *o
	c.RecentCompanies = slices.Clone(o.RecentCompanies)
	c.Projects = slices.Clone(o.Projects)
	return &c
}

// SumPayments totals the amount of the given payments.
func SumPayments(payments []Payment) float64 {
	var total float64
	for _, p := range payments {
		total += p.Amount
	}
	return total
}

// ParseProjectStatus validates a status filter. Empty is allowed.
func ParseProjectStatus(s string) (ProjectStatus, error) {
	switch ProjectStatus(s) {
	case "", ProjectPlanning, ProjectActive, ProjectPaused, ProjectCompleted, ProjectCancelled:
		return ProjectStatus(s), nil
	}
	return "", &ErrValidation{Field: "status", Message: "unknown project status " + s}
}

// ParsePaymentStatus validates a status filter. Empty is allowed.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(s) {
	case "", PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return PaymentStatus(s), nil
	}
	return "", &ErrValidation{Field: "status", Message: "unknown payment status " + s}
}
