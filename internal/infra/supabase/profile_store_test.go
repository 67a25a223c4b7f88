package supabase

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
)

const testCompanyID = "0b3e8a43-2f7c-4c8a-9f0e-5d6b7a8c9d01"

func TestFetchProfile_WithCompany(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/users" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("id") != "eq."+testAccountID || q.Get("select") != "*,companies(*)" || q.Get("limit") != "1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[{
			"id": "` + testAccountID + `",
			"email": "ana@example.com",
			"full_name": "Ana Souza",
			"role": "manager",
			"company_id": "` + testCompanyID + `",
			"created_at": "2025-01-10T09:30:00.123456+00:00",
			"companies": {
				"id": "` + testCompanyID + `",
				"name": "Acme Ltda",
				"slug": "acme",
				"status": "active",
				"billing_info": {"plan": "pro"}
			}
		}]`))
	})

	p, err := c.FetchProfile(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if p.Role != domain.RoleManager || p.FullName != "Ana Souza" {
		t.Errorf("unexpected profile %+v", p)
	}
	if p.CreatedAt.IsZero() {
		t.Error("expected created_at to parse")
	}
	if p.Tenant == nil || p.Tenant.Slug != "acme" || p.Tenant.BillingInfo["plan"] != "pro" {
		t.Errorf("unexpected tenant %+v", p.Tenant)
	}
}

func TestFetchProfile_NoCompanyEmptyRole(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"` + testAccountID + `","email":"ana@example.com","role":null,"companies":null}]`))
	})

	p, err := c.FetchProfile(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if p.Role != "" || p.Tenant != nil {
		t.Errorf("expected empty role and no tenant, got %+v", p)
	}
	if p.EffectiveRole() != domain.RoleClient {
		t.Errorf("expected client default, got %s", p.EffectiveRole())
	}
}

func TestFetchProfile_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := c.FetchProfile(context.Background(), testAccountID)
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if nf.ID != testAccountID {
		t.Errorf("unexpected id %q", nf.ID)
	}
}

func TestFetchProfile_RejectsBadRows(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown role", body: `[{"id":"` + testAccountID + `","role":"superuser"}]`},
		{name: "other account", body: `[{"id":"` + testCompanyID + `","role":"admin"}]`},
		{name: "company status", body: `[{"id":"` + testAccountID + `","companies":{"id":"x","status":"deleted"}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := c.FetchProfile(context.Background(), testAccountID)
			var ve *domain.ErrValidation
			if !errors.As(err, &ve) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestFetchProfile_InvalidAccountID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.FetchProfile(context.Background(), "not-a-uuid")
	var ve *domain.ErrValidation
	if !errors.As(err, &ve) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
