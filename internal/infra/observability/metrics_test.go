package observability_test

import (
	"strings"
	"testing"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGetSessionSnapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrAuthEvent(domain.EventSignedIn)
	m.IncrAuthEvent(domain.EventSignedIn)
	m.IncrAuthEvent(domain.EventSignedOut)
	m.IncrProfileLookup(observability.LookupOK)
	m.IncrProfileLookup(observability.LookupOK)
	m.IncrProfileLookup(observability.LookupOK)
	m.IncrProfileLookup(observability.LookupError)
	m.IncrStaleResolution()
	m.IncrCacheHit("overview")
	m.IncrCacheMiss("overview")

	snap := m.GetSessionSnapshot()

	if snap.SignIns != 2 {
		t.Errorf("expected 2 sign-ins, got %d", snap.SignIns)
	}
	if snap.SignOuts != 1 {
		t.Errorf("expected 1 sign-out, got %d", snap.SignOuts)
	}
	if snap.ProfileLookups != 4 {
		t.Errorf("expected 4 lookups, got %d", snap.ProfileLookups)
	}
	if snap.ProfileErrorRate != 0.25 {
		t.Errorf("expected error rate 0.25, got %f", snap.ProfileErrorRate)
	}
	if snap.StaleResolutions != 1 {
		t.Errorf("expected 1 stale resolution, got %d", snap.StaleResolutions)
	}
	if snap.OverviewCacheHitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", snap.OverviewCacheHitRate)
	}
}

func TestNewMetrics_Twice(t *testing.T) {
	// Private registries: a second instance must not panic.
	observability.NewMetrics()
	observability.NewMetrics()
}

func TestActiveResolversGauge(t *testing.T) {
	m := observability.NewMetrics()

	m.ResolverOpened()
	m.ResolverOpened()
	m.ResolverClosed()

	expected := `
# HELP bfa_active_session_resolvers Session resolvers currently subscribed to auth events.
# TYPE bfa_active_session_resolvers gauge
bfa_active_session_resolvers 1
`
	if err := testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "bfa_active_session_resolvers"); err != nil {
		t.Error(err)
	}
}

func TestExternalErrorsByService(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrExternalError("supabase/users")
	m.IncrExternalError("supabase/users")
	m.IncrExternalError("postgres/users")

	n, err := testutil.GatherAndCount(m.Registry, "bfa_external_errors_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Errorf("expected one series per service, got %d", n)
	}
}
