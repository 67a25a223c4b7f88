package observability

import (
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Profile lookup outcomes.
const (
	LookupOK       = "ok"
	LookupNotFound = "not_found"
	LookupError    = "error"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	authEvents       *prometheus.CounterVec
	profileLookups   *prometheus.CounterVec
	staleResolutions prometheus.Counter
	activeResolvers  prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bfa_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		authEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_auth_events_total",
				Help: "Auth events emitted by the session backend.",
			},
			[]string{"kind"},
		),
		profileLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_profile_lookups_total",
				Help: "Profile lookups by outcome.",
			},
			[]string{"outcome"},
		),
		staleResolutions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bfa_stale_resolutions_total",
				Help: "Profile resolutions discarded because a newer identity won.",
			},
		),
		activeResolvers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bfa_active_session_resolvers",
				Help: "Session resolvers currently subscribed to auth events.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrAuthEvent counts an emitted auth event.
func (m *Metrics) IncrAuthEvent(kind domain.AuthEventKind) {
	m.authEvents.WithLabelValues(string(kind)).Inc()
}

// IncrProfileLookup counts a finished profile lookup by outcome.
func (m *Metrics) IncrProfileLookup(outcome string) {
	m.profileLookups.WithLabelValues(outcome).Inc()
}

// IncrStaleResolution counts a discarded resolution.
func (m *Metrics) IncrStaleResolution() {
	m.staleResolutions.Inc()
}

// ResolverOpened and ResolverClosed track live subscriptions.
func (m *Metrics) ResolverOpened() { m.activeResolvers.Inc() }
func (m *Metrics) ResolverClosed() { m.activeResolvers.Dec() }

// GetSessionSnapshot returns a snapshot of session-related metrics suitable
// for the GET /v1/metrics/session endpoint.
func (m *Metrics) GetSessionSnapshot() *domain.SessionMetrics {
	// Prometheus counters expose cumulative values.
	ok := getCounterValue(m.profileLookups, LookupOK)
	notFound := getCounterValue(m.profileLookups, LookupNotFound)
	failed := getCounterValue(m.profileLookups, LookupError)
	lookups := ok + notFound + failed

	hits := getCounterValue(m.cacheHits, "overview")
	misses := getCounterValue(m.cacheMisses, "overview")

	errorRate := float64(0)
	if lookups > 0 {
		errorRate = (notFound + failed) / lookups
	}
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	stale := &dto.Metric{}
	_ = m.staleResolutions.Write(stale)

	return &domain.SessionMetrics{
		SignIns:              int64(getCounterValue(m.authEvents, string(domain.EventSignedIn))),
		SignOuts:             int64(getCounterValue(m.authEvents, string(domain.EventSignedOut))),
		TokenRefreshes:       int64(getCounterValue(m.authEvents, string(domain.EventTokenRefreshed))),
		ProfileLookups:       int64(lookups),
		ProfileLookupErrors:  int64(failed),
		ProfileNotFound:      int64(notFound),
		StaleResolutions:     int64(stale.GetCounter().GetValue()),
		ProfileErrorRate:     errorRate,
		OverviewCacheHitRate: hitRate,
		Period:               "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
