package observability

import (
	"time"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration    *prometheus.HistogramVec
	externalErrors     *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	resolutionFailures *prometheus.CounterVec
	assignments        *prometheus.CounterVec
	activations        *prometheus.CounterVec
	repairFailures     *prometheus.CounterVec
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
				Name:    "lending_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lending_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lending_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lending_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		resolutionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lending_resolution_failures_total",
				Help: "Identity sub-lookups that degraded to an empty contribution.",
			},
			[]string{"lookup"},
		),
		assignments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lending_assignments_total",
				Help: "Loan officer assignment outcomes.",
			},
			[]string{"outcome"},
		),
		activations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lending_activations_total",
				Help: "Invite activation outcomes.",
			},
			[]string{"status"},
		),
		repairFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lending_repair_failures_total",
				Help: "Best-effort side-effect writes that failed and were skipped.",
			},
			[]string{"kind"},
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

// IncrResolutionFailure counts a degraded identity lookup ("borrower", "partner").
func (m *Metrics) IncrResolutionFailure(lookup string) {
	m.resolutionFailures.WithLabelValues(lookup).Inc()
}

// IncrAssignment counts an assignment outcome ("assigned", "unassigned").
func (m *Metrics) IncrAssignment(outcome string) {
	m.assignments.WithLabelValues(outcome).Inc()
}

// IncrActivation counts an activation outcome.
func (m *Metrics) IncrActivation(status string) {
	m.activations.WithLabelValues(status).Inc()
}

// IncrRepairFailure counts a skipped best-effort write.
func (m *Metrics) IncrRepairFailure(kind string) {
	m.repairFailures.WithLabelValues(kind).Inc()
}

// GetAssignmentSnapshot returns a snapshot of assignment-related counters
// suitable for the GET /v1/metrics/assignment endpoint.
func (m *Metrics) GetAssignmentSnapshot() *domain.AssignmentMetrics {
	assigned := getCounterValue(m.assignments, "assigned")
	unassigned := getCounterValue(m.assignments, "unassigned")

	rate := float64(0)
	if assigned+unassigned > 0 {
		rate = assigned / (assigned + unassigned)
	}

	return &domain.AssignmentMetrics{
		Assigned:    int64(assigned),
		Unassigned:  int64(unassigned),
		Activations: int64(getCounterValue(m.activations, domain.ActivationStatusActivated)),
		NoBorrower:  int64(getCounterValue(m.activations, domain.ActivationStatusNoBorrower)),
		ResolutionFailures: int64(getCounterValue(m.resolutionFailures, "borrower") +
			getCounterValue(m.resolutionFailures, "partner")),
		RepairFailures: int64(getCounterValue(m.repairFailures, "primary_borrower") +
			getCounterValue(m.repairFailures, "co_borrower") +
			getCounterValue(m.repairFailures, "invite_request") +
			getCounterValue(m.repairFailures, "duplicate_contact")),
		AssignmentRate: rate,
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
