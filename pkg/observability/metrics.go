package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tenancy core
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec

	// Invitation lifecycle
	InvitationsSentTotal     prometheus.Counter
	InvitationsAcceptedTotal prometheus.Counter
	InvitationsResentTotal   prometheus.Counter
	InvitationsSweptTotal    prometheus.Counter

	// Membership lifecycle
	MembershipsCreatedTotal  *prometheus.CounterVec
	MembershipsRemovedTotal  prometheus.Counter
	OwnershipTransfersTotal  prometheus.Counter
	RoleChangesTotal         prometheus.Counter

	// Event dispatch
	EventsDispatchedTotal   *prometheus.CounterVec
	EventListenerFailures   *prometheus.CounterVec

	// Membership role cache
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all tenancy metrics on the registry. A
// nil registry uses the default Prometheus registerer.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_operations_total",
				Help: "Total number of core operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenancy_operation_duration_seconds",
				Help:    "Core operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		OperationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_operation_errors_total",
				Help: "Total number of failed core operations",
			},
			[]string{"operation", "kind"},
		),
		InvitationsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenancy_invitations_sent_total",
				Help: "Total number of invitations issued",
			},
		),
		InvitationsAcceptedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenancy_invitations_accepted_total",
				Help: "Total number of invitations accepted",
			},
		),
		InvitationsResentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenancy_invitations_resent_total",
				Help: "Total number of invitations resent with a fresh token",
			},
		),
		InvitationsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenancy_invitations_swept_total",
				Help: "Total number of expired invitations removed by the sweeper",
			},
		),
		MembershipsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_memberships_created_total",
				Help: "Total number of memberships created",
			},
			[]string{"source"},
		),
		MembershipsRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenancy_memberships_removed_total",
				Help: "Total number of memberships removed",
			},
		),
		OwnershipTransfersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenancy_ownership_transfers_total",
				Help: "Total number of completed ownership transfers",
			},
		),
		RoleChangesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenancy_role_changes_total",
				Help: "Total number of membership role changes",
			},
		),
		EventsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_events_dispatched_total",
				Help: "Total number of lifecycle events dispatched",
			},
			[]string{"event", "mode"},
		),
		EventListenerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_event_listener_failures_total",
				Help: "Total number of event listener failures across both dispatch modes",
			},
			[]string{"event"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_cache_hits_total",
				Help: "Total number of membership role cache hits",
			},
			[]string{"backend"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_cache_misses_total",
				Help: "Total number of membership role cache misses",
			},
			[]string{"backend"},
		),
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	if registry != nil {
		registerer = registry
	}
	registerer.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.OperationErrors,
		m.InvitationsSentTotal,
		m.InvitationsAcceptedTotal,
		m.InvitationsResentTotal,
		m.InvitationsSweptTotal,
		m.MembershipsCreatedTotal,
		m.MembershipsRemovedTotal,
		m.OwnershipTransfersTotal,
		m.RoleChangesTotal,
		m.EventsDispatchedTotal,
		m.EventListenerFailures,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// ObserveOperation records one operation outcome with its duration.
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// MetricsHandler returns an HTTP handler exposing the registry. A nil
// registry exposes the default gatherer.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
