package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.InvitationsSentTotal.Inc()
	m.InvitationsSentTotal.Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.InvitationsSentTotal))

	m.MembershipsCreatedTotal.WithLabelValues("invitation").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MembershipsCreatedTotal.WithLabelValues("invitation")))

	m.CacheHitsTotal.WithLabelValues("lru").Inc()
	m.CacheMissesTotal.WithLabelValues("redis").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("lru")))
}

func TestObserveOperation(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ObserveOperation("send_invite", time.Now(), nil)
	m.ObserveOperation("send_invite", time.Now(), errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.OperationsTotal.WithLabelValues("send_invite", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OperationsTotal.WithLabelValues("send_invite", "error")))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.OwnershipTransfersTotal.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenancy_ownership_transfers_total 1")
}
