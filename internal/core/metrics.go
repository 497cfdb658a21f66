// AngelaMos | 2026
// metrics.go

package core

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	dbCalls          *prometheus.CounterVec
	dbDuration       *prometheus.HistogramVec
	authzDecisions   *prometheus.CounterVec
	tenantResolution *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		dbCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "db",
			Name:      "statements_total",
			Help:      "Executor calls by operation and outcome.",
		}, []string{"op", "outcome", "stage"}),
		dbDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crm",
			Subsystem: "db",
			Name:      "statement_duration_seconds",
			Help:      "Executor call latency including connection checkout.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "tenant_bound"}),
		authzDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "authz",
			Name:      "decisions_total",
			Help:      "Permission guard decisions by check and outcome.",
		}, []string{"check", "outcome"}),
		tenantResolution: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "tenant",
			Name:      "resolutions_total",
			Help:      "Tenant context resolutions by mode and bypass flag.",
		}, []string{"mode", "bypass"}),
	}
}

func (m *Metrics) ObserveDB(
	op, outcome, stage string,
	bound bool,
	d time.Duration,
) {
	if m == nil {
		return
	}
	m.dbCalls.WithLabelValues(op, outcome, stage).Inc()
	m.dbDuration.WithLabelValues(op, strconv.FormatBool(bound)).
		Observe(d.Seconds())
}

func (m *Metrics) AuthzDecision(check, outcome string) {
	if m == nil {
		return
	}
	m.authzDecisions.WithLabelValues(check, outcome).Inc()
}

func (m *Metrics) TenantResolved(mode string, bypass bool) {
	if m == nil {
		return
	}
	m.tenantResolution.WithLabelValues(mode, strconv.FormatBool(bypass)).Inc()
}
