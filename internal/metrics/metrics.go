package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the registry's Prometheus collectors. A single
// instance is created in main and shared by services and tasks.
type Metrics struct {
	registry *prometheus.Registry

	Submissions     *prometheus.CounterVec
	SyncFetched     prometheus.Counter
	SyncMerged      prometheus.Counter
	SyncErrors      prometheus.Counter
	SyncRuns        *prometheus.CounterVec
	CheckerOutcomes *prometheus.CounterVec
	WeightRuns      prometheus.Counter
	BootstrapActive prometheus.Gauge
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_coupon_submissions_total",
			Help: "Coupon action requests by action and result.",
		}, []string{"action", "result"}),
		SyncFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "registry_sync_coupons_fetched_total",
			Help: "Coupon records fetched from peers.",
		}),
		SyncMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "registry_sync_coupons_merged_total",
			Help: "Coupon records applied by the merge path.",
		}),
		SyncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "registry_sync_errors_total",
			Help: "Per-peer sync failures.",
		}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_sync_runs_total",
			Help: "Completed sync rounds by outcome status.",
		}, []string{"status"}),
		CheckerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_checker_outcomes_total",
			Help: "Redemption check outcomes by result.",
		}, []string{"result"}),
		WeightRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "registry_weight_calculations_total",
			Help: "Completed weight calculation rounds.",
		}),
		BootstrapActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "registry_sync_bootstrap_active",
			Help: "1 while a bootstrap sync is in flight.",
		}),
	}

	reg.MustRegister(
		m.Submissions, m.SyncFetched, m.SyncMerged, m.SyncErrors,
		m.SyncRuns, m.CheckerOutcomes, m.WeightRuns, m.BootstrapActive,
	)
	return m
}

// Handler exposes the registry in gin form for the /metrics route.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
