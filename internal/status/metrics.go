package status

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Ishannaik/Tweetcord/internal/bootstrap"
	"github.com/Ishannaik/Tweetcord/internal/registry"
)

// Metrics holds the Prometheus instruments exposed on /metrics. Each
// server owns its own registry so tests never collide on the global
// default registerer.
type Metrics struct {
	registry *prometheus.Registry

	stage           *prometheus.GaugeVec
	repairedRecords prometheus.Counter
	extensionLoads  *prometheus.CounterVec
	trackedAccounts prometheus.Gauge
	httpRequests    *prometheus.CounterVec
}

// NewMetrics creates the instrument set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stage: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tweetcord_bootstrap_stage",
			Help: "Current bootstrap stage (the active stage has value 1).",
		}, []string{"stage"}),
		repairedRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "tweetcord_repaired_records_total",
			Help: "Tracked-account records rewritten by consistency repair.",
		}),
		extensionLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetcord_extension_loads_total",
			Help: "Extension load attempts by outcome.",
		}, []string{"extension", "outcome"}),
		trackedAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tweetcord_tracked_accounts",
			Help: "Number of tracked accounts in the store.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetcord_http_requests_total",
			Help: "Status server requests by method and path.",
		}, []string{"method", "path"}),
	}
}

// SetStage marks the given stage as current.
func (m *Metrics) SetStage(s bootstrap.Stage) {
	m.stage.Reset()
	m.stage.WithLabelValues(string(s)).Set(1)
}

// ObserveRepair records a completed consistency repair batch.
func (m *Metrics) ObserveRepair(n int) {
	m.repairedRecords.Add(float64(n))
}

// ObserveExtensionLoads records the outcome of a LoadAll pass.
func (m *Metrics) ObserveExtensionLoads(results []registry.Result) {
	for _, r := range results {
		outcome := "ok"
		if r.Err != nil {
			outcome = "error"
		}
		m.extensionLoads.WithLabelValues(r.Name, outcome).Inc()
	}
}

// SetTrackedAccounts updates the store-size gauge.
func (m *Metrics) SetTrackedAccounts(n int) {
	m.trackedAccounts.Set(float64(n))
}

func (m *Metrics) observeRequest(method, path string) {
	m.httpRequests.WithLabelValues(method, path).Inc()
}
