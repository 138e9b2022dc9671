package netlist

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "cidrsieve"
	metricsSubsystem = "networks"
)

var (
	entriesGauge     *prometheus.GaugeVec
	lastRefreshGauge *prometheus.GaugeVec
	refreshErrorsVec *prometheus.CounterVec
	parseSkipsVec    *prometheus.CounterVec
	metricsOnce      sync.Once
)

// initMetrics registers the network-source metrics once. Tests get an
// isolated registry so parallel packages cannot collide on registration.
func initMetrics() {
	metricsOnce.Do(func() {
		var registry prometheus.Registerer = prometheus.DefaultRegisterer
		if testing.Testing() {
			registry = prometheus.NewRegistry()
		}

		entriesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "entries",
			Help:      "Number of entries in each network source.",
		}, []string{"source"})

		lastRefreshGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "last_refresh_timestamp",
			Help:      "Unix timestamp of the last successful load per source.",
		}, []string{"source"})

		refreshErrorsVec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "refresh_errors_total",
			Help:      "Failed refreshes; the stale list stays in service.",
		}, []string{"source"})

		parseSkipsVec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "entry_skips_total",
			Help:      "Network entries skipped because they failed to parse.",
		}, []string{"source"})

		registry.MustRegister(entriesGauge, lastRefreshGauge, refreshErrorsVec, parseSkipsVec)
	})
}

func updateEntries(source string, count int) {
	if entriesGauge != nil {
		entriesGauge.WithLabelValues(source).Set(float64(count))
	}
}

func updateLastRefresh(source string, t time.Time) {
	if lastRefreshGauge != nil {
		lastRefreshGauge.WithLabelValues(source).Set(float64(t.Unix()))
	}
}

func incRefreshError(source string) {
	if refreshErrorsVec != nil {
		refreshErrorsVec.WithLabelValues(source).Inc()
	}
}

func addParseSkips(source string, n int) {
	if parseSkipsVec != nil && n > 0 {
		parseSkipsVec.WithLabelValues(source).Add(float64(n))
	}
}
