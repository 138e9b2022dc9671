package sieve

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "cidrsieve"
	metricsSubsystem = "filter"

	resultMatched = "matched"
	resultNoMatch = "nomatch"
)

var (
	eventsTotal       *prometheus.CounterVec
	addressSkipsTotal prometheus.Counter
	metricsOnce       sync.Once
)

// initMetrics registers the filter metrics once, against an isolated
// registry under go test so parallel packages cannot collide.
func initMetrics() {
	metricsOnce.Do(func() {
		var registry prometheus.Registerer = prometheus.DefaultRegisterer
		if testing.Testing() {
			registry = prometheus.NewRegistry()
		}

		eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "events_total",
			Help:      "Events processed, by match result.",
		}, []string{"result"})

		addressSkipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "address_skips_total",
			Help:      "Candidate addresses skipped because they failed to parse.",
		})

		registry.MustRegister(eventsTotal, addressSkipsTotal)
	})
}

func incEvent(result string) {
	if eventsTotal != nil {
		eventsTotal.WithLabelValues(result).Inc()
	}
}

func incAddressSkip() {
	if addressSkipsTotal != nil {
		addressSkipsTotal.Inc()
	}
}
