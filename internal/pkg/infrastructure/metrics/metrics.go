package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	SamplesIngested *prometheus.CounterVec
	SamplesRejected *prometheus.CounterVec
	AlertsRaised    *prometheus.CounterVec
	AlertsCleared   prometheus.Counter
	Evaluations     prometheus.Counter

	gatherer prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		SamplesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energy",
			Name:      "samples_ingested_total",
			Help:      "Number of accepted samples per transport.",
		}, []string{"source"}),
		SamplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energy",
			Name:      "samples_rejected_total",
			Help:      "Number of rejected samples per reason.",
		}, []string{"reason"}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energy",
			Name:      "alerts_raised_total",
			Help:      "Number of alerts raised per rule and severity.",
		}, []string{"rule", "severity"}),
		AlertsCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "energy",
			Name:      "alerts_cleared_total",
			Help:      "Number of alerts removed from the ledger.",
		}),
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "energy",
			Name:      "evaluations_total",
			Help:      "Number of anomaly evaluations run.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(m.SamplesIngested, m.SamplesRejected, m.AlertsRaised, m.AlertsCleared, m.Evaluations)

	return m
}

// NewNop returns metrics registered on a private registry, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
