package study

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's Prometheus instrumentation.
type Metrics struct {
	StudiesLoaded      prometheus.Counter
	LoadErrors         prometheus.Counter
	LifecycleErrors    prometheus.Counter
	EnvelopesDelivered prometheus.Counter
	EnvelopesDropped   prometheus.Counter
	Reloads            prometheus.Counter
}

// NewMetrics registers the runtime counters on reg. A nil registerer
// gets a private registry, which keeps tests isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		StudiesLoaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "studyhost_studies_loaded_total",
			Help: "Study sources evaluated, validated and registered.",
		}),
		LoadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "studyhost_load_errors_total",
			Help: "Study sources that failed to read, evaluate or validate.",
		}),
		LifecycleErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "studyhost_lifecycle_errors_total",
			Help: "Lifecycle calls that returned an error or panicked.",
		}),
		EnvelopesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "studyhost_envelopes_delivered_total",
			Help: "Update envelopes fully fanned out to enabled studies.",
		}),
		EnvelopesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "studyhost_envelopes_dropped_total",
			Help: "Update envelopes dropped because the coordinator was not ready.",
		}),
		Reloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "studyhost_reloads_total",
			Help: "Hot reloads triggered by source changes.",
		}),
	}
}
