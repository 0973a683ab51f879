package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the provisioning workflows.
type Metrics struct {
	Requests      *prometheus.CounterVec
	Compensations *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
}

// New creates and registers the provisioning metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provisioning_requests_total",
			Help: "Provisioning requests by workflow kind and outcome",
		}, []string{"kind", "outcome"}),
		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provisioning_compensations_total",
			Help: "Compensating identity deletions by workflow kind and result",
		}, []string{"kind", "result"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provisioning_step_duration_seconds",
			Help:    "Duration of each workflow step",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind", "step"}),
	}
}

// IncRequest counts one finished request.
func (m *Metrics) IncRequest(kind, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(kind, outcome).Inc()
}

// IncCompensation counts one compensating action.
func (m *Metrics) IncCompensation(kind string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failed"
	}
	m.Compensations.WithLabelValues(kind, result).Inc()
}

// ObserveStep records the duration of one step.
func (m *Metrics) ObserveStep(kind, step string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(kind, step).Observe(d.Seconds())
}

// StepObserver adapts Metrics to the saga observer for one workflow kind.
type StepObserver struct {
	metrics *Metrics
	kind    string
}

func (m *Metrics) Observer(kind string) StepObserver {
	return StepObserver{metrics: m, kind: kind}
}

func (o StepObserver) StepDone(name string, elapsed time.Duration, _ error) {
	o.metrics.ObserveStep(o.kind, name, elapsed)
}

func (o StepObserver) Compensated(_ string, err error) {
	o.metrics.IncCompensation(o.kind, err)
}
