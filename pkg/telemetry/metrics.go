// Package telemetry exposes prometheus counters for orbit integrations and
// tidal releases.
package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oxygene76/streamspray/pkg/astronomy"
)

const namespace = "streamspray"

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeDiverged = "diverged"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
)

// Metrics groups the simulation counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Integrations *prometheus.CounterVec
	Steps        *prometheus.CounterVec
	Releases     *prometheus.CounterVec
}

// New creates the counters and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Integrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrations_total",
			Help:      "Orbit integrations by outcome.",
		}, []string{"outcome"}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integration_steps_total",
			Help:      "Adaptive steps taken, accepted or rejected.",
		}, []string{"kind"}),
		Releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Tidal release events by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.Integrations, m.Steps, m.Releases} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveIntegration records one integrator call.
func (m *Metrics) ObserveIntegration(accepted, rejected int, err error) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues("accepted").Add(float64(accepted))
	m.Steps.WithLabelValues("rejected").Add(float64(rejected))

	outcome := OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, astronomy.ErrIntegrationDivergence):
		outcome = OutcomeDiverged
	default:
		outcome = OutcomeError
	}
	m.Integrations.WithLabelValues(outcome).Inc()
}

// ObserveRelease records one release event.
func (m *Metrics) ObserveRelease(skipped bool) {
	if m == nil {
		return
	}
	if skipped {
		m.Releases.WithLabelValues(OutcomeSkipped).Inc()
		return
	}
	m.Releases.WithLabelValues(OutcomeOK).Inc()
}
