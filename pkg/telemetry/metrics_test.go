package telemetry

import (
	"errors"
	"testing"

	errorsmod "cosmossdk.io/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygene76/streamspray/pkg/astronomy"
)

func TestObserveIntegration(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveIntegration(10, 2, nil)
	m.ObserveIntegration(5, 0, nil)
	m.ObserveIntegration(3, 1, errorsmod.Wrap(astronomy.ErrIntegrationDivergence, "budget"))
	m.ObserveIntegration(0, 0, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Integrations.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Integrations.WithLabelValues(OutcomeDiverged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Integrations.WithLabelValues(OutcomeError)))
	assert.Equal(t, 18.0, testutil.ToFloat64(m.Steps.WithLabelValues("accepted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Steps.WithLabelValues("rejected")))
}

func TestObserveRelease(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveRelease(false)
	m.ObserveRelease(false)
	m.ObserveRelease(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Releases.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Releases.WithLabelValues(OutcomeSkipped)))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveIntegration(1, 1, nil)
		m.ObserveRelease(true)
	})
}
