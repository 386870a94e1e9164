package integrate

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygene76/streamspray/pkg/astronomy"
	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
	"github.com/oxygene76/streamspray/pkg/astronomy/potential"
	"github.com/oxygene76/streamspray/pkg/astronomy/units"
)

// circularOrbit returns an isochrone field, a circular orbit at r=5 in the
// x-y plane and its period.
func circularOrbit(t *testing.T) (*potential.Field, astromath.PhaseSpace, float64) {
	t.Helper()
	iso, err := potential.NewIsochrone(units.Dimensionless(), units.Raw(1e4), units.Raw(1))
	require.NoError(t, err)
	f := potential.NewField(iso)

	x := astromath.Vector3{X: 5}
	vc := math.Sqrt(x.Magnitude() * f.Acceleration(x, 0).Magnitude())
	w0 := astromath.PhaseSpace{Position: x, Velocity: astromath.Vector3{Y: vc}}
	return f, w0, 2 * math.Pi * x.Magnitude() / vc
}

type recorder struct {
	calls              int
	accepted, rejected int
	err                error
}

func (r *recorder) ObserveIntegration(accepted, rejected int, err error) {
	r.calls++
	r.accepted, r.rejected, r.err = accepted, rejected, err
}

func TestDopri5ClosesCircularOrbit(t *testing.T) {
	f, w0, period := circularOrbit(t)
	rec := &recorder{}
	ig := NewDopri5(f, WithObserver(rec))

	ws, err := ig.Integrate(context.Background(), w0, 0, period, nil)
	require.NoError(t, err)
	require.Len(t, ws, 1)

	scale := math.Sqrt(w0.Position.Magnitude2() + w0.Velocity.Magnitude2())
	assert.Less(t, ws[0].Distance(w0)/scale, 1e-4)

	assert.Equal(t, 1, rec.calls)
	assert.Positive(t, rec.accepted)
	assert.NoError(t, rec.err)
}

func TestDopri5SaveTimes(t *testing.T) {
	f, w0, period := circularOrbit(t)
	ig := NewDopri5(f)
	ctx := context.Background()

	saves := astromath.Linspace(0, period, 9)
	ws, err := ig.Integrate(ctx, w0, 0, period, saves)
	require.NoError(t, err)
	require.Len(t, ws, len(saves))
	assert.Equal(t, w0, ws[0])

	for i, w := range ws {
		assert.InDelta(t, 5, w.Position.Magnitude(), 1e-4, "save %d", i)
		assert.InDelta(t, 0, w.Position.Z, 1e-12, "save %d", i)
	}
	// A quarter period later the particle sits on the y axis.
	assert.InDelta(t, 5, ws[2].Position.Y, 1e-3)
	assert.InDelta(t, 0, ws[2].Position.X, 1e-3)

	final, err := ig.Final(ctx, w0, 0, period)
	require.NoError(t, err)
	assert.Less(t, final.Distance(ws[len(ws)-1]), 1e-9)
}

func TestDopri5SaveTimesSubset(t *testing.T) {
	f, w0, period := circularOrbit(t)
	ig := NewDopri5(f)

	ws, err := ig.Integrate(context.Background(), w0, 0, period, []float64{period / 4, period / 2})
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.InDelta(t, -5, ws[1].Position.X, 1e-3)
}

func TestDopri5RejectsBadSaveTimes(t *testing.T) {
	f, w0, _ := circularOrbit(t)
	ig := NewDopri5(f)
	ctx := context.Background()

	_, err := ig.Integrate(ctx, w0, 0, 1, []float64{0.5, 2})
	assert.ErrorIs(t, err, astronomy.ErrInvalidParameter)

	_, err = ig.Integrate(ctx, w0, 0, 1, []float64{0.5, 0.2})
	assert.ErrorIs(t, err, astronomy.ErrInvalidParameter)
}

func TestDopri5Backward(t *testing.T) {
	f, w0, period := circularOrbit(t)
	ig := NewDopri5(f)
	ctx := context.Background()

	mid, err := ig.Final(ctx, w0, 0, period/3)
	require.NoError(t, err)
	back, err := ig.Final(ctx, mid, period/3, 0)
	require.NoError(t, err)

	scale := math.Sqrt(w0.Position.Magnitude2() + w0.Velocity.Magnitude2())
	assert.Less(t, back.Distance(w0)/scale, 1e-4)

	saves := []float64{period / 3, period / 6, 0}
	ws, err := ig.Integrate(ctx, mid, period/3, 0, saves)
	require.NoError(t, err)
	require.Len(t, ws, 3)
	assert.Equal(t, mid, ws[0])
}

func TestDopri5ZeroSpan(t *testing.T) {
	f, w0, _ := circularOrbit(t)
	ws, err := NewDopri5(f).Integrate(context.Background(), w0, 2, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []astromath.PhaseSpace{w0}, ws)
}

func TestDopri5StepBudget(t *testing.T) {
	f, w0, period := circularOrbit(t)
	rec := &recorder{}
	ig := NewDopri5(f, WithMaxSteps(3), WithObserver(rec))

	ws, err := ig.Integrate(context.Background(), w0, 0, 10*period, nil)
	assert.Nil(t, ws)
	assert.ErrorIs(t, err, astronomy.ErrIntegrationDivergence)
	assert.ErrorIs(t, rec.err, astronomy.ErrIntegrationDivergence)
	assert.Equal(t, 3, rec.accepted+rec.rejected)
}

func TestDopri5BudgetPolicy(t *testing.T) {
	assert.Equal(t, 0, NewDopri5(nil).budget())
	assert.Equal(t, DenseMaxSteps, NewDopri5(nil, WithDenseOutput()).budget())
	assert.Equal(t, 10, NewDopri5(nil, WithMaxSteps(10)).budget())
	assert.Equal(t, 10, NewDopri5(nil, WithDenseOutput(), WithMaxSteps(10)).budget())
}

func TestDopri5SaveTimesDoNotBoundSteps(t *testing.T) {
	f, w0, period := circularOrbit(t)
	rec := &recorder{}
	ig := NewDopri5(f, WithObserver(rec))
	ctx := context.Background()
	tEnd := 150 * period

	saves := astromath.Linspace(0, tEnd, 11)
	ws, err := ig.Integrate(ctx, w0, 0, tEnd, saves)
	require.NoError(t, err)
	require.Len(t, ws, 11)
	assert.Greater(t, rec.accepted+rec.rejected, DenseMaxSteps)
	for i, w := range ws {
		assert.InDelta(t, 5, w.Position.Magnitude(), 5e-2, "save %d", i)
	}

	_, err = NewDopri5(f, WithDenseOutput()).Integrate(ctx, w0, 0, tEnd, saves)
	assert.ErrorIs(t, err, astronomy.ErrIntegrationDivergence)
}

func TestArrivalSnapsTinyRemainder(t *testing.T) {
	t1 := 129.8
	near := math.Nextafter(math.Nextafter(t1, 0), 0)
	assert.Equal(t, t1, arrival(near, t1, false))
	assert.Equal(t, 100.0, arrival(100, t1, false))
	assert.Equal(t, t1, arrival(100, t1, true))

	// Backward integration snaps from above.
	assert.Equal(t, -t1, arrival(math.Nextafter(-t1, 0), -t1, false))
}

func TestDopri5NonFinite(t *testing.T) {
	blowup := DynamicsFunc(func(_ float64, w [6]float64) [6]float64 {
		return [6]float64{w[3], w[4], w[5], math.NaN(), 0, 0}
	})
	_, err := NewDopri5(blowup).Integrate(context.Background(), astromath.PhaseSpace{}, 0, 1, nil)
	assert.ErrorIs(t, err, astronomy.ErrIntegrationDivergence)

	_, err = NewDopri5(blowup).Integrate(context.Background(),
		astromath.PhaseSpace{Position: astromath.Vector3{X: math.Inf(1)}}, 0, 1, nil)
	assert.ErrorIs(t, err, astronomy.ErrIntegrationDivergence)
}

func TestDopri5Cancelled(t *testing.T) {
	f, w0, period := circularOrbit(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDopri5(f).Integrate(ctx, w0, 0, period, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDopri5ExponentialDecay(t *testing.T) {
	// dx/dt = vx, dvx/dt = -vx: vx decays as e^-t, x approaches x0 + vx0.
	decay := DynamicsFunc(func(_ float64, w [6]float64) [6]float64 {
		return [6]float64{w[3], 0, 0, -w[3], 0, 0}
	})
	w0 := astromath.PhaseSpace{Velocity: astromath.Vector3{X: 1}}
	w, err := NewDopri5(decay).Final(context.Background(), w0, 0, 3)
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(-3), w.Velocity.X, 1e-6)
	assert.InDelta(t, 1-math.Exp(-3), w.Position.X, 1e-6)
}

func TestLeapfrogConservesEnergy(t *testing.T) {
	f, w0, period := circularOrbit(t)
	ts := astromath.Linspace(0, period, 4001)

	ws, err := Leapfrog(w0, ts, f.Gradient)
	require.NoError(t, err)
	require.Len(t, ws, len(ts))
	assert.Equal(t, w0, ws[0])

	e0 := f.Energy(w0, 0)
	for i := 0; i < len(ws); i += 200 {
		assert.InEpsilon(t, e0, f.Energy(ws[i], ts[i]), 1e-5, "step %d", i)
	}
	l0 := potential.AngularMomentum(w0)
	assert.InEpsilon(t, l0.Z, potential.AngularMomentum(ws[len(ws)-1]).Z, 1e-10)
}

func TestLeapfrogConstantForceIsExact(t *testing.T) {
	g := astromath.Vector3{X: 0.5, Z: -2}
	grad := func(astromath.Vector3, float64) astromath.Vector3 { return g }
	w0 := astromath.PhaseSpace{Velocity: astromath.Vector3{X: 1, Y: 2}}

	ts := astromath.Linspace(0, 2, 11)
	ws, err := Leapfrog(w0, ts, grad)
	require.NoError(t, err)

	last := ws[len(ws)-1]
	tf := ts[len(ts)-1]
	want := w0.Velocity.Scale(tf).Sub(g.Scale(0.5 * tf * tf))
	assert.InDelta(t, want.X, last.Position.X, 1e-12)
	assert.InDelta(t, want.Y, last.Position.Y, 1e-12)
	assert.InDelta(t, want.Z, last.Position.Z, 1e-12)
}

func TestLeapfrogZeroStepFallsBack(t *testing.T) {
	free := func(astromath.Vector3, float64) astromath.Vector3 { return astromath.Vector3{} }
	w0 := astromath.PhaseSpace{Velocity: astromath.Vector3{X: 1}}

	ws, err := Leapfrog(w0, []float64{0, 0.1, 0.1, 0.2}, free)
	require.NoError(t, err)
	require.Len(t, ws, 4)
	assert.InDelta(t, 0.1, ws[1].Position.X, 1e-15)
	assert.InDelta(t, 0.2, ws[2].Position.X, 1e-15)
	assert.InDelta(t, 0.3, ws[3].Position.X, 1e-15)
}

func TestLeapfrogNeedsTwoPoints(t *testing.T) {
	_, err := Leapfrog(astromath.PhaseSpace{}, []float64{0}, nil)
	assert.ErrorIs(t, err, astronomy.ErrInvalidParameter)
}
