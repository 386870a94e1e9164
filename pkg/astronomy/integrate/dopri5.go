// Package integrate advances phase-space states through a potential: an
// adaptive Dormand-Prince 5(4) integrator with PID step-size control, and a
// fixed-grid kick-drift-kick leapfrog.
package integrate

import (
	"context"
	"math"

	errorsmod "cosmossdk.io/errors"

	"github.com/oxygene76/streamspray/pkg/astronomy"
	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
)

// Dynamics is the phase-space right-hand side dw/dt = F(t, w).
type Dynamics interface {
	AccelerationField(t float64, w [6]float64) [6]float64
}

// DynamicsFunc adapts a plain function to Dynamics.
type DynamicsFunc func(t float64, w [6]float64) [6]float64

// AccelerationField implements Dynamics.
func (f DynamicsFunc) AccelerationField(t float64, w [6]float64) [6]float64 { return f(t, w) }

// Observer is told the outcome of every Integrate call.
type Observer interface {
	ObserveIntegration(accepted, rejected int, err error)
}

const (
	// DefaultTolerance is used for both the absolute and relative tolerance.
	DefaultTolerance = 1e-7
	// DenseMaxSteps bounds the step count when dense output is requested.
	DenseMaxSteps = 4096

	errorOrder = 5
)

// Dormand-Prince tableau.
var (
	dpC = [7]float64{0, 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9, 1, 1}
	dpA = [7][6]float64{
		{},
		{1.0 / 5},
		{3.0 / 40, 9.0 / 40},
		{44.0 / 45, -56.0 / 15, 32.0 / 9},
		{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
		{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
		{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
	}
	// dpE is the difference between the 5th and embedded 4th order weights.
	dpE = [7]float64{
		35.0/384 - 5179.0/57600,
		0,
		500.0/1113 - 7571.0/16695,
		125.0/192 - 393.0/640,
		-2187.0/6784 + 92097.0/339200,
		11.0/84 - 187.0/2100,
		-1.0 / 40,
	}
	// dpP holds the coefficients of the 4th order continuous extension, one
	// row per stage, columns for theta^1..theta^4.
	dpP = [7][4]float64{
		{1, -8048581381.0 / 2820520608, 8663915743.0 / 2820520608, -12715105075.0 / 11282082432},
		{},
		{0, 131558114200.0 / 32700410799, -68118460800.0 / 10900136933, 87487479700.0 / 32700410799},
		{0, -1754552775.0 / 470086768, 14199869525.0 / 1410260304, -10690763975.0 / 1880347072},
		{0, 127303824393.0 / 49829197408, -318862633887.0 / 49829197408, 701980252875.0 / 199316789632},
		{0, -282668133.0 / 205662961, 2019193451.0 / 616988883, -1453857185.0 / 822651844},
		{0, 40617522.0 / 29380423, -110615467.0 / 29380423, 69997945.0 / 29380423},
	}
)

// PID holds the step-size controller coefficients. The zero-P, unit-I,
// zero-D setting is the classic integral controller.
type PID struct {
	P, I, D float64
}

// Dopri5 integrates orbits with adaptive Dormand-Prince 5(4) steps.
// It is stateless between calls and safe for concurrent use.
type Dopri5 struct {
	dyn       Dynamics
	rtol      float64
	atol      float64
	pid       PID
	safety    float64
	factorMin float64
	factorMax float64
	maxSteps  int // <0: policy default, 0: unbounded
	dense     bool
	observer  Observer
}

// Option configures a Dopri5.
type Option func(*Dopri5)

// WithTolerances overrides the relative and absolute tolerances.
func WithTolerances(rtol, atol float64) Option {
	return func(d *Dopri5) { d.rtol, d.atol = rtol, atol }
}

// WithPID overrides the controller coefficients.
func WithPID(pid PID) Option {
	return func(d *Dopri5) { d.pid = pid }
}

// WithMaxSteps fixes the step budget for every call; 0 means unbounded.
func WithMaxSteps(n int) Option {
	return func(d *Dopri5) { d.maxSteps = n }
}

// WithDenseOutput marks the integrator as a dense-output consumer, which
// bounds every call to DenseMaxSteps unless WithMaxSteps says otherwise.
func WithDenseOutput() Option {
	return func(d *Dopri5) { d.dense = true }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(d *Dopri5) { d.observer = o }
}

// NewDopri5 returns an integrator for dyn with tolerances of 1e-7.
func NewDopri5(dyn Dynamics, opts ...Option) *Dopri5 {
	d := &Dopri5{
		dyn:       dyn,
		rtol:      DefaultTolerance,
		atol:      DefaultTolerance,
		pid:       PID{P: 0, I: 1, D: 0},
		safety:    0.9,
		factorMin: 0.2,
		factorMax: 10,
		maxSteps:  -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Integrate advances w0 from t0 to t1.
//
// With saveTimes == nil the result holds exactly one state, the one at t1.
// Otherwise it holds one state per save time, interpolated with the dense
// output of the step that covers it; save times must lie within [t0, t1]
// and be ordered in the direction of integration.
//
// The step budget is unbounded, DenseMaxSteps with WithDenseOutput, or
// whatever WithMaxSteps fixed. Save times never bound the step count. Running out of steps,
// a collapsing step size or a non-finite error estimate all return
// ErrIntegrationDivergence and no states.
func (d *Dopri5) Integrate(ctx context.Context, w0 astromath.PhaseSpace, t0, t1 float64, saveTimes []float64) ([]astromath.PhaseSpace, error) {
	out, accepted, rejected, err := d.integrate(ctx, w0.Array(), t0, t1, saveTimes)
	if d.observer != nil {
		d.observer.ObserveIntegration(accepted, rejected, err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Final integrates w0 from t0 to t1 and returns only the final state.
func (d *Dopri5) Final(ctx context.Context, w0 astromath.PhaseSpace, t0, t1 float64) (astromath.PhaseSpace, error) {
	ws, err := d.Integrate(ctx, w0, t0, t1, nil)
	if err != nil {
		return astromath.PhaseSpace{}, err
	}
	return ws[0], nil
}

func (d *Dopri5) budget() int {
	switch {
	case d.maxSteps >= 0:
		return d.maxSteps
	case d.dense:
		return DenseMaxSteps
	default:
		return 0
	}
}

func (d *Dopri5) integrate(ctx context.Context, y [6]float64, t0, t1 float64, saveTimes []float64) ([]astromath.PhaseSpace, int, int, error) {
	if !finite6(y) || math.IsNaN(t0) || math.IsNaN(t1) {
		return nil, 0, 0, errorsmod.Wrapf(astronomy.ErrIntegrationDivergence, "non-finite initial condition %v at t=%g", y, t0)
	}
	dir := 1.0
	if t1 < t0 {
		dir = -1
	}
	for i, ts := range saveTimes {
		if (ts-t0)*dir < 0 || (t1-ts)*dir < 0 || (i > 0 && (ts-saveTimes[i-1])*dir < 0) {
			return nil, 0, 0, errorsmod.Wrapf(astronomy.ErrInvalidParameter,
				"save time %g (index %d) outside [%g, %g] or out of order", ts, i, t0, t1)
		}
	}

	saving := saveTimes != nil
	out := make([]astromath.PhaseSpace, 0, max(len(saveTimes), 1))
	next := 0
	emitUntil := func(tEnd float64, interp func(float64) [6]float64) {
		for next < len(saveTimes) && (saveTimes[next]-tEnd)*dir <= 0 {
			out = append(out, astromath.PhaseSpaceFromArray(interp(saveTimes[next])))
			next++
		}
	}

	if t0 == t1 {
		if !saving {
			return []astromath.PhaseSpace{astromath.PhaseSpaceFromArray(y)}, 0, 0, nil
		}
		emitUntil(t1, func(float64) [6]float64 { return y })
		return out, 0, 0, nil
	}

	t := t0
	f0 := d.dyn.AccelerationField(t, y)
	h := d.initialStep(t, y, f0, dir)
	if saving {
		emitUntil(t, func(float64) [6]float64 { return y })
	}

	budget := d.budget()
	var (
		accepted, rejected int
		prevErr, prevPrev  = 1.0, 1.0
		lastRejected       bool
		k                  [7][6]float64
	)
	for (t1-t)*dir > 0 {
		if err := ctx.Err(); err != nil {
			return nil, accepted, rejected, err
		}
		if budget > 0 && accepted+rejected >= budget {
			return nil, accepted, rejected, errorsmod.Wrapf(astronomy.ErrIntegrationDivergence,
				"step budget %d exhausted at t=%g of [%g, %g]", budget, t, t0, t1)
		}
		last := (t+h-t1)*dir >= 0
		if last {
			h = t1 - t
		}
		if !(math.Abs(h) > minStep(t)) {
			return nil, accepted, rejected, errorsmod.Wrapf(astronomy.ErrIntegrationDivergence,
				"step size underflow (h=%g) at t=%g", h, t)
		}

		yNew, errNorm := d.step(t, y, f0, h, &k)
		if math.IsNaN(errNorm) || math.IsInf(errNorm, 0) || !finite6(yNew) {
			return nil, accepted, rejected, errorsmod.Wrapf(astronomy.ErrIntegrationDivergence,
				"non-finite error estimate at t=%g, h=%g", t, h)
		}

		factor := d.factor(errNorm, prevErr, prevPrev)
		if errNorm <= 1 {
			tNew := arrival(t+h, t1, last)
			if saving {
				yOld, kk, tOld, hh := y, k, t, h
				emitUntil(tNew, func(ts float64) [6]float64 { return denseEval(yOld, &kk, tOld, hh, ts) })
			}
			t, y, f0 = tNew, yNew, k[6]
			prevPrev, prevErr = prevErr, math.Max(errNorm, 1e-10)
			accepted++
			if lastRejected {
				factor = math.Min(factor, 1)
			}
			lastRejected = false
		} else {
			rejected++
			lastRejected = true
			factor = math.Min(factor, 1)
		}
		h *= factor
	}

	if !saving {
		return []astromath.PhaseSpace{astromath.PhaseSpaceFromArray(y)}, accepted, rejected, nil
	}
	// Save times equal to t1 that rounding kept out of the last step.
	emitUntil(t1, func(float64) [6]float64 { return y })
	return out, accepted, rejected, nil
}

// step takes one Dormand-Prince step from (t, y) with f0 = F(t, y) and
// returns the 5th order solution and the scaled RMS error norm. The stage
// derivatives are left in k; k[6] is F(t+h, yNew).
func (d *Dopri5) step(t float64, y, f0 [6]float64, h float64, k *[7][6]float64) ([6]float64, float64) {
	k[0] = f0
	var yStage [6]float64
	for s := 1; s < 7; s++ {
		for i := 0; i < 6; i++ {
			acc := 0.0
			for j := 0; j < s; j++ {
				acc += dpA[s][j] * k[j][i]
			}
			yStage[i] = y[i] + h*acc
		}
		k[s] = d.dyn.AccelerationField(t+dpC[s]*h, yStage)
	}
	yNew := yStage

	sum := 0.0
	for i := 0; i < 6; i++ {
		e := 0.0
		for s := 0; s < 7; s++ {
			e += dpE[s] * k[s][i]
		}
		e *= h
		scale := d.atol + d.rtol*math.Max(math.Abs(y[i]), math.Abs(yNew[i]))
		sum += (e / scale) * (e / scale)
	}
	return yNew, math.Sqrt(sum / 6)
}

// factor is the PID step multiplier for the current error norm and the
// norms of the two previously accepted steps.
func (d *Dopri5) factor(errNorm, prevErr, prevPrev float64) float64 {
	if errNorm == 0 {
		return d.factorMax
	}
	b1 := (d.pid.P + d.pid.I + d.pid.D) / errorOrder
	b2 := -(d.pid.P + 2*d.pid.D) / errorOrder
	b3 := d.pid.D / errorOrder
	f := d.safety * math.Pow(1/errNorm, b1) * math.Pow(1/prevErr, b2) * math.Pow(1/prevPrev, b3)
	return math.Min(d.factorMax, math.Max(d.factorMin, f))
}

// initialStep picks the first step with the Hairer-Norsett-Wanner heuristic.
func (d *Dopri5) initialStep(t float64, y, f0 [6]float64, dir float64) float64 {
	var scale [6]float64
	for i := range y {
		scale[i] = d.atol + math.Abs(y[i])*d.rtol
	}
	rms := func(v [6]float64) float64 {
		s := 0.0
		for i := range v {
			s += (v[i] / scale[i]) * (v[i] / scale[i])
		}
		return math.Sqrt(s / 6)
	}

	d0, d1 := rms(y), rms(f0)
	h0 := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h0 = 0.01 * d0 / d1
	}
	var y1 [6]float64
	for i := range y {
		y1[i] = y[i] + dir*h0*f0[i]
	}
	f1 := d.dyn.AccelerationField(t+dir*h0, y1)
	var df [6]float64
	for i := range df {
		df[i] = f1[i] - f0[i]
	}
	d2 := rms(df) / h0

	var h1 float64
	if m := math.Max(d1, d2); m <= 1e-15 {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/m, 1.0/errorOrder)
	}
	return dir * math.Min(100*h0, h1)
}

// denseEval evaluates the continuous extension of the step (tOld, h) at ts.
func denseEval(y [6]float64, k *[7][6]float64, tOld, h, ts float64) [6]float64 {
	theta := (ts - tOld) / h
	pw := [4]float64{theta, theta * theta, theta * theta * theta, theta * theta * theta * theta}
	var out [6]float64
	for i := 0; i < 6; i++ {
		acc := 0.0
		for s := 0; s < 7; s++ {
			if k[s][i] == 0 {
				continue
			}
			q := dpP[s][0]*pw[0] + dpP[s][1]*pw[1] + dpP[s][2]*pw[2] + dpP[s][3]*pw[3]
			acc += k[s][i] * q
		}
		out[i] = y[i] + h*acc
	}
	return out
}

// minStep is the smallest step distinguishable from t.
// arrival returns the time reached by an accepted step ending at tNew. A
// remainder to t1 too small for another step counts as reaching t1.
func arrival(tNew, t1 float64, last bool) float64 {
	if last || math.Abs(t1-tNew) <= minStep(tNew) {
		return t1
	}
	return tNew
}

func minStep(t float64) float64 {
	return 10 * (math.Nextafter(math.Abs(t), math.Inf(1)) - math.Abs(t))
}

func finite6(v [6]float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
