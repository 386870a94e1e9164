package integrate

import (
	"math"

	errorsmod "cosmossdk.io/errors"

	"github.com/oxygene76/streamspray/pkg/astronomy"
	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
)

// GradientFunc returns grad phi at (x, t).
type GradientFunc func(x astromath.Vector3, t float64) astromath.Vector3

// zeroStep is the spacing below which a grid step counts as empty.
const zeroStep = 1e-15

// Leapfrog integrates w0 over the time grid ts with kick-drift-kick steps,
// one per grid interval, and returns one state per grid point with w0
// first. An interval that is numerically zero is replaced by the grid's
// final spacing; time then advances by the steps actually taken.
func Leapfrog(w0 astromath.PhaseSpace, ts []float64, grad GradientFunc) ([]astromath.PhaseSpace, error) {
	n := len(ts)
	if n < 2 {
		return nil, errorsmod.Wrapf(astronomy.ErrInvalidParameter, "leapfrog needs at least 2 grid points, got %d", n)
	}
	fallback := ts[n-1] - ts[n-2]

	out := make([]astromath.PhaseSpace, n)
	out[0] = w0
	x, v, t := w0.Position, w0.Velocity, ts[0]
	acc := grad(x, t).Neg()
	for k := 0; k < n-1; k++ {
		dt := ts[k+1] - ts[k]
		if math.Abs(dt) < zeroStep {
			dt = fallback
		}

		// kick
		v = v.Add(acc.Scale(0.5 * dt))
		// drift
		x = x.Add(v.Scale(dt))
		t += dt
		// kick
		acc = grad(x, t).Neg()
		v = v.Add(acc.Scale(0.5 * dt))

		out[k+1] = astromath.PhaseSpace{Position: x, Velocity: v}
	}
	return out, nil
}
