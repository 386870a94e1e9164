package potential

import (
	"math"

	errorsmod "cosmossdk.io/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/oxygene76/streamspray/pkg/astronomy"
	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
)

// Field derives forces, density and tidal diagnostics from a Potential.
// It holds no mutable state and is safe for concurrent use.
type Field struct {
	Potential
	g float64
}

// NewField wraps p.
func NewField(p Potential) *Field {
	return &Field{Potential: p, g: p.Units().G()}
}

// G returns the gravitational constant in the field's units.
func (f *Field) G() float64 { return f.g }

// Value evaluates phi(x, t).
func (f *Field) Value(x astromath.Vector3, t float64) float64 {
	return f.Eval(lift(x), t).Real
}

// Gradient returns grad phi at (x, t). Two hyper-dual passes cover the
// three axes: the first carries x along E1 and y along E2.
func (f *Field) Gradient(x astromath.Vector3, t float64) astromath.Vector3 {
	xy := f.Eval(seed(x, axes[0], axes[1]), t)
	z := f.Eval(seed(x, axes[2], astromath.Vector3{}), t)
	return astromath.Vector3{X: xy.E1mag, Y: xy.E2mag, Z: z.E1mag}
}

// Acceleration is the negative gradient.
func (f *Field) Acceleration(x astromath.Vector3, t float64) astromath.Vector3 {
	return f.Gradient(x, t).Neg()
}

// Hessian returns the matrix of second position derivatives of phi.
func (f *Field) Hessian(x astromath.Vector3, t float64) *mat.SymDense {
	h := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			h.SetSym(i, j, f.Eval(seed(x, axes[i], axes[j]), t).E1E2mag)
		}
	}
	return h
}

// JacobianForce is the Jacobian of the gradient field.
func (f *Field) JacobianForce(x astromath.Vector3, t float64) *mat.Dense {
	return mat.DenseCopyOf(f.Hessian(x, t))
}

// Density follows from Poisson's equation: laplacian(phi) / (4 pi G).
func (f *Field) Density(x astromath.Vector3, t float64) float64 {
	return mat.Trace(f.Hessian(x, t)) / (4 * math.Pi * f.g)
}

// D2PhiDR2 is the derivative of (grad phi . r_hat) along r_hat, with r_hat
// frozen at x. This is r_hat^T H r_hat, a local stand-in for the spherical
// second radial derivative used by the tidal radius.
func (f *Field) D2PhiDR2(x astromath.Vector3, t float64) float64 {
	rHat := x.Scale(1 / x.Magnitude())
	return f.Eval(seed(x, rHat, rHat), t).E1E2mag
}

// Omega is the orbital angular frequency |x cross v| / |x|^2.
func Omega(x, v astromath.Vector3) float64 {
	return x.Cross(v).Magnitude() / x.Magnitude2()
}

// Omega is the orbital angular frequency |x cross v| / |x|^2.
func (f *Field) Omega(x, v astromath.Vector3) float64 {
	return Omega(x, v)
}

// TidalRadius returns (G msat / (Omega^2 - d2phi/dr2))^(1/3). A radicand
// that is not a positive finite number yields ErrDegenerateTidalRadius.
func (f *Field) TidalRadius(x, v astromath.Vector3, msat, t float64) (float64, error) {
	omega := Omega(x, v)
	d2 := f.D2PhiDR2(x, t)
	denom := omega*omega - d2
	radicand := f.g * msat / denom
	if !(denom > 0) || !(radicand > 0) || math.IsInf(radicand, 0) {
		return 0, errorsmod.Wrapf(astronomy.ErrDegenerateTidalRadius,
			"omega^2=%g d2phi/dr2=%g msat=%g at r=%g t=%g", omega*omega, d2, msat, x.Magnitude(), t)
	}
	return math.Cbrt(radicand), nil
}

// LagrangePoints returns the points one tidal radius inside and outside x
// along the radial direction.
func (f *Field) LagrangePoints(x, v astromath.Vector3, msat, t float64) (near, far astromath.Vector3, err error) {
	rt, err := f.TidalRadius(x, v, msat, t)
	if err != nil {
		return near, far, err
	}
	rHat := x.Normalize()
	return x.Sub(rHat.Scale(rt)), x.Add(rHat.Scale(rt)), nil
}

// AccelerationField is the phase-space right-hand side [v, -grad phi].
func (f *Field) AccelerationField(t float64, w [6]float64) [6]float64 {
	acc := f.Acceleration(astromath.Vector3{X: w[0], Y: w[1], Z: w[2]}, t)
	return [6]float64{w[3], w[4], w[5], acc.X, acc.Y, acc.Z}
}

// Energy is the specific orbital energy v^2/2 + phi(x, t).
func (f *Field) Energy(w astromath.PhaseSpace, t float64) float64 {
	return 0.5*w.Velocity.Dot(w.Velocity) + f.Value(w.Position, t)
}

// AngularMomentum is the specific angular momentum x cross v.
func AngularMomentum(w astromath.PhaseSpace) astromath.Vector3 {
	return w.Position.Cross(w.Velocity)
}
