package potential

import (
	"math"

	"gonum.org/v1/gonum/num/hyperdual"

	"github.com/oxygene76/streamspray/pkg/astronomy/units"
)

// Isochrone is Henon's isochrone sphere: -G m / (a + sqrt(r^2 + a^2)).
type Isochrone struct {
	base
	m, a float64
}

// NewIsochrone builds an isochrone of mass m and scale radius a.
func NewIsochrone(sys units.System, m, a units.Quantity) (*Isochrone, error) {
	p := &Isochrone{base: newBase(sys)}
	if err := convertParams(sys,
		param{"m", m, units.Mass, &p.m, anyValue},
		param{"a", a, units.Length, &p.a, positive},
	); err != nil {
		return nil, wrapCtor("isochrone", err)
	}
	return p, nil
}

// Eval implements Potential.
func (p *Isochrone) Eval(xyz [3]hyperdual.Number, _ float64) hyperdual.Number {
	return isochrone(p.g*p.m, p.a, norm2(xyz))
}

// isochrone evaluates -gm / (a + sqrt(r2 + a^2)).
func isochrone(gm, a float64, r2 hyperdual.Number) hyperdual.Number {
	den := addc(hyperdual.Sqrt(addc(r2, a*a)), a)
	return hyperdual.Scale(-gm, hyperdual.Inv(den))
}

// MiyamotoNagai is the axisymmetric disk
// -G m / sqrt(R^2 + (sqrt(z^2 + b^2) + a)^2).
type MiyamotoNagai struct {
	base
	m, a, b float64
}

// NewMiyamotoNagai builds a disk of mass m, scale length a and scale height b.
func NewMiyamotoNagai(sys units.System, m, a, b units.Quantity) (*MiyamotoNagai, error) {
	p := &MiyamotoNagai{base: newBase(sys)}
	if err := convertParams(sys,
		param{"m", m, units.Mass, &p.m, anyValue},
		param{"a", a, units.Length, &p.a, nonNegative},
		param{"b", b, units.Length, &p.b, nonNegative},
	); err != nil {
		return nil, wrapCtor("miyamoto-nagai", err)
	}
	if p.a+p.b == 0 {
		return nil, wrapCtor("miyamoto-nagai", errZeroScale)
	}
	return p, nil
}

// Eval implements Potential.
func (p *MiyamotoNagai) Eval(xyz [3]hyperdual.Number, _ float64) hyperdual.Number {
	R2 := hyperdual.Add(sq(xyz[0]), sq(xyz[1]))
	zb := addc(hyperdual.Sqrt(addc(sq(xyz[2]), p.b*p.b)), p.a)
	den := hyperdual.Sqrt(hyperdual.Add(R2, sq(zb)))
	return hyperdual.Scale(-p.g*p.m, hyperdual.Inv(den))
}

// FlattenedNFW is an NFW halo parametrised by a circular-velocity scale and
// flattened in the potential (not the density) along z.
type FlattenedNFW struct {
	base
	vc, rs, q float64
}

// NewFlattenedNFW builds the halo from velocity scale vc, scale radius rs and
// flattening q.
func NewFlattenedNFW(sys units.System, vc, rs, q units.Quantity) (*FlattenedNFW, error) {
	p := &FlattenedNFW{base: newBase(sys)}
	if err := convertParams(sys,
		param{"v_c", vc, units.Velocity, &p.vc, anyValue},
		param{"r_s", rs, units.Length, &p.rs, positive},
		param{"q", q, units.None, &p.q, positive},
	); err != nil {
		return nil, wrapCtor("flattened nfw", err)
	}
	return p, nil
}

// Eval implements Potential.
func (p *FlattenedNFW) Eval(xyz [3]hyperdual.Number, _ float64) hyperdual.Number {
	zq := hyperdual.Scale(1/p.q, xyz[2])
	m := hyperdual.Sqrt(hyperdual.Add(hyperdual.Add(sq(xyz[0]), sq(xyz[1])), sq(zq)))
	s := hyperdual.Scale(1/p.rs, m)
	amp := -(p.vc * p.vc) / math.Sqrt(math.Ln2-0.5)
	return hyperdual.Scale(amp, div(hyperdual.Log(addc(s, 1)), s))
}

// nfwSoftening is added to r^2 to keep the NFW profile finite at the origin.
const nfwSoftening = 0.001

// NFW is the spherical mass-parametrised NFW halo with a small softening.
type NFW struct {
	base
	m, rs float64
}

// NewNFW builds the halo from its scale mass m and scale radius rs.
func NewNFW(sys units.System, m, rs units.Quantity) (*NFW, error) {
	p := &NFW{base: newBase(sys)}
	if err := convertParams(sys,
		param{"m", m, units.Mass, &p.m, anyValue},
		param{"r_s", rs, units.Length, &p.rs, positive},
	); err != nil {
		return nil, wrapCtor("nfw", err)
	}
	return p, nil
}

// Eval implements Potential.
func (p *NFW) Eval(xyz [3]hyperdual.Number, _ float64) hyperdual.Number {
	vh2 := -p.g * p.m / p.rs
	s := hyperdual.Scale(1/p.rs, hyperdual.Sqrt(addc(norm2(xyz), nfwSoftening)))
	return hyperdual.Scale(vh2, div(hyperdual.Log(addc(s, 1)), s))
}

// Bar is a rotating triaxial bar (Long & Murali 1992, eq. 8a) with pattern
// speed omega about z.
type Bar struct {
	base
	m, a, b, c, omega float64
}

// NewBar builds a bar of mass m, half-length a, scale lengths b and c, and
// pattern speed omega.
func NewBar(sys units.System, m, a, b, c, omega units.Quantity) (*Bar, error) {
	p := &Bar{base: newBase(sys)}
	if err := convertParams(sys,
		param{"m", m, units.Mass, &p.m, anyValue},
		param{"a", a, units.Length, &p.a, positive},
		param{"b", b, units.Length, &p.b, nonNegative},
		param{"c", c, units.Length, &p.c, nonNegative},
		param{"omega", omega, units.Frequency, &p.omega, anyValue},
	); err != nil {
		return nil, wrapCtor("bar", err)
	}
	return p, nil
}

// Eval implements Potential. Positions are rotated by -omega t into the
// co-rotating frame first.
func (p *Bar) Eval(xyz [3]hyperdual.Number, t float64) hyperdual.Number {
	ang := -p.omega * t
	cos, sin := math.Cos(ang), math.Sin(ang)
	x := hyperdual.Sub(hyperdual.Scale(cos, xyz[0]), hyperdual.Scale(sin, xyz[1]))
	y := hyperdual.Add(hyperdual.Scale(sin, xyz[0]), hyperdual.Scale(cos, xyz[1]))
	z := xyz[2]

	zc := addc(hyperdual.Sqrt(addc(sq(z), p.c*p.c)), p.b)
	rest := hyperdual.Add(sq(y), sq(zc))
	tPlus := hyperdual.Sqrt(hyperdual.Add(sq(addc(x, p.a)), rest))
	tMinus := hyperdual.Sqrt(hyperdual.Add(sq(addc(x, -p.a)), rest))

	num := hyperdual.Add(addc(x, -p.a), tMinus)
	den := hyperdual.Add(addc(x, p.a), tPlus)
	return hyperdual.Scale(p.g*p.m/(2*p.a), hyperdual.Log(div(num, den)))
}
