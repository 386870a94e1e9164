package potential

import (
	"gonum.org/v1/gonum/num/hyperdual"

	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
)

type dvec = [3]hyperdual.Number

func cst(v float64) hyperdual.Number {
	return hyperdual.Number{Real: v}
}

func sq(x hyperdual.Number) hyperdual.Number {
	return hyperdual.Mul(x, x)
}

func div(x, y hyperdual.Number) hyperdual.Number {
	return hyperdual.Mul(x, hyperdual.Inv(y))
}

func addc(x hyperdual.Number, c float64) hyperdual.Number {
	return hyperdual.Add(x, cst(c))
}

func norm2(v dvec) hyperdual.Number {
	return hyperdual.Add(hyperdual.Add(sq(v[0]), sq(v[1])), sq(v[2]))
}

// shift returns v - c.
func shift(v dvec, c astromath.Vector3) dvec {
	return dvec{
		hyperdual.Sub(v[0], cst(c.X)),
		hyperdual.Sub(v[1], cst(c.Y)),
		hyperdual.Sub(v[2], cst(c.Z)),
	}
}

// lift embeds a plain position with zero infinitesimal parts.
func lift(x astromath.Vector3) dvec {
	return dvec{cst(x.X), cst(x.Y), cst(x.Z)}
}

// seed sets the E1 and E2 directions of a lifted position.
func seed(x astromath.Vector3, e1, e2 astromath.Vector3) dvec {
	return dvec{
		{Real: x.X, E1mag: e1.X, E2mag: e2.X},
		{Real: x.Y, E1mag: e1.Y, E2mag: e2.Y},
		{Real: x.Z, E1mag: e1.Z, E2mag: e2.Z},
	}
}

var axes = [3]astromath.Vector3{{X: 1}, {Y: 1}, {Z: 1}}
