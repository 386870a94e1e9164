// Package potential implements analytic gravitational potentials and the
// quantities derived from them (forces, density, tidal radius).
//
// Every potential implements a single method, Eval, over hyper-dual numbers.
// Field differentiates it in forward mode, so gradients, Hessians and
// directional second derivatives are exact up to rounding, with no finite
// differencing and no per-potential derivative code.
package potential

import (
	"fmt"
	"math"

	errorsmod "cosmossdk.io/errors"
	"gonum.org/v1/gonum/num/hyperdual"

	"github.com/oxygene76/streamspray/pkg/astronomy"
	"github.com/oxygene76/streamspray/pkg/astronomy/units"
)

// Potential is a scalar field phi(x, t).
//
// Eval must be built only from hyperdual arithmetic on xyz so that it can be
// differentiated with respect to position. Time is a plain float: no
// derivative with respect to t is ever taken.
type Potential interface {
	Units() units.System
	Eval(xyz [3]hyperdual.Number, t float64) hyperdual.Number
}

// base carries the unit system and G shared by every concrete potential.
type base struct {
	sys units.System
	g   float64
}

func newBase(sys units.System) base {
	return base{sys: sys, g: sys.G()}
}

// Units returns the unit system the parameters were converted into.
func (b base) Units() units.System { return b.sys }

var errZeroScale = errorsmod.Wrap(astronomy.ErrInvalidParameter, "scale lengths a and b cannot both be zero")

type constraint int

const (
	anyValue constraint = iota
	positive
	nonNegative
)

// param describes one constructor argument and where its converted value goes.
type param struct {
	name string
	q    units.Quantity
	dim  units.Dimension
	dst  *float64
	rule constraint
}

// convertParams converts every parameter into sys, failing on the first
// unit mismatch or out-of-range value.
func convertParams(sys units.System, params ...param) error {
	for _, p := range params {
		v, err := sys.Convert(p.q, p.dim)
		if err != nil {
			return errorsmod.Wrapf(err, "parameter %s", p.name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errorsmod.Wrapf(astronomy.ErrInvalidParameter, "parameter %s is not finite", p.name)
		}
		switch {
		case p.rule == positive && v <= 0:
			return errorsmod.Wrapf(astronomy.ErrInvalidParameter, "parameter %s must be positive, got %g", p.name, v)
		case p.rule == nonNegative && v < 0:
			return errorsmod.Wrapf(astronomy.ErrInvalidParameter, "parameter %s must be non-negative, got %g", p.name, v)
		}
		*p.dst = v
	}
	return nil
}

func wrapCtor(name string, err error) error {
	return fmt.Errorf("%s: %w", name, err)
}
