package units

import (
	"fmt"
	"math"

	errorsmod "cosmossdk.io/errors"

	"github.com/oxygene76/streamspray/pkg/astronomy"
)

// System is the numeric basis every potential parameter is converted into.
// The zero value is not usable; use NewSystem, Galactic or Dimensionless.
type System struct {
	Length, Time, Mass, Angle Unit

	dimensionless bool
}

// NewSystem builds a unit system from one unit per base dimension.
func NewSystem(length, time, mass, angle Unit) (System, error) {
	checks := []struct {
		u    Unit
		want Dimension
	}{{length, Length}, {time, Time}, {mass, Mass}, {angle, Angle}}
	for _, c := range checks {
		if c.u.Dim != c.want || c.u.SI <= 0 {
			return System{}, errorsmod.Wrapf(astronomy.ErrUnitMismatch,
				"unit %q cannot serve as the %s base", c.u.Name, c.want)
		}
	}
	return System{Length: length, Time: time, Mass: mass, Angle: angle}, nil
}

// Galactic is the (kpc, Myr, Msun, rad) system.
func Galactic() System {
	return System{Length: Kiloparsec, Time: Myr, Mass: Msun, Angle: Radian}
}

// Dimensionless is the system in which G = 1 and only raw numbers are accepted.
func Dimensionless() System {
	return System{dimensionless: true}
}

// ByName resolves "galactic" or "dimensionless".
func ByName(name string) (System, error) {
	switch name {
	case "galactic", "":
		return Galactic(), nil
	case "dimensionless":
		return Dimensionless(), nil
	default:
		return System{}, errorsmod.Wrapf(astronomy.ErrUnitMismatch, "unknown unit system %q", name)
	}
}

// IsDimensionless reports whether the system has no physical basis.
func (s System) IsDimensionless() bool { return s.dimensionless }

// G returns the gravitational constant expressed in the system.
func (s System) G() float64 {
	if s.dimensionless {
		return 1
	}
	return GravitationalConstantSI * s.Mass.SI * s.Time.SI * s.Time.SI /
		(s.Length.SI * s.Length.SI * s.Length.SI)
}

// scale is the SI size of one basis unit of dimension d.
func (s System) scale(d Dimension) float64 {
	return math.Pow(s.Length.SI, float64(d.L)) *
		math.Pow(s.Time.SI, float64(d.T)) *
		math.Pow(s.Mass.SI, float64(d.M)) *
		math.Pow(s.Angle.SI, float64(d.A))
}

// Convert expresses q in the system, checking that it carries the expected
// dimension. Raw quantities are returned as is.
func (s System) Convert(q Quantity, want Dimension) (float64, error) {
	if q.raw {
		return q.Value, nil
	}
	if s.dimensionless {
		if q.Unit.Dim == None && q.Unit.SI == 1 {
			return q.Value, nil
		}
		return 0, errorsmod.Wrapf(astronomy.ErrUnitMismatch,
			"quantity %s has physical units but the unit system is dimensionless", q)
	}
	if !q.Unit.Dim.Compatible(want) {
		return 0, errorsmod.Wrapf(astronomy.ErrUnitMismatch,
			"quantity %s has dimension %s, want %s", q, q.Unit.Dim, want)
	}
	// Angle exponents may differ (km/s/kpc vs rad/Myr); convert only those
	// the quantity actually carries.
	return q.Value * q.Unit.SI / s.scale(q.Unit.Dim), nil
}

func (s System) String() string {
	if s.dimensionless {
		return "dimensionless"
	}
	return fmt.Sprintf("(%s, %s, %s, %s)", s.Length, s.Time, s.Mass, s.Angle)
}
