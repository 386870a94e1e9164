// Package units converts physical quantities into the numeric basis used by
// the potentials and integrators.
//
// A System names one unit per base dimension (length, time, mass, angle).
// Quantities are converted exactly once, when a potential is constructed;
// everything downstream works on plain float64 values in that basis.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	errorsmod "cosmossdk.io/errors"

	"github.com/oxygene76/streamspray/pkg/astronomy"
)

// GravitationalConstantSI is CODATA 2018 G in m^3 kg^-1 s^-2.
const GravitationalConstantSI = 6.67430e-11

// Dimension holds the exponents of length, time, mass and angle.
type Dimension struct {
	L, T, M, A int8
}

// Common dimensions.
var (
	None      = Dimension{}
	Length    = Dimension{L: 1}
	Time      = Dimension{T: 1}
	Mass      = Dimension{M: 1}
	Angle     = Dimension{A: 1}
	Velocity  = Dimension{L: 1, T: -1}
	Frequency = Dimension{T: -1}
)

// Compatible reports whether two dimensions agree in length, time and mass.
// Angles are dimensionless, so their exponent is not compared.
func (d Dimension) Compatible(other Dimension) bool {
	return d.L == other.L && d.T == other.T && d.M == other.M
}

func (d Dimension) String() string {
	return fmt.Sprintf("L^%d T^%d M^%d A^%d", d.L, d.T, d.M, d.A)
}

// Unit is a named physical unit with its size in SI (radian for angles).
type Unit struct {
	Name string
	Dim  Dimension
	SI   float64
}

// Mul returns the product unit.
func (u Unit) Mul(other Unit) Unit {
	return Unit{
		Name: u.Name + "*" + other.Name,
		Dim:  Dimension{u.Dim.L + other.Dim.L, u.Dim.T + other.Dim.T, u.Dim.M + other.Dim.M, u.Dim.A + other.Dim.A},
		SI:   u.SI * other.SI,
	}
}

// Div returns the quotient unit.
func (u Unit) Div(other Unit) Unit {
	return Unit{
		Name: u.Name + "/" + other.Name,
		Dim:  Dimension{u.Dim.L - other.Dim.L, u.Dim.T - other.Dim.T, u.Dim.M - other.Dim.M, u.Dim.A - other.Dim.A},
		SI:   u.SI / other.SI,
	}
}

// Pow raises the unit to an integer power.
func (u Unit) Pow(n int) Unit {
	p := int8(n)
	return Unit{
		Name: fmt.Sprintf("%s^%d", u.Name, n),
		Dim:  Dimension{u.Dim.L * p, u.Dim.T * p, u.Dim.M * p, u.Dim.A * p},
		SI:   math.Pow(u.SI, float64(n)),
	}
}

func (u Unit) String() string { return u.Name }

// Base and derived units.
var (
	One = Unit{Name: "", Dim: None, SI: 1}

	Meter      = Unit{Name: "m", Dim: Length, SI: 1}
	Kilometer  = Unit{Name: "km", Dim: Length, SI: 1e3}
	AU         = Unit{Name: "AU", Dim: Length, SI: 1.495978707e11}
	Parsec     = Unit{Name: "pc", Dim: Length, SI: 3.0856775814913673e16}
	Kiloparsec = Unit{Name: "kpc", Dim: Length, SI: 3.0856775814913673e19}

	Second = Unit{Name: "s", Dim: Time, SI: 1}
	Year   = Unit{Name: "yr", Dim: Time, SI: 3.15576e7}
	Myr    = Unit{Name: "Myr", Dim: Time, SI: 3.15576e13}
	Gyr    = Unit{Name: "Gyr", Dim: Time, SI: 3.15576e16}

	Kilogram = Unit{Name: "kg", Dim: Mass, SI: 1}
	Msun     = Unit{Name: "Msun", Dim: Mass, SI: 1.988409870698051e30}

	Radian = Unit{Name: "rad", Dim: Angle, SI: 1}
	Degree = Unit{Name: "deg", Dim: Angle, SI: math.Pi / 180}

	KilometerPerSecond = Unit{Name: "km/s", Dim: Velocity, SI: 1e3}
)

var registry = map[string]Unit{
	"m": Meter, "km": Kilometer, "AU": AU, "au": AU, "pc": Parsec, "kpc": Kiloparsec,
	"s": Second, "yr": Year, "Myr": Myr, "Gyr": Gyr,
	"kg": Kilogram, "Msun": Msun, "solMass": Msun,
	"rad": Radian, "deg": Degree,
}

// Parse reads a unit expression such as "kpc", "km/s", "km/s/kpc" or
// "kpc^3/Myr^2". Factors are joined by '*' and '/' and may carry an integer
// exponent.
func Parse(expr string) (Unit, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return One, nil
	}
	out := One
	parts := strings.Split(expr, "/")
	for i, part := range parts {
		for _, factor := range strings.Split(part, "*") {
			u, err := parseFactor(strings.TrimSpace(factor))
			if err != nil {
				return Unit{}, err
			}
			if i == 0 {
				out = out.Mul(u)
			} else {
				out = out.Div(u)
			}
		}
	}
	out.Name = expr
	return out, nil
}

func parseFactor(f string) (Unit, error) {
	name, exp := f, 1
	if idx := strings.IndexByte(f, '^'); idx >= 0 {
		n, err := strconv.Atoi(f[idx+1:])
		if err != nil {
			return Unit{}, errorsmod.Wrapf(astronomy.ErrUnitMismatch, "bad exponent in %q", f)
		}
		name, exp = f[:idx], n
	}
	u, ok := registry[name]
	if !ok {
		return Unit{}, errorsmod.Wrapf(astronomy.ErrUnitMismatch, "unknown unit %q", name)
	}
	if exp != 1 {
		u = u.Pow(exp)
	}
	return u, nil
}

// Quantity is a value with a unit. The zero Unit together with raw=true marks
// a number that is already expressed in the active basis.
type Quantity struct {
	Value float64
	Unit  Unit
	raw   bool
}

// Q builds a quantity with a physical unit.
func Q(value float64, unit Unit) Quantity {
	return Quantity{Value: value, Unit: unit}
}

// Raw builds a quantity that is already in the active basis and is passed
// through conversion untouched.
func Raw(value float64) Quantity {
	return Quantity{Value: value, raw: true}
}

// IsRaw reports whether the quantity bypasses conversion.
func (q Quantity) IsRaw() bool { return q.raw }

func (q Quantity) String() string {
	if q.raw || q.Unit.Name == "" {
		return strconv.FormatFloat(q.Value, 'g', -1, 64)
	}
	return strconv.FormatFloat(q.Value, 'g', -1, 64) + " " + q.Unit.Name
}

// ParseQuantity reads "<number> [unit]". A bare number is a Raw quantity.
func ParseQuantity(s string) (Quantity, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Quantity{}, errorsmod.Wrap(astronomy.ErrInvalidParameter, "empty quantity")
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Quantity{}, errorsmod.Wrapf(astronomy.ErrInvalidParameter, "quantity %q: %v", s, err)
	}
	if len(fields) == 1 {
		return Raw(v), nil
	}
	u, err := Parse(strings.Join(fields[1:], ""))
	if err != nil {
		return Quantity{}, err
	}
	return Q(v, u), nil
}
