package potential

import (
	errorsmod "cosmossdk.io/errors"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/num/hyperdual"

	"github.com/oxygene76/streamspray/pkg/astronomy"
	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
	"github.com/oxygene76/streamspray/pkg/astronomy/units"
)

// minSplinePoints is the smallest table a not-a-knot cubic can be fitted to.
const minSplinePoints = 4

// CenterTrack gives the position of a moving centre at time t.
type CenterTrack interface {
	Position(t float64) astromath.Vector3
}

// SplineTrack interpolates a sampled 3D trajectory with one not-a-knot
// cubic spline per coordinate. Outside the sampled range the first and last
// cubic pieces are extrapolated.
type SplineTrack struct {
	x, y, z     interp.NotAKnotCubic
	lo, hi      float64
	left, right endCubic
}

// endCubic is one cubic piece in Lagrange form, through four nodes of its
// interval.
type endCubic struct {
	nodes [4]float64
	vals  [4]astromath.Vector3
}

func (tr *SplineTrack) piece(a, b float64) endCubic {
	var e endCubic
	e.nodes = [4]float64{a, a + (b-a)/3, a + 2*(b-a)/3, b}
	for i, t := range e.nodes {
		e.vals[i] = tr.inside(t)
	}
	return e
}

func (e endCubic) eval(t float64) astromath.Vector3 {
	var out astromath.Vector3
	for i := range e.nodes {
		w := 1.0
		for j := range e.nodes {
			if j != i {
				w *= (t - e.nodes[j]) / (e.nodes[i] - e.nodes[j])
			}
		}
		out = out.Add(e.vals[i].Scale(w))
	}
	return out
}

// NewSplineTrack fits a track through pos sampled at ts. ts must be strictly
// increasing and have at least four samples.
func NewSplineTrack(ts []float64, pos []astromath.Vector3) (*SplineTrack, error) {
	if len(ts) != len(pos) {
		return nil, errorsmod.Wrapf(astronomy.ErrInvalidParameter,
			"track has %d times but %d positions", len(ts), len(pos))
	}
	if len(ts) < minSplinePoints {
		return nil, errorsmod.Wrapf(astronomy.ErrInvalidParameter,
			"track needs at least %d samples, got %d", minSplinePoints, len(ts))
	}
	for i := 1; i < len(ts); i++ {
		if !(ts[i] > ts[i-1]) {
			return nil, errorsmod.Wrapf(astronomy.ErrInvalidParameter,
				"track times not strictly increasing at index %d", i)
		}
	}

	xs := make([]float64, len(pos))
	ys := make([]float64, len(pos))
	zs := make([]float64, len(pos))
	for i, p := range pos {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}

	n := len(ts)
	tr := &SplineTrack{lo: ts[0], hi: ts[n-1]}
	for _, fit := range []struct {
		sp *interp.NotAKnotCubic
		v  []float64
	}{{&tr.x, xs}, {&tr.y, ys}, {&tr.z, zs}} {
		if err := fit.sp.Fit(ts, fit.v); err != nil {
			return nil, errorsmod.Wrapf(astronomy.ErrInvalidParameter, "fit track: %v", err)
		}
	}
	tr.left = tr.piece(ts[0], ts[1])
	tr.right = tr.piece(ts[n-2], ts[n-1])
	return tr, nil
}

func (tr *SplineTrack) inside(t float64) astromath.Vector3 {
	return astromath.Vector3{X: tr.x.Predict(t), Y: tr.y.Predict(t), Z: tr.z.Predict(t)}
}

// Position implements CenterTrack.
func (tr *SplineTrack) Position(t float64) astromath.Vector3 {
	switch {
	case t < tr.lo:
		return tr.left.eval(t)
	case t > tr.hi:
		return tr.right.eval(t)
	}
	return tr.inside(t)
}

// CenteredIsochrone is an isochrone that follows a CenterTrack while
// tMin < t < tMax, on top of an isochrone background that is always present.
type CenteredIsochrone struct {
	base
	m, a       float64
	track      CenterTrack
	tMin, tMax float64
	ext        *Isochrone
}

// NewCenteredIsochrone builds the moving isochrone (m, a) following track
// during (tMin, tMax) plus a static background isochrone (mExt, aExt).
func NewCenteredIsochrone(sys units.System, m, a units.Quantity, track CenterTrack,
	tMin, tMax, mExt, aExt units.Quantity) (*CenteredIsochrone, error) {
	if track == nil {
		return nil, wrapCtor("centered isochrone", errorsmod.Wrap(astronomy.ErrInvalidParameter, "nil track"))
	}
	p := &CenteredIsochrone{base: newBase(sys), track: track}
	if err := convertParams(sys,
		param{"m", m, units.Mass, &p.m, anyValue},
		param{"a", a, units.Length, &p.a, positive},
		param{"t_min", tMin, units.Time, &p.tMin, anyValue},
		param{"t_max", tMax, units.Time, &p.tMax, anyValue},
	); err != nil {
		return nil, wrapCtor("centered isochrone", err)
	}
	ext, err := NewIsochrone(sys, mExt, aExt)
	if err != nil {
		return nil, wrapCtor("centered isochrone background", err)
	}
	p.ext = ext
	return p, nil
}

// Eval implements Potential. The switch depends on t alone, so position
// derivatives are smooth on either side of the window edges.
func (p *CenteredIsochrone) Eval(xyz [3]hyperdual.Number, t float64) hyperdual.Number {
	bg := p.ext.Eval(xyz, t)
	if !(t > p.tMin && t < p.tMax) {
		return bg
	}
	rel := shift(xyz, p.track.Position(t))
	return hyperdual.Add(isochrone(p.g*p.m, p.a, norm2(rel)), bg)
}

// SubhaloPopulation sums isochrone subhaloes whose centres are interpolated
// from precomputed orbits.
type SubhaloPopulation struct {
	base
	gm, a  []float64
	tracks []*SplineTrack
}

// NewSubhaloPopulation builds the population from per-subhalo masses and
// scale radii, a trajectory table shaped [len(tOrbit)][n][3] and the orbit
// times. Trajectories and times are expected in the system basis already.
func NewSubhaloPopulation(sys units.System, masses, scales []units.Quantity,
	trajectories [][][3]float64, tOrbit []float64) (*SubhaloPopulation, error) {
	n := len(masses)
	if len(scales) != n {
		return nil, wrapCtor("subhalo population", errorsmod.Wrapf(astronomy.ErrInvalidParameter,
			"%d masses but %d scale radii", n, len(scales)))
	}
	if len(trajectories) != len(tOrbit) {
		return nil, wrapCtor("subhalo population", errorsmod.Wrapf(astronomy.ErrInvalidParameter,
			"trajectory table has %d rows for %d orbit times", len(trajectories), len(tOrbit)))
	}

	p := &SubhaloPopulation{
		base:   newBase(sys),
		gm:     make([]float64, n),
		a:      make([]float64, n),
		tracks: make([]*SplineTrack, n),
	}
	for j := 0; j < n; j++ {
		var m float64
		if err := convertParams(sys,
			param{"m", masses[j], units.Mass, &m, anyValue},
			param{"a", scales[j], units.Length, &p.a[j], positive},
		); err != nil {
			return nil, wrapCtor("subhalo population", errorsmod.Wrapf(err, "subhalo %d", j))
		}
		p.gm[j] = p.g * m

		pos := make([]astromath.Vector3, len(tOrbit))
		for i, row := range trajectories {
			if len(row) != n {
				return nil, wrapCtor("subhalo population", errorsmod.Wrapf(astronomy.ErrInvalidParameter,
					"trajectory row %d has %d subhaloes, want %d", i, len(row), n))
			}
			pos[i] = astromath.Vector3FromArray(row[j])
		}
		tr, err := NewSplineTrack(tOrbit, pos)
		if err != nil {
			return nil, wrapCtor("subhalo population", errorsmod.Wrapf(err, "subhalo %d", j))
		}
		p.tracks[j] = tr
	}
	return p, nil
}

// Len returns the number of subhaloes.
func (p *SubhaloPopulation) Len() int { return len(p.tracks) }

// Positions returns every subhalo centre at time t.
func (p *SubhaloPopulation) Positions(t float64) []astromath.Vector3 {
	out := make([]astromath.Vector3, len(p.tracks))
	for j, tr := range p.tracks {
		out[j] = tr.Position(t)
	}
	return out
}

// Eval implements Potential.
func (p *SubhaloPopulation) Eval(xyz [3]hyperdual.Number, t float64) hyperdual.Number {
	var sum hyperdual.Number
	for j, tr := range p.tracks {
		rel := shift(xyz, tr.Position(t))
		sum = hyperdual.Add(sum, isochrone(p.gm[j], p.a[j], norm2(rel)))
	}
	return sum
}
