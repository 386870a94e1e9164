package psp

import (
	errorsmod "cosmossdk.io/errors"

	"github.com/oxygene76/streamspray/pkg/astronomy"
	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
)

// Orbit is a sampled trajectory; Times and States are aligned.
type Orbit struct {
	Times  []float64              `json:"times"`
	States []astromath.PhaseSpace `json:"states"`
}

// NewOrbit pairs times with states.
func NewOrbit(times []float64, states []astromath.PhaseSpace) (Orbit, error) {
	if len(times) != len(states) {
		return Orbit{}, errorsmod.Wrapf(astronomy.ErrInvalidParameter,
			"orbit has %d times but %d states", len(times), len(states))
	}
	return Orbit{Times: times, States: states}, nil
}

// Len returns the number of samples.
func (o Orbit) Len() int { return len(o.Times) }

// Shape implements Shaped for the time axis.
func (o Orbit) Shape() []int { return []int{len(o.Times)} }

// Final returns the last sample. It panics on an empty orbit.
func (o Orbit) Final() (float64, astromath.PhaseSpace) {
	n := len(o.Times) - 1
	return o.Times[n], o.States[n]
}

// Select applies the time part of index to the orbit. Int and Slice pick
// samples; tuples and masks address the particle axes and, on a single
// orbit's one-dimensional time axis, keep every sample.
func (o Orbit) Select(index Index) (Orbit, error) {
	idx, err := TimeIndex(index, o)
	if err != nil {
		return Orbit{}, err
	}
	n := o.Len()

	var picks []int
	switch idx := idx.(type) {
	case Int:
		i := int(idx)
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return Orbit{}, errorsmod.Wrapf(astronomy.ErrIndexOutOfBounds,
				"index %d out of range for orbit of length %d", int(idx), n)
		}
		picks = []int{i}
	case Slice:
		picks = idx.indices(n)
	case BoolMask:
		if len(idx.Values) != 1 && len(idx.Values) != n {
			return Orbit{}, errorsmod.Wrapf(astronomy.ErrIndexOutOfBounds,
				"mask of length %d does not match orbit of length %d", len(idx.Values), n)
		}
		for i := 0; i < n; i++ {
			if idx.Values[min(i, len(idx.Values)-1)] {
				picks = append(picks, i)
			}
		}
	default:
		return Orbit{}, errorsmod.Wrapf(astronomy.ErrIndexOutOfBounds, "unsupported index %v", idx)
	}

	out := Orbit{
		Times:  make([]float64, len(picks)),
		States: make([]astromath.PhaseSpace, len(picks)),
	}
	for j, i := range picks {
		out.Times[j], out.States[j] = o.Times[i], o.States[i]
	}
	return out, nil
}
