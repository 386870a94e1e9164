// Package psp normalises indices over the time axis of phase-space
// positions and applies them to sampled orbits.
package psp

import (
	"fmt"
	"strconv"
	"strings"

	errorsmod "cosmossdk.io/errors"

	"github.com/oxygene76/streamspray/pkg/astronomy"
)

// Index is anything that can select along an array axis.
type Index interface {
	fmt.Stringer
	isIndex()
}

// Shaped is implemented by array-like values.
type Shaped interface {
	Shape() []int
}

// Int selects a single position. Negative values count from the end.
type Int int

func (Int) isIndex()         {}
func (i Int) String() string { return strconv.Itoa(int(i)) }

// Slice selects [Start, Stop) with stride Step. Nil bounds run to the ends
// of the axis; a zero Step means 1.
type Slice struct {
	Start, Stop *int
	Step        int
}

// All selects every element.
func All() Slice { return Slice{} }

// Range selects [start, stop).
func Range(start, stop int) Slice { return Slice{Start: &start, Stop: &stop} }

// Every sets the stride.
func (s Slice) Every(step int) Slice {
	s.Step = step
	return s
}

func (Slice) isIndex() {}

func (s Slice) String() string {
	bound := func(p *int) string {
		if p == nil {
			return ""
		}
		return strconv.Itoa(*p)
	}
	out := bound(s.Start) + ":" + bound(s.Stop)
	if s.Step != 0 && s.Step != 1 {
		out += ":" + strconv.Itoa(s.Step)
	}
	return out
}

// indices resolves the slice against an axis of length n.
func (s Slice) indices(n int) []int {
	step := s.Step
	if step == 0 {
		step = 1
	}
	lo, hi := 0, n
	if step < 0 {
		lo, hi = -1, n-1
	}
	resolve := func(p *int, def int) int {
		if p == nil {
			return def
		}
		v := *p
		if v < 0 {
			v += n
		}
		return min(max(v, lo), hi)
	}

	var out []int
	if step > 0 {
		for i := resolve(s.Start, lo); i < resolve(s.Stop, hi); i += step {
			out = append(out, i)
		}
		return out
	}
	for i := resolve(s.Start, hi); i > resolve(s.Stop, lo); i += step {
		out = append(out, i)
	}
	return out
}

// Tuple indexes several axes at once.
type Tuple []Index

func (Tuple) isIndex() {}

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, idx := range t {
		parts[i] = idx.String()
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// BoolMask is a boolean array index in row-major order.
type BoolMask struct {
	Values []bool
	Dims   []int
}

// Mask builds a one-dimensional mask.
func Mask(values ...bool) BoolMask {
	return BoolMask{Values: values, Dims: []int{len(values)}}
}

// Mask2D builds a two-dimensional mask from rows of equal length.
func Mask2D(rows ...[]bool) BoolMask {
	m := BoolMask{Dims: []int{len(rows), 0}}
	for _, r := range rows {
		m.Dims[1] = len(r)
		m.Values = append(m.Values, r...)
	}
	return m
}

func (BoolMask) isIndex() {}

// Shape implements Shaped.
func (m BoolMask) Shape() []int { return m.Dims }

func (m BoolMask) String() string { return fmt.Sprintf("mask%v%v", Shape(m.Dims), m.Values) }

// Shape is a bare array shape, used to describe a time array.
type Shape []int

// Shape implements Shaped.
func (s Shape) Shape() []int { return s }

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// TimeIndex reduces an index into a phase-space array to the part that
// applies to its time array t. A time array with one dimension always
// selects everything under a tuple, and a broadcast true mask under a
// shaped index. Indices with as many dimensions as t or more fail with
// ErrIndexOutOfBounds. Any other index is returned unchanged.
func TimeIndex(index Index, t Shaped) (Index, error) {
	ndim := len(t.Shape())
	switch idx := index.(type) {
	case Tuple:
		switch {
		case len(idx) == 0, ndim == 1:
			return All(), nil
		case len(idx) >= ndim:
			return nil, tooManyDims(idx, t)
		}
		return idx, nil
	case Shaped:
		if ndim == 1 {
			return Mask(true), nil
		}
		if len(idx.Shape()) >= ndim {
			return nil, tooManyDims(index, t)
		}
		return index, nil
	}
	return index, nil
}

func tooManyDims(index Index, t Shaped) error {
	return errorsmod.Wrapf(astronomy.ErrIndexOutOfBounds,
		"Index %v has too many dimensions for time array of shape %v", index, Shape(t.Shape()))
}
