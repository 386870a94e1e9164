package math

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// PhaseSpace is a 6D phase-space state: position followed by velocity.
type PhaseSpace struct {
	Position Vector3 `json:"position"`
	Velocity Vector3 `json:"velocity"`
}

// PhaseSpaceFromArray unpacks a [x, y, z, vx, vy, vz] state.
func PhaseSpaceFromArray(w [6]float64) PhaseSpace {
	return PhaseSpace{
		Position: Vector3{X: w[0], Y: w[1], Z: w[2]},
		Velocity: Vector3{X: w[3], Y: w[4], Z: w[5]},
	}
}

// Array packs the state as [x, y, z, vx, vy, vz].
func (w PhaseSpace) Array() [6]float64 {
	return [6]float64{
		w.Position.X, w.Position.Y, w.Position.Z,
		w.Velocity.X, w.Velocity.Y, w.Velocity.Z,
	}
}

// Distance is the Euclidean distance between two states in 6D.
func (w PhaseSpace) Distance(other PhaseSpace) float64 {
	a, b := w.Array(), other.Array()
	return floats.Distance(a[:], b[:], 2)
}

func (w PhaseSpace) String() string {
	return fmt.Sprintf("[%g %g %g | %g %g %g]",
		w.Position.X, w.Position.Y, w.Position.Z,
		w.Velocity.X, w.Velocity.Y, w.Velocity.Z)
}

// Linspace returns n evenly spaced values covering [start, end].
func Linspace(start, end float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	out := floats.Span(make([]float64, n), start, end)
	out[0], out[n-1] = start, end
	return out
}
