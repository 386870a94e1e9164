package math

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vector3 is a Cartesian position, velocity or acceleration. It shares its
// layout with r3.Vec and delegates the algebra to it.
type Vector3 struct {
	X, Y, Z float64
}

func (v Vector3) vec() r3.Vec { return r3.Vec(v) }
func fromVec(p r3.Vec) Vector3 { return Vector3(p) }

// Vector3FromArray builds a vector from its three components
func Vector3FromArray(a [3]float64) Vector3 {
	return Vector3{X: a[0], Y: a[1], Z: a[2]}
}

// Array returns the components as an array
func (v Vector3) Array() [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func (v Vector3) Add(other Vector3) Vector3 { return fromVec(r3.Add(v.vec(), other.vec())) }

func (v Vector3) Sub(other Vector3) Vector3 { return fromVec(r3.Sub(v.vec(), other.vec())) }

func (v Vector3) Scale(s float64) Vector3 { return fromVec(r3.Scale(s, v.vec())) }

// Neg returns the vector pointing the other way
func (v Vector3) Neg() Vector3 { return v.Scale(-1) }

func (v Vector3) Dot(other Vector3) float64 { return r3.Dot(v.vec(), other.vec()) }

func (v Vector3) Cross(other Vector3) Vector3 { return fromVec(r3.Cross(v.vec(), other.vec())) }

// Magnitude returns the Euclidean length
func (v Vector3) Magnitude() float64 { return r3.Norm(v.vec()) }

// Magnitude2 returns the squared length
func (v Vector3) Magnitude2() float64 { return r3.Norm2(v.vec()) }

// Normalize returns a unit vector in the same direction. The zero vector
// is returned unchanged.
func (v Vector3) Normalize() Vector3 {
	if v.IsZero() {
		return v
	}
	return fromVec(r3.Unit(v.vec()))
}

// Distance returns the distance between two points
func (v Vector3) Distance(other Vector3) float64 {
	return v.Sub(other).Magnitude()
}

func (v Vector3) IsZero() bool {
	return v == Vector3{}
}

// IsFinite reports whether no component is NaN or infinite
func (v Vector3) IsFinite() bool {
	s := v.X + v.Y + v.Z
	return !math.IsNaN(s) && !math.IsInf(s, 0)
}
