// Package stream generates tidal streams with a particle-spray model: at
// every snapshot of the progenitor's orbit one particle is released near
// each Lagrange point and integrated to the final time.
package stream

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
	"github.com/oxygene76/streamspray/pkg/astronomy/potential"
)

// Release holds the two particles spawned by one release event.
type Release struct {
	LeadPos  astromath.Vector3 `json:"lead_pos"`
	TrailPos astromath.Vector3 `json:"trail_pos"`
	LeadVel  astromath.Vector3 `json:"lead_vel"`
	TrailVel astromath.Vector3 `json:"trail_vel"`
}

// Lead returns the leading particle's phase-space state.
func (r Release) Lead() astromath.PhaseSpace {
	return astromath.PhaseSpace{Position: r.LeadPos, Velocity: r.LeadVel}
}

// Trail returns the trailing particle's phase-space state.
func (r Release) Trail() astromath.PhaseSpace {
	return astromath.PhaseSpace{Position: r.TrailPos, Velocity: r.TrailVel}
}

// Dispersion parameters of the release offsets, in units of the tidal
// radius (positions) and of Omega * r_t (velocities).
const (
	krMean    = 2.0
	kvphiMean = 0.3
	kzMean    = 0.0
	kvzMean   = 0.0
	sigmaK    = 0.5

	subSeeds  = 5
	seedRange = 1000
)

// offsets are the sampled release coefficients for one event.
type offsets struct {
	kr, kvphi, kz, kvz float64
}

// sampleOffsets draws the coefficients of event index under seed. Every
// coefficient comes from its own source so that the draws are independent
// of one another and a pure function of (seed, index).
func sampleOffsets(seed int64, index int) offsets {
	master := rand.New(rand.NewSource(uint64(seed)))
	var src [subSeeds]rand.Source
	for axis := range src {
		draw := master.Intn(seedRange)
		src[axis] = rand.NewSource(subSeed(seed, index, axis, draw))
	}
	normal := func(axis int, mu float64) float64 {
		return distuv.Normal{Mu: mu, Sigma: sigmaK, Src: src[axis]}.Rand()
	}

	kr := normal(0, krMean)
	// src[4] is reserved for a tangential velocity term.
	return offsets{
		kr:    kr,
		kvphi: kr * normal(1, kvphiMean),
		kz:    normal(2, kzMean),
		kvz:   normal(3, kvzMean),
	}
}

// subSeed mixes its inputs through splitmix64 so that neighbouring indices
// and axes give unrelated seeds.
func subSeed(seed int64, index, axis, draw int) uint64 {
	h := splitmix64(uint64(seed))
	h = splitmix64(h ^ uint64(index))
	h = splitmix64(h ^ uint64(axis)<<32 ^ uint64(draw))
	return h
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Spray releases one leading and one trailing particle from a progenitor of
// mass msat at phase-space state w and time t. The leading particle starts
// inside the orbit and the trailing one outside, mirrored through the
// progenitor. A degenerate tidal radius is returned as
// ErrDegenerateTidalRadius.
func Spray(field *potential.Field, w astromath.PhaseSpace, msat float64, index int, t float64, seed int64) (Release, error) {
	x, v := w.Position, w.Velocity
	rt, err := field.TidalRadius(x, v, msat, t)
	if err != nil {
		return Release{}, err
	}
	relV := potential.Omega(x, v) * rt

	rHat := x.Normalize()
	zHat := x.Cross(v).Normalize()
	phiHat := v.Sub(rHat.Scale(v.Dot(rHat))).Normalize()

	k := sampleOffsets(seed, index)
	dx := rHat.Scale(k.kr * rt).Add(zHat.Scale(k.kz * rt))
	dv := phiHat.Scale(k.kvphi * relV).Add(zHat.Scale(k.kvz * relV))

	return Release{
		LeadPos:  x.Sub(dx),
		TrailPos: x.Add(dx),
		LeadVel:  v.Sub(dv),
		TrailVel: v.Add(dv),
	}, nil
}
