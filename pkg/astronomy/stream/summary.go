package stream

import (
	"gonum.org/v1/gonum/stat"

	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
)

// ArmSummary describes the spread of one arm around a reference state.
type ArmSummary struct {
	Count        int     `json:"count"`
	MeanDistance float64 `json:"mean_distance"`
	StdDistance  float64 `json:"std_distance"`
	MeanSpeed    float64 `json:"mean_speed"`
	StdSpeed     float64 `json:"std_speed"`
}

// Summary describes both arms of a stream.
type Summary struct {
	Lead  ArmSummary `json:"lead"`
	Trail ArmSummary `json:"trail"`
}

// Summarize measures each arm's distances from ref's position and its
// speeds relative to ref's velocity. ref is usually the progenitor at the
// stream's final time.
func Summarize(s *Stream, ref astromath.PhaseSpace) Summary {
	return Summary{Lead: summarizeArm(s.Lead, ref), Trail: summarizeArm(s.Trail, ref)}
}

func summarizeArm(arm []astromath.PhaseSpace, ref astromath.PhaseSpace) ArmSummary {
	out := ArmSummary{Count: len(arm)}
	if len(arm) == 0 {
		return out
	}
	dist := make([]float64, len(arm))
	speed := make([]float64, len(arm))
	for i, w := range arm {
		dist[i] = w.Position.Distance(ref.Position)
		speed[i] = w.Velocity.Distance(ref.Velocity)
	}
	if len(arm) == 1 {
		out.MeanDistance, out.MeanSpeed = dist[0], speed[0]
		return out
	}
	out.MeanDistance, out.StdDistance = stat.MeanStdDev(dist, nil)
	out.MeanSpeed, out.StdSpeed = stat.MeanStdDev(speed, nil)
	return out
}
