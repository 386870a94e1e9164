package stream

import (
	"context"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygene76/streamspray/pkg/astronomy"
	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
	"github.com/oxygene76/streamspray/pkg/astronomy/potential"
	"github.com/oxygene76/streamspray/pkg/astronomy/units"
	"github.com/oxygene76/streamspray/pkg/telemetry"
)

const (
	seed = 42
	msat = 1.0
)

func hostField(t *testing.T) *potential.Field {
	t.Helper()
	iso, err := potential.NewIsochrone(units.Dimensionless(), units.Raw(1e4), units.Raw(1))
	require.NoError(t, err)
	return potential.NewField(iso)
}

// circular returns a circular orbit at r=5 in the field's x-y plane.
func circular(f *potential.Field) astromath.PhaseSpace {
	x := astromath.Vector3{X: 5}
	vc := math.Sqrt(x.Magnitude() * f.Acceleration(x, 0).Magnitude())
	return astromath.PhaseSpace{Position: x, Velocity: astromath.Vector3{Y: vc, Z: 0.1 * vc}}
}

func newGen(t *testing.T, f *potential.Field, cfg Config, opts ...Option) *Generator {
	t.Helper()
	g, err := NewGenerator(f, cfg, opts...)
	require.NoError(t, err)
	return g
}

func TestSampleOffsetsDeterministic(t *testing.T) {
	a := sampleOffsets(seed, 7)
	assert.Equal(t, a, sampleOffsets(seed, 7))
	assert.NotEqual(t, a, sampleOffsets(seed, 8))
	assert.NotEqual(t, a, sampleOffsets(seed+1, 7))
}

func TestSampleOffsetsDistribution(t *testing.T) {
	const n = 4000
	var sumKr, sumKz float64
	for i := 0; i < n; i++ {
		k := sampleOffsets(seed, i)
		sumKr += k.kr
		sumKz += k.kz
	}
	// Standard error of the mean is 0.5/sqrt(4000) ~ 0.008.
	assert.InDelta(t, krMean, sumKr/n, 0.05)
	assert.InDelta(t, kzMean, sumKz/n, 0.05)
}

func TestSprayIsMirroredThroughProgenitor(t *testing.T) {
	f := hostField(t)
	w := circular(f)

	rel, err := Spray(f, w, msat, 3, 0, seed)
	require.NoError(t, err)

	mid := rel.LeadPos.Add(rel.TrailPos).Scale(0.5)
	assert.InDelta(t, 0, mid.Distance(w.Position), 1e-12)
	vmid := rel.LeadVel.Add(rel.TrailVel).Scale(0.5)
	assert.InDelta(t, 0, vmid.Distance(w.Velocity), 1e-12)

	rt, err := f.TidalRadius(w.Position, w.Velocity, msat, 0)
	require.NoError(t, err)
	k := sampleOffsets(seed, 3)
	rHat := w.Position.Normalize()
	zHat := w.Position.Cross(w.Velocity).Normalize()

	dx := rel.TrailPos.Sub(w.Position)
	assert.InDelta(t, k.kr*rt, dx.Dot(rHat), 1e-12)
	assert.InDelta(t, k.kz*rt, dx.Dot(zHat), 1e-12)

	relV := potential.Omega(w.Position, w.Velocity) * rt
	dv := rel.TrailVel.Sub(w.Velocity)
	assert.InDelta(t, k.kvz*relV, dv.Dot(zHat), 1e-10)
}

func TestSprayDegenerate(t *testing.T) {
	f := hostField(t)
	w := astromath.PhaseSpace{Position: astromath.Vector3{X: 0.1}, Velocity: astromath.Vector3{X: 1}}
	_, err := Spray(f, w, msat, 1, 0, seed)
	assert.ErrorIs(t, err, astronomy.ErrDegenerateTidalRadius)
}

func TestGenerateICs(t *testing.T) {
	f := hostField(t)
	g := newGen(t, f, DefaultConfig())
	ts := astromath.Linspace(0, 0.5, 11)

	ics, err := g.GenerateICs(context.Background(), ts, circular(f), msat, seed)
	require.NoError(t, err)
	require.Equal(t, len(ts)-1, ics.Len())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, ics.Indices)
	assert.Equal(t, ts[1:], ics.Times)
	assert.Empty(t, ics.Skipped)

	rel, err := Spray(f, ics.Progenitor.States[4], msat, 4, ts[4], seed)
	require.NoError(t, err)
	assert.Equal(t, rel.Lead(), ics.Lead[3])
	assert.Equal(t, rel.Trail(), ics.Trail[3])
}

func TestGenerateICsNeedsTwoSnapshots(t *testing.T) {
	f := hostField(t)
	g := newGen(t, f, DefaultConfig())
	_, err := g.GenerateICs(context.Background(), []float64{0}, circular(f), msat, seed)
	assert.ErrorIs(t, err, astronomy.ErrInvalidParameter)
}

func TestSequentialMatchesBatched(t *testing.T) {
	f := hostField(t)
	ts := astromath.Linspace(0, 0.5, 12)
	w0 := circular(f)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Workers = 3
	cfg.FinalTimeOffset = 0.01
	g := newGen(t, f, cfg)

	seq, err := g.Generate(ctx, Sequential, ts, w0, msat, seed)
	require.NoError(t, err)
	bat, err := g.Generate(ctx, Batched, ts, w0, msat, seed)
	require.NoError(t, err)

	require.Equal(t, len(ts)-1, seq.Len())
	assert.Equal(t, ts[len(ts)-1]+0.01, seq.TFinal)
	assert.Equal(t, seq.TFinal, bat.TFinal)
	assert.Equal(t, seq.ReleaseIndices, bat.ReleaseIndices)
	assert.Equal(t, seq.ReleaseTimes, bat.ReleaseTimes)
	for i := range seq.Lead {
		assert.Less(t, seq.Lead[i].Distance(bat.Lead[i]), 1e-6, "lead %d", i)
		assert.Less(t, seq.Trail[i].Distance(bat.Trail[i]), 1e-6, "trail %d", i)
	}

	// The arms separate: particles released earlier have drifted further.
	ref, err := g.Integrator().Final(ctx, w0, ts[0], seq.TFinal)
	require.NoError(t, err)
	sum := Summarize(seq, ref)
	assert.Equal(t, seq.Len(), sum.Lead.Count)
	assert.Positive(t, sum.Lead.MeanDistance)
	assert.Positive(t, sum.Trail.MeanDistance)
}

func TestProgenitorFinal(t *testing.T) {
	f := hostField(t)
	ts := astromath.Linspace(0, 0.5, 6)
	w0 := circular(f)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.FinalTimeOffset = 0.05
	g := newGen(t, f, cfg)
	for _, strategy := range []Strategy{Sequential, Batched} {
		s, err := g.Generate(ctx, strategy, ts, w0, msat, seed)
		require.NoError(t, err)
		require.Equal(t, len(ts), s.Progenitor.Len(), strategy)

		got, err := g.ProgenitorFinal(ctx, s)
		require.NoError(t, err)
		want, err := g.Integrator().Final(ctx, w0, ts[0], s.TFinal)
		require.NoError(t, err)
		assert.Less(t, got.Distance(want), 1e-4, strategy)
	}

	// Without an offset the last snapshot is the answer.
	g = newGen(t, f, DefaultConfig())
	s, err := g.Generate(ctx, Sequential, ts, w0, msat, seed)
	require.NoError(t, err)
	got, err := g.ProgenitorFinal(ctx, s)
	require.NoError(t, err)
	_, last := s.Progenitor.Final()
	assert.Equal(t, last, got)

	_, err = g.ProgenitorFinal(ctx, &Stream{TFinal: 1})
	assert.ErrorIs(t, err, astronomy.ErrInvalidParameter)
}

func TestSequentialKeepsTrajectories(t *testing.T) {
	f := hostField(t)
	cfg := DefaultConfig()
	cfg.KeepTrajectories = true
	cfg.TrajectorySamples = 5
	g := newGen(t, f, cfg)
	ts := astromath.Linspace(0, 0.3, 4)

	s, err := g.Sequential(context.Background(), ts, circular(f), msat, seed)
	require.NoError(t, err)
	require.Len(t, s.LeadOrbits, s.Len())
	require.Len(t, s.TrailOrbits, s.Len())
	for i, o := range s.LeadOrbits {
		require.Equal(t, 5, o.Len())
		tm, w := o.Final()
		assert.Equal(t, s.TFinal, tm)
		assert.Equal(t, s.Lead[i], w)
		assert.Equal(t, s.ReleaseTimes[i], o.Times[0])
	}
}

func TestDegeneratePolicies(t *testing.T) {
	f := hostField(t)
	// At rest inside the core the tidal radius is undefined everywhere.
	w0 := astromath.PhaseSpace{Position: astromath.Vector3{X: 0.3}}
	ts := astromath.Linspace(0, 0.05, 6)
	ctx := context.Background()

	_, err := newGen(t, f, DefaultConfig()).Sequential(ctx, ts, w0, msat, seed)
	assert.ErrorIs(t, err, astronomy.ErrDegenerateTidalRadius)
	_, err = newGen(t, f, DefaultConfig()).Batched(ctx, ts, w0, msat, seed)
	assert.ErrorIs(t, err, astronomy.ErrDegenerateTidalRadius)

	reg := prometheus.NewRegistry()
	m, err := telemetry.New(reg)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.DegeneratePolicy = Skip
	g := newGen(t, f, cfg, WithMetrics(m))

	s, err := g.Batched(ctx, ts, w0, msat, seed)
	require.NoError(t, err)
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Lead)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, s.Skipped)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Releases.WithLabelValues(telemetry.OutcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Integrations.WithLabelValues(telemetry.OutcomeOK)))

	s, err = g.Sequential(ctx, ts, w0, msat, seed)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, s.Skipped)
}

func TestMetricsCountIntegrations(t *testing.T) {
	f := hostField(t)
	m, err := telemetry.New(prometheus.NewRegistry())
	require.NoError(t, err)
	g := newGen(t, f, DefaultConfig(), WithMetrics(m))
	ts := astromath.Linspace(0, 0.2, 4)

	s, err := g.Sequential(context.Background(), ts, circular(f), msat, seed)
	require.NoError(t, err)
	assert.Equal(t, float64(1+2*s.Len()), testutil.ToFloat64(m.Integrations.WithLabelValues(telemetry.OutcomeOK)))
	assert.Equal(t, float64(s.Len()), testutil.ToFloat64(m.Releases.WithLabelValues(telemetry.OutcomeOK)))
}

func TestNewGeneratorValidates(t *testing.T) {
	f := hostField(t)
	_, err := NewGenerator(f, Config{Workers: -1})
	assert.ErrorIs(t, err, astronomy.ErrInvalidParameter)
	_, err = NewGenerator(f, Config{DegeneratePolicy: "ignore"})
	assert.ErrorIs(t, err, astronomy.ErrInvalidParameter)
	_, err = NewGenerator(f, Config{KeepTrajectories: true, TrajectorySamples: 1})
	assert.ErrorIs(t, err, astronomy.ErrInvalidParameter)
	_, err = NewGenerator(nil, DefaultConfig())
	assert.ErrorIs(t, err, astronomy.ErrInvalidParameter)

	g := newGen(t, f, Config{})
	_, err = g.Generate(context.Background(), "parallel", []float64{0, 1}, circular(f), msat, seed)
	assert.ErrorIs(t, err, astronomy.ErrInvalidParameter)
}

func TestBatchedHonoursCancellation(t *testing.T) {
	f := hostField(t)
	g := newGen(t, f, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Batched(ctx, astromath.Linspace(0, 0.5, 11), circular(f), msat, seed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarizeSingleParticle(t *testing.T) {
	s := &Stream{Lead: []astromath.PhaseSpace{{Position: astromath.Vector3{X: 3}}}}
	sum := Summarize(s, astromath.PhaseSpace{})
	assert.Equal(t, 1, sum.Lead.Count)
	assert.Equal(t, 3.0, sum.Lead.MeanDistance)
	assert.Zero(t, sum.Lead.StdDistance)
	assert.Zero(t, sum.Trail.Count)
}
