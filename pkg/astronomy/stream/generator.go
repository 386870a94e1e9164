package stream

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"golang.org/x/sync/errgroup"

	"github.com/oxygene76/streamspray/pkg/astronomy"
	"github.com/oxygene76/streamspray/pkg/astronomy/integrate"
	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
	"github.com/oxygene76/streamspray/pkg/astronomy/potential"
	"github.com/oxygene76/streamspray/pkg/astronomy/psp"
	"github.com/oxygene76/streamspray/pkg/telemetry"
)

// Strategy selects how released particles are integrated.
type Strategy string

const (
	// Sequential releases and integrates one event at a time.
	Sequential Strategy = "sequential"
	// Batched materialises every release first and integrates the
	// particles on a worker pool.
	Batched Strategy = "batched"
)

// DegeneratePolicy says what to do with an event whose tidal radius is
// undefined.
type DegeneratePolicy string

const (
	// Abort fails the whole run.
	Abort DegeneratePolicy = "abort"
	// Skip drops the event and records its index.
	Skip DegeneratePolicy = "skip"
)

// Config tunes stream generation.
type Config struct {
	// Workers bounds the batched pool; 0 uses GOMAXPROCS.
	Workers int
	// FinalTimeOffset is added to the last snapshot time to get the time
	// every particle is integrated to.
	FinalTimeOffset float64
	DegeneratePolicy DegeneratePolicy
	// KeepTrajectories stores each particle's orbit sampled at
	// TrajectorySamples points (sequential strategy only).
	KeepTrajectories  bool
	TrajectorySamples int
}

// DefaultConfig returns the abort policy, no time offset and GOMAXPROCS
// workers.
func DefaultConfig() Config {
	return Config{DegeneratePolicy: Abort, TrajectorySamples: 64}
}

func (c Config) validate() error {
	if c.Workers < 0 {
		return errorsmod.Wrapf(astronomy.ErrInvalidParameter, "workers must be >= 0, got %d", c.Workers)
	}
	switch c.DegeneratePolicy {
	case Abort, Skip:
	default:
		return errorsmod.Wrapf(astronomy.ErrInvalidParameter, "unknown degenerate policy %q", c.DegeneratePolicy)
	}
	if c.KeepTrajectories && c.TrajectorySamples < 2 {
		return errorsmod.Wrapf(astronomy.ErrInvalidParameter,
			"trajectory samples must be >= 2, got %d", c.TrajectorySamples)
	}
	return nil
}

// ICs are the release initial conditions of a stream. Lead, Trail,
// Times and Indices are aligned; skipped events appear in none of them.
type ICs struct {
	Progenitor psp.Orbit
	Times      []float64
	Indices    []int
	Lead       []astromath.PhaseSpace
	Trail      []astromath.PhaseSpace
	Skipped    []int
}

// Len returns the number of released pairs.
func (ics *ICs) Len() int { return len(ics.Indices) }

// Stream holds the final states of every released particle at TFinal,
// along with the progenitor orbit sampled at the snapshot times.
type Stream struct {
	TFinal         float64                `json:"t_final"`
	Progenitor     psp.Orbit              `json:"progenitor"`
	ReleaseTimes   []float64              `json:"release_times"`
	ReleaseIndices []int                  `json:"release_indices"`
	Lead           []astromath.PhaseSpace `json:"lead"`
	Trail          []astromath.PhaseSpace `json:"trail"`
	Skipped        []int                  `json:"skipped,omitempty"`
	LeadOrbits     []psp.Orbit            `json:"lead_orbits,omitempty"`
	TrailOrbits    []psp.Orbit            `json:"trail_orbits,omitempty"`
}

// Len returns the number of released pairs.
func (s *Stream) Len() int { return len(s.ReleaseIndices) }

// Generator produces streams in one potential.
type Generator struct {
	field   *potential.Field
	cfg     Config
	logger  log.Logger
	metrics *telemetry.Metrics
	igOpts  []integrate.Option
	ig      *integrate.Dopri5
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithMetrics records integrations and releases on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithIntegratorOptions passes options to every Dopri5 integration.
func WithIntegratorOptions(opts ...integrate.Option) Option {
	return func(g *Generator) { g.igOpts = append(g.igOpts, opts...) }
}

// NewGenerator validates cfg and returns a generator for field.
func NewGenerator(field *potential.Field, cfg Config, opts ...Option) (*Generator, error) {
	if field == nil {
		return nil, errorsmod.Wrap(astronomy.ErrInvalidParameter, "nil field")
	}
	if cfg.DegeneratePolicy == "" {
		cfg.DegeneratePolicy = Abort
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	g := &Generator{field: field, cfg: cfg, logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(g)
	}
	igOpts := g.igOpts
	if g.metrics != nil {
		igOpts = append([]integrate.Option{integrate.WithObserver(g.metrics)}, igOpts...)
	}
	g.ig = integrate.NewDopri5(field, igOpts...)
	return g, nil
}

// Integrator returns the orbit integrator used for every particle.
func (g *Generator) Integrator() *integrate.Dopri5 { return g.ig }

// Generate runs the chosen strategy.
func (g *Generator) Generate(ctx context.Context, strategy Strategy, ts []float64, w0 astromath.PhaseSpace, msat float64, seed int64) (*Stream, error) {
	switch strategy {
	case Sequential, "":
		return g.Sequential(ctx, ts, w0, msat, seed)
	case Batched:
		return g.Batched(ctx, ts, w0, msat, seed)
	}
	return nil, errorsmod.Wrapf(astronomy.ErrInvalidParameter, "unknown strategy %q", strategy)
}

// ProgenitorOrbit integrates w0 once over ts, saving every snapshot.
func (g *Generator) ProgenitorOrbit(ctx context.Context, ts []float64, w0 astromath.PhaseSpace) (psp.Orbit, error) {
	if len(ts) < 2 {
		return psp.Orbit{}, errorsmod.Wrapf(astronomy.ErrInvalidParameter,
			"need at least 2 snapshot times, got %d", len(ts))
	}
	ws, err := g.ig.Integrate(ctx, w0, ts[0], ts[len(ts)-1], ts)
	if err != nil {
		return psp.Orbit{}, fmt.Errorf("progenitor orbit: %w", err)
	}
	return psp.NewOrbit(ts, ws)
}

// release runs the release model for snapshot k of orbit. The boolean is
// false when the event was skipped.
func (g *Generator) release(orbit psp.Orbit, k int, msat float64, seed int64) (Release, bool, error) {
	rel, err := Spray(g.field, orbit.States[k], msat, k, orbit.Times[k], seed)
	switch {
	case err == nil:
		g.metrics.ObserveRelease(false)
		return rel, true, nil
	case errors.Is(err, astronomy.ErrDegenerateTidalRadius) && g.cfg.DegeneratePolicy == Skip:
		g.metrics.ObserveRelease(true)
		g.logger.Warn("skipping degenerate release", "index", k, "t", orbit.Times[k], "err", err)
		return Release{}, false, nil
	default:
		return Release{}, false, errorsmod.Wrapf(err, "release %d at t=%g", k, orbit.Times[k])
	}
}

// GenerateICs integrates the progenitor over ts and releases one pair at
// every snapshot except the first; event k uses snapshot k's state and
// time and index k.
func (g *Generator) GenerateICs(ctx context.Context, ts []float64, w0 astromath.PhaseSpace, msat float64, seed int64) (*ICs, error) {
	orbit, err := g.ProgenitorOrbit(ctx, ts, w0)
	if err != nil {
		return nil, err
	}
	n := len(ts) - 1
	ics := &ICs{
		Progenitor: orbit,
		Times:      make([]float64, 0, n),
		Indices:    make([]int, 0, n),
		Lead:       make([]astromath.PhaseSpace, 0, n),
		Trail:      make([]astromath.PhaseSpace, 0, n),
	}
	for k := 1; k < len(ts); k++ {
		rel, ok, err := g.release(orbit, k, msat, seed)
		if err != nil {
			return nil, err
		}
		if !ok {
			ics.Skipped = append(ics.Skipped, k)
			continue
		}
		ics.Times = append(ics.Times, ts[k])
		ics.Indices = append(ics.Indices, k)
		ics.Lead = append(ics.Lead, rel.Lead())
		ics.Trail = append(ics.Trail, rel.Trail())
	}
	g.logger.Debug("generated release conditions", "events", n, "released", ics.Len(), "skipped", len(ics.Skipped))
	return ics, nil
}

func (g *Generator) finalTime(ts []float64) float64 {
	return ts[len(ts)-1] + g.cfg.FinalTimeOffset
}

// Sequential releases each event and immediately integrates its two
// particles to the final time.
func (g *Generator) Sequential(ctx context.Context, ts []float64, w0 astromath.PhaseSpace, msat float64, seed int64) (*Stream, error) {
	orbit, err := g.ProgenitorOrbit(ctx, ts, w0)
	if err != nil {
		return nil, err
	}
	tFinal := g.finalTime(ts)
	s := newStream(tFinal, len(ts)-1)
	s.Progenitor = orbit

	for k := 1; k < len(ts); k++ {
		rel, ok, err := g.release(orbit, k, msat, seed)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.Skipped = append(s.Skipped, k)
			continue
		}
		lead, leadOrbit, err := g.evolve(ctx, rel.Lead(), ts[k], tFinal)
		if err != nil {
			return nil, errorsmod.Wrapf(err, "leading particle %d", k)
		}
		trail, trailOrbit, err := g.evolve(ctx, rel.Trail(), ts[k], tFinal)
		if err != nil {
			return nil, errorsmod.Wrapf(err, "trailing particle %d", k)
		}
		s.ReleaseTimes = append(s.ReleaseTimes, ts[k])
		s.ReleaseIndices = append(s.ReleaseIndices, k)
		s.Lead = append(s.Lead, lead)
		s.Trail = append(s.Trail, trail)
		if g.cfg.KeepTrajectories {
			s.LeadOrbits = append(s.LeadOrbits, leadOrbit)
			s.TrailOrbits = append(s.TrailOrbits, trailOrbit)
		}
	}
	g.logger.Info("stream generated", "strategy", Sequential, "pairs", s.Len(), "skipped", len(s.Skipped), "t_final", tFinal)
	return s, nil
}

// evolve integrates one particle from t0 to t1. With trajectories enabled
// the particle's orbit is sampled as well; its final state is the last
// sample.
func (g *Generator) evolve(ctx context.Context, w astromath.PhaseSpace, t0, t1 float64) (astromath.PhaseSpace, psp.Orbit, error) {
	if !g.cfg.KeepTrajectories {
		final, err := g.ig.Final(ctx, w, t0, t1)
		return final, psp.Orbit{}, err
	}
	saves := astromath.Linspace(t0, t1, g.cfg.TrajectorySamples)
	ws, err := g.ig.Integrate(ctx, w, t0, t1, saves)
	if err != nil {
		return astromath.PhaseSpace{}, psp.Orbit{}, err
	}
	orbit, err := psp.NewOrbit(saves, ws)
	if err != nil {
		return astromath.PhaseSpace{}, psp.Orbit{}, err
	}
	_, final := orbit.Final()
	return final, orbit, nil
}

// Batched materialises every release first and then integrates all
// particles concurrently. Each worker writes only its own slot, so the
// result matches Sequential exactly. The first failure cancels the rest.
func (g *Generator) Batched(ctx context.Context, ts []float64, w0 astromath.PhaseSpace, msat float64, seed int64) (*Stream, error) {
	ics, err := g.GenerateICs(ctx, ts, w0, msat, seed)
	if err != nil {
		return nil, err
	}
	if g.cfg.KeepTrajectories {
		g.logger.Debug("trajectories are only kept by the sequential strategy")
	}
	tFinal := g.finalTime(ts)
	n := ics.Len()
	s := newStream(tFinal, n)
	s.Progenitor = ics.Progenitor
	s.ReleaseTimes = append(s.ReleaseTimes, ics.Times...)
	s.ReleaseIndices = append(s.ReleaseIndices, ics.Indices...)
	s.Skipped = ics.Skipped
	s.Lead = make([]astromath.PhaseSpace, n)
	s.Trail = make([]astromath.PhaseSpace, n)

	workers := g.cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			lead, err := g.ig.Final(egCtx, ics.Lead[i], ics.Times[i], tFinal)
			if err != nil {
				return errorsmod.Wrapf(err, "leading particle %d", ics.Indices[i])
			}
			trail, err := g.ig.Final(egCtx, ics.Trail[i], ics.Times[i], tFinal)
			if err != nil {
				return errorsmod.Wrapf(err, "trailing particle %d", ics.Indices[i])
			}
			s.Lead[i], s.Trail[i] = lead, trail
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	g.logger.Info("stream generated", "strategy", Batched, "pairs", s.Len(), "skipped", len(s.Skipped),
		"workers", workers, "t_final", tFinal)
	return s, nil
}

// ProgenitorFinal returns the progenitor's state at s.TFinal, integrating
// on from the last stored snapshot when the final time lies past it.
func (g *Generator) ProgenitorFinal(ctx context.Context, s *Stream) (astromath.PhaseSpace, error) {
	if s.Progenitor.Len() == 0 {
		return astromath.PhaseSpace{}, errorsmod.Wrap(astronomy.ErrInvalidParameter, "stream has no progenitor orbit")
	}
	tLast, wLast := s.Progenitor.Final()
	if tLast == s.TFinal {
		return wLast, nil
	}
	w, err := g.ig.Final(ctx, wLast, tLast, s.TFinal)
	if err != nil {
		return astromath.PhaseSpace{}, fmt.Errorf("progenitor to final time: %w", err)
	}
	return w, nil
}

func newStream(tFinal float64, capacity int) *Stream {
	return &Stream{
		TFinal:         tFinal,
		ReleaseTimes:   make([]float64, 0, capacity),
		ReleaseIndices: make([]int, 0, capacity),
		Lead:           make([]astromath.PhaseSpace, 0, capacity),
		Trail:          make([]astromath.PhaseSpace, 0, capacity),
	}
}
