// Package output persists simulation runs: a run header followed by one
// record per particle state.
package output

import (
	"fmt"
	"strings"

	"github.com/oxygene76/streamspray/internal/types"
	"github.com/oxygene76/streamspray/pkg/astronomy/psp"
	"github.com/oxygene76/streamspray/pkg/astronomy/stream"
)

// Sink receives a run. OnStart comes first, OnEnd last; Close releases the
// underlying resources and may be called after a failure at any point.
type Sink interface {
	OnStart(run types.RunRecord) error
	OnParticle(p types.ParticleRecord) error
	OnEnd(run types.RunRecord) error
	Close() error
}

// Formats understood by New.
const (
	FormatJSONL  = "jsonl"
	FormatSQLite = "sqlite"
)

// New opens a sink of the given format at path.
func New(format, path string) (Sink, error) {
	switch strings.ToLower(format) {
	case FormatJSONL:
		return NewJSONLWriter(path)
	case FormatSQLite:
		return NewSQLiteSink(path)
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// StreamRecords flattens a stream into particle records, leading and
// trailing particle of each release in turn.
func StreamRecords(s *stream.Stream) []types.ParticleRecord {
	out := make([]types.ParticleRecord, 0, 2*s.Len())
	for i := range s.ReleaseIndices {
		out = append(out,
			types.ParticleRecord{Arm: types.ArmLead, ReleaseIndex: s.ReleaseIndices[i],
				ReleaseTime: s.ReleaseTimes[i], Time: s.TFinal, State: s.Lead[i]},
			types.ParticleRecord{Arm: types.ArmTrail, ReleaseIndex: s.ReleaseIndices[i],
				ReleaseTime: s.ReleaseTimes[i], Time: s.TFinal, State: s.Trail[i]},
		)
	}
	return out
}

// OrbitRecords turns a progenitor orbit into particle records.
func OrbitRecords(o psp.Orbit) []types.ParticleRecord {
	out := make([]types.ParticleRecord, o.Len())
	for i := range o.Times {
		out[i] = types.ParticleRecord{Arm: types.ArmProgenitor, Time: o.Times[i], State: o.States[i]}
	}
	return out
}

// Write sends run, its records and the final run state through sink. The
// run passed to OnEnd is marked completed.
func Write(sink Sink, run types.RunRecord, records []types.ParticleRecord) error {
	if err := run.ValidateBasic(); err != nil {
		return err
	}
	if err := sink.OnStart(run); err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	for i, p := range records {
		if err := p.ValidateBasic(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if err := sink.OnParticle(p); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	run.Status = types.StatusCompleted
	if err := sink.OnEnd(run); err != nil {
		return fmt.Errorf("end run %s: %w", run.ID, err)
	}
	return nil
}
