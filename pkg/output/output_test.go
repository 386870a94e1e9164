package output

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygene76/streamspray/internal/types"
	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
	"github.com/oxygene76/streamspray/pkg/astronomy/psp"
	"github.com/oxygene76/streamspray/pkg/astronomy/stream"
)

func testStream() *stream.Stream {
	s := &stream.Stream{TFinal: 2.5, Skipped: []int{2}}
	for _, k := range []int{1, 3, 4} {
		f := float64(k)
		s.ReleaseIndices = append(s.ReleaseIndices, k)
		s.ReleaseTimes = append(s.ReleaseTimes, 0.5*f)
		s.Lead = append(s.Lead, astromath.PhaseSpace{
			Position: astromath.Vector3{X: f, Y: -f, Z: 0.1},
			Velocity: astromath.Vector3{X: 0.3 * f, Y: 1e-3, Z: -7},
		})
		s.Trail = append(s.Trail, astromath.PhaseSpace{
			Position: astromath.Vector3{X: -f, Y: f, Z: 1.0 / 3},
			Velocity: astromath.Vector3{X: 2, Y: f / 7, Z: 0},
		})
	}
	return s
}

func testRun(id string) types.RunRecord {
	return types.RunRecord{
		ID:         id,
		Kind:       "stream",
		Status:     types.StatusRunning,
		Parameters: map[string]interface{}{"seed": 42.0, "strategy": "batched"},
		Metadata:   types.RunMetadata{UnitSystem: "galactic", OutputFiles: []string{"out"}, CPUCores: 4, Version: "test"},
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStreamRecords(t *testing.T) {
	s := testStream()
	recs := StreamRecords(s)
	require.Len(t, recs, 6)
	assert.Equal(t, types.ArmLead, recs[0].Arm)
	assert.Equal(t, types.ArmTrail, recs[1].Arm)
	assert.Equal(t, 3, recs[2].ReleaseIndex)
	assert.Equal(t, 1.5, recs[2].ReleaseTime)
	assert.Equal(t, 2.5, recs[5].Time)
	assert.Equal(t, s.Trail[2], recs[5].State)
}

func TestOrbitRecords(t *testing.T) {
	o := psp.Orbit{Times: []float64{0, 1}, States: make([]astromath.PhaseSpace, 2)}
	recs := OrbitRecords(o)
	require.Len(t, recs, 2)
	assert.Equal(t, types.ArmProgenitor, recs[1].Arm)
	assert.Equal(t, 1.0, recs[1].Time)
}

func TestJSONLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stream.jsonl")
	sink, err := New("JSONL", path)
	require.NoError(t, err)

	recs := StreamRecords(testStream())
	require.NoError(t, Write(sink, testRun("run-1"), recs))
	require.NoError(t, sink.Close())

	run, got, err := ReadJSONL(path)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, run.Status)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, testRun("run-1").Parameters, run.Parameters)
	assert.True(t, testRun("run-1").Timestamp.Equal(run.Timestamp))
	assert.Equal(t, recs, got)
}

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.db")
	sink, err := New(FormatSQLite, path)
	require.NoError(t, err)

	recs := StreamRecords(testStream())
	require.NoError(t, Write(sink, testRun("run-1"), recs))
	// A second run with the same id replaces the first.
	require.NoError(t, Write(sink, testRun("run-1"), recs[:2]))
	require.NoError(t, Write(sink, testRun("run-2"), recs))
	require.NoError(t, sink.Close())

	ctx := context.Background()
	run, got, err := LoadRun(ctx, path, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, run.Status)
	assert.Equal(t, recs[:2], got)

	_, got, err = LoadRun(ctx, path, "run-2")
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	_, _, err = LoadRun(ctx, path, "missing")
	assert.Error(t, err)
}

func TestSQLiteCloseRollsBackOpenRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.db")
	sink, err := NewSQLiteSink(path)
	require.NoError(t, err)
	assert.Equal(t, path, sink.Path())

	require.NoError(t, sink.OnStart(testRun("partial")))
	require.NoError(t, sink.OnParticle(StreamRecords(testStream())[0]))
	require.NoError(t, sink.Close())

	_, _, err = LoadRun(context.Background(), path, "partial")
	assert.Error(t, err)
}

func TestSQLiteRequiresOpenRun(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "s.db"))
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	assert.Error(t, sink.OnParticle(types.ParticleRecord{Arm: types.ArmLead}))
	assert.Error(t, sink.OnEnd(testRun("x")))
}

func TestWriteValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	sink, err := NewJSONLWriter(path)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	assert.Error(t, Write(sink, types.RunRecord{Status: types.StatusRunning}, nil))
	bad := []types.ParticleRecord{{Arm: "sideways"}}
	assert.Error(t, Write(sink, testRun("r"), bad))
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New("parquet", filepath.Join(t.TempDir(), "x"))
	assert.Error(t, err)
}
