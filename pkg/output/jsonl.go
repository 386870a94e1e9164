package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oxygene76/streamspray/internal/types"
)

// JSONLWriter writes one JSON object per line: the run header, every
// particle, then the final run state.
type JSONLWriter struct {
	f  *os.File
	bw *bufio.Writer
}

type jsonlLine struct {
	Run      *types.RunRecord      `json:"run,omitempty"`
	Particle *types.ParticleRecord `json:"particle,omitempty"`
}

// NewJSONLWriter creates path, and its directory if needed.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &JSONLWriter{f: f, bw: bufio.NewWriter(f)}, nil
}

func (w *JSONLWriter) write(line jsonlLine) error {
	b, err := json.Marshal(line)
	if err != nil {
		return err
	}
	if _, err := w.bw.Write(b); err != nil {
		return err
	}
	return w.bw.WriteByte('\n')
}

// OnStart implements Sink.
func (w *JSONLWriter) OnStart(run types.RunRecord) error { return w.write(jsonlLine{Run: &run}) }

// OnParticle implements Sink.
func (w *JSONLWriter) OnParticle(p types.ParticleRecord) error {
	return w.write(jsonlLine{Particle: &p})
}

// OnEnd implements Sink.
func (w *JSONLWriter) OnEnd(run types.RunRecord) error {
	if err := w.write(jsonlLine{Run: &run}); err != nil {
		return err
	}
	return w.bw.Flush()
}

// Close implements Sink.
func (w *JSONLWriter) Close() error {
	if w.bw != nil {
		_ = w.bw.Flush()
	}
	if w.f != nil {
		return w.f.Close()
	}
	return nil
}

// ReadJSONL loads a file written by JSONLWriter. The returned run is the
// last run line in the file.
func ReadJSONL(path string) (types.RunRecord, []types.ParticleRecord, error) {
	var run types.RunRecord
	f, err := os.Open(path)
	if err != nil {
		return run, nil, err
	}
	defer func() { _ = f.Close() }()

	var particles []types.ParticleRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for n := 1; sc.Scan(); n++ {
		var line jsonlLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return run, nil, fmt.Errorf("line %d: %w", n, err)
		}
		switch {
		case line.Run != nil:
			run = *line.Run
		case line.Particle != nil:
			particles = append(particles, *line.Particle)
		}
	}
	if err := sc.Err(); err != nil {
		return run, nil, err
	}
	return run, particles, nil
}
