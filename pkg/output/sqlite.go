package output

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/oxygene76/streamspray/internal/types"
)

// SQLiteSink stores runs in a "runs" table as JSON and their particles in a
// "particles" table, one row per state. A run is written in a single
// transaction that commits on OnEnd.
type SQLiteSink struct {
	db     *sql.DB
	tx     *sql.Tx
	insert *sql.Stmt
	runID  string
	seq    int
	path   string
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	payload BLOB NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS particles (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	arm TEXT NOT NULL,
	release_index INTEGER NOT NULL,
	release_time REAL NOT NULL,
	t REAL NOT NULL,
	x REAL NOT NULL, y REAL NOT NULL, z REAL NOT NULL,
	vx REAL NOT NULL, vy REAL NOT NULL, vz REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
)`,
}

// NewSQLiteSink opens (or creates) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if path == "" {
		path = "streamspray.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}
	return &SQLiteSink{db: db, path: path}, nil
}

func upsertRun(ctx context.Context, tx *sql.Tx, run types.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(id,payload) VALUES(?,?) ON CONFLICT(id) DO UPDATE SET payload=excluded.payload`,
		run.ID, data); err != nil {
		return fmt.Errorf("upsert run %s: %w", run.ID, err)
	}
	return nil
}

// OnStart implements Sink. Particles of an earlier run with the same id
// are replaced.
func (s *SQLiteSink) OnStart(run types.RunRecord) (retErr error) {
	if s.tx != nil {
		return fmt.Errorf("run %s still open", s.runID)
	}
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := upsertRun(ctx, tx, run); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM particles WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear particles: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO particles
		(run_id, seq, arm, release_index, release_time, t, x, y, z, vx, vy, vz)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	s.tx, s.insert, s.runID, s.seq = tx, stmt, run.ID, 0
	return nil
}

// OnParticle implements Sink.
func (s *SQLiteSink) OnParticle(p types.ParticleRecord) error {
	if s.tx == nil {
		return errors.New("no open run")
	}
	w := p.State
	_, err := s.insert.Exec(s.runID, s.seq, p.Arm, p.ReleaseIndex, p.ReleaseTime, p.Time,
		w.Position.X, w.Position.Y, w.Position.Z, w.Velocity.X, w.Velocity.Y, w.Velocity.Z)
	if err != nil {
		return fmt.Errorf("insert particle: %w", err)
	}
	s.seq++
	return nil
}

// OnEnd implements Sink.
func (s *SQLiteSink) OnEnd(run types.RunRecord) error {
	if s.tx == nil {
		return errors.New("no open run")
	}
	if err := upsertRun(context.Background(), s.tx, run); err != nil {
		return err
	}
	_ = s.insert.Close()
	err := s.tx.Commit()
	s.tx, s.insert = nil, nil
	return err
}

// Close implements Sink. An uncommitted run is rolled back.
func (s *SQLiteSink) Close() error {
	if s.tx != nil {
		_ = s.insert.Close()
		_ = s.tx.Rollback()
		s.tx, s.insert = nil, nil
	}
	return s.db.Close()
}

// Path returns the configured database path.
func (s *SQLiteSink) Path() string { return s.path }

// LoadRun reads a run and its particles, in write order, from the database
// at path.
func LoadRun(ctx context.Context, path, runID string) (types.RunRecord, []types.ParticleRecord, error) {
	var run types.RunRecord
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return run, nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer func() { _ = db.Close() }()

	var payload []byte
	if err := db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, runID).Scan(&payload); err != nil {
		return run, nil, fmt.Errorf("select run %s: %w", runID, err)
	}
	if err := json.Unmarshal(payload, &run); err != nil {
		return run, nil, fmt.Errorf("decode run: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT arm, release_index, release_time, t, x, y, z, vx, vy, vz
		FROM particles WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return run, nil, fmt.Errorf("select particles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.ParticleRecord
	for rows.Next() {
		var p types.ParticleRecord
		w := &p.State
		if err := rows.Scan(&p.Arm, &p.ReleaseIndex, &p.ReleaseTime, &p.Time,
			&w.Position.X, &w.Position.Y, &w.Position.Z, &w.Velocity.X, &w.Velocity.Y, &w.Velocity.Z); err != nil {
			return run, nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, p)
	}
	return run, out, rows.Err()
}
