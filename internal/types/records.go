package types

import (
	"fmt"
	"time"

	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Arm names used in particle records.
const (
	ArmLead       = "lead"
	ArmTrail      = "trail"
	ArmProgenitor = "progenitor"
)

// RunRecord describes one simulation run
type RunRecord struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"` // "stream" or "orbit"
	Status     string                 `json:"status"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Metadata   RunMetadata            `json:"metadata"`
	Summary    map[string]interface{} `json:"summary,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Duration   time.Duration          `json:"duration"`
	Error      string                 `json:"error,omitempty"`
}

// RunMetadata contains metadata about the run
type RunMetadata struct {
	ConfigFile  string   `json:"config_file,omitempty"`
	OutputFiles []string `json:"output_files"`
	UnitSystem  string   `json:"unit_system"`
	Strategy    string   `json:"strategy,omitempty"`
	Workers     int      `json:"workers,omitempty"`
	CPUCores    int      `json:"cpu_cores"`
	Version     string   `json:"version"`
}

// ValidateBasic validates the record
func (r RunRecord) ValidateBasic() error {
	if len(r.ID) == 0 {
		return fmt.Errorf("run id cannot be empty")
	}
	switch r.Status {
	case StatusRunning, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("unknown run status %q", r.Status)
	}
	return nil
}

// ParticleRecord is one particle state written by a sink
type ParticleRecord struct {
	Arm          string               `json:"arm"`
	ReleaseIndex int                  `json:"release_index"`
	ReleaseTime  float64              `json:"release_time"`
	Time         float64              `json:"time"`
	State        astromath.PhaseSpace `json:"state"`
}

// ValidateBasic validates the record
func (p ParticleRecord) ValidateBasic() error {
	switch p.Arm {
	case ArmLead, ArmTrail, ArmProgenitor:
	default:
		return fmt.Errorf("unknown arm %q", p.Arm)
	}
	if !p.State.Position.IsFinite() || !p.State.Velocity.IsFinite() {
		return fmt.Errorf("non-finite state %v", p.State)
	}
	return nil
}
