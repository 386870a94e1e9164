package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
	"github.com/oxygene76/streamspray/pkg/astronomy/potential"
	"github.com/oxygene76/streamspray/pkg/astronomy/stream"
	"github.com/oxygene76/streamspray/pkg/astronomy/units"
	"github.com/oxygene76/streamspray/pkg/output"
)

// EnvPrefix prefixes environment overrides, e.g. STREAMSPRAY_STREAM_SEED.
const EnvPrefix = "STREAMSPRAY"

// Config represents the simulation configuration
type Config struct {
	Units      string            `yaml:"units" mapstructure:"units"`
	Potential  []ComponentConfig `yaml:"potential" mapstructure:"potential"`
	Progenitor ProgenitorConfig  `yaml:"progenitor" mapstructure:"progenitor"`
	Time       TimeConfig        `yaml:"time" mapstructure:"time"`
	Stream     StreamConfig      `yaml:"stream" mapstructure:"stream"`
	Output     OutputConfig      `yaml:"output" mapstructure:"output"`
	LogLevel   string            `yaml:"log_level" mapstructure:"log_level"`
}

// ComponentConfig describes one potential component. Parameter values are
// quantities such as "6.8e10 Msun"; bare numbers are taken in the active
// unit system.
type ComponentConfig struct {
	Type       string            `yaml:"type" mapstructure:"type"`
	Params     map[string]string `yaml:"params,omitempty" mapstructure:"params"`
	Components []ComponentConfig `yaml:"components,omitempty" mapstructure:"components"`
}

// ProgenitorConfig contains the progenitor's initial conditions
type ProgenitorConfig struct {
	Position     []float64 `yaml:"position" mapstructure:"position"`
	PositionUnit string    `yaml:"position_unit" mapstructure:"position_unit"`
	Velocity     []float64 `yaml:"velocity" mapstructure:"velocity"`
	VelocityUnit string    `yaml:"velocity_unit" mapstructure:"velocity_unit"`
	Mass         string    `yaml:"mass" mapstructure:"mass"`
}

// TimeConfig defines the snapshot grid
type TimeConfig struct {
	Start string `yaml:"start" mapstructure:"start"`
	End   string `yaml:"end" mapstructure:"end"`
	Steps int    `yaml:"steps" mapstructure:"steps"`
}

// StreamConfig contains stream generation settings
type StreamConfig struct {
	Seed              int64  `yaml:"seed" mapstructure:"seed"`
	Strategy          string `yaml:"strategy" mapstructure:"strategy"`
	Workers           int    `yaml:"workers" mapstructure:"workers"`
	FinalTimeOffset   string `yaml:"final_time_offset" mapstructure:"final_time_offset"`
	DegeneratePolicy  string `yaml:"degenerate_policy" mapstructure:"degenerate_policy"`
	KeepTrajectories  bool   `yaml:"keep_trajectories" mapstructure:"keep_trajectories"`
	TrajectorySamples int    `yaml:"trajectory_samples" mapstructure:"trajectory_samples"`
}

// OutputConfig selects the sink
type OutputConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// envKeys are the scalar settings that can be overridden from the
// environment.
var envKeys = []string{
	"units", "log_level",
	"progenitor.mass", "progenitor.position_unit", "progenitor.velocity_unit",
	"time.start", "time.end", "time.steps",
	"stream.seed", "stream.strategy", "stream.workers", "stream.final_time_offset",
	"stream.degenerate_policy", "stream.keep_trajectories", "stream.trajectory_samples",
	"output.format", "output.path",
}

// DefaultConfig returns a default configuration: a GD-1-like progenitor in
// a disk, bulge and halo Milky Way model.
func DefaultConfig() *Config {
	return &Config{
		Units: "galactic",
		Potential: []ComponentConfig{
			{Type: "miyamoto_nagai", Params: map[string]string{"m": "6.8e10 Msun", "a": "3.0 kpc", "b": "0.28 kpc"}},
			{Type: "isochrone", Params: map[string]string{"m": "5e9 Msun", "a": "1.0 kpc"}},
			{Type: "nfw", Params: map[string]string{"m": "5.4e11 Msun", "r_s": "15.62 kpc"}},
		},
		Progenitor: ProgenitorConfig{
			Position:     []float64{11.8, 0.79, 6.4},
			PositionUnit: "kpc",
			Velocity:     []float64{109.5, -254.5, -90.3},
			VelocityUnit: "km/s",
			Mass:         "1e4 Msun",
		},
		Time: TimeConfig{Start: "0 Myr", End: "2000 Myr", Steps: 500},
		Stream: StreamConfig{
			Seed:              0,
			Strategy:          string(stream.Batched),
			Workers:           0,
			FinalTimeOffset:   "0 Myr",
			DegeneratePolicy:  string(stream.Abort),
			TrajectorySamples: 64,
		},
		Output:   OutputConfig{Format: output.FormatJSONL, Path: "stream.jsonl"},
		LogLevel: "info",
	}
}

// LoadConfig reads configFile, or searches ~/.streamspray, . and ./configs
// for config.yaml when configFile is empty. A missing file yields the
// defaults. Environment variables prefixed with STREAMSPRAY_ override
// scalar settings.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".streamspray"))
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// Set environment variable prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal merges into the defaults; lists given in the file replace
	// the default lists instead of being merged element by element.
	config := DefaultConfig()
	if v.IsSet("potential") {
		config.Potential = nil
	}
	if v.IsSet("progenitor.position") {
		config.Progenitor.Position = nil
	}
	if v.IsSet("progenitor.velocity") {
		config.Progenitor.Velocity = nil
	}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// SaveConfig writes config as YAML to path, creating its directory.
func SaveConfig(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the default path of the config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".streamspray", "config.yaml"), nil
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if _, err := units.ByName(config.Units); err != nil {
		return err
	}
	if len(config.Potential) == 0 {
		return fmt.Errorf("at least one potential component must be specified")
	}
	if err := validateComponents(config.Potential, "potential"); err != nil {
		return err
	}

	if len(config.Progenitor.Position) != 3 {
		return fmt.Errorf("progenitor position needs 3 components, got %d", len(config.Progenitor.Position))
	}
	if len(config.Progenitor.Velocity) != 3 {
		return fmt.Errorf("progenitor velocity needs 3 components, got %d", len(config.Progenitor.Velocity))
	}
	if config.Time.Steps < 2 {
		return fmt.Errorf("time steps must be at least 2, got %d", config.Time.Steps)
	}

	switch stream.Strategy(config.Stream.Strategy) {
	case stream.Sequential, stream.Batched:
	default:
		return fmt.Errorf("invalid strategy: %s", config.Stream.Strategy)
	}
	switch stream.DegeneratePolicy(config.Stream.DegeneratePolicy) {
	case stream.Abort, stream.Skip:
	default:
		return fmt.Errorf("invalid degenerate policy: %s", config.Stream.DegeneratePolicy)
	}
	if config.Stream.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if config.Stream.KeepTrajectories && config.Stream.TrajectorySamples < 2 {
		return fmt.Errorf("trajectory samples must be at least 2 when trajectories are kept")
	}

	switch strings.ToLower(config.Output.Format) {
	case output.FormatJSONL, output.FormatSQLite:
	default:
		return fmt.Errorf("invalid output format: %s", config.Output.Format)
	}
	if config.Output.Path == "" {
		return fmt.Errorf("output path cannot be empty")
	}

	if _, err := zerolog.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", config.LogLevel, err)
	}
	return nil
}

func validateComponents(components []ComponentConfig, where string) error {
	known := potential.Types()
	for i, c := range components {
		name := strings.ToLower(c.Type)
		if !contains(known, name) {
			return fmt.Errorf("%s[%d]: invalid potential type %q", where, i, c.Type)
		}
		if name == "composite" {
			if len(c.Components) == 0 {
				return fmt.Errorf("%s[%d]: composite needs components", where, i)
			}
			if err := validateComponents(c.Components, fmt.Sprintf("%s[%d]", where, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// UnitSystem returns the configured unit system
func (c *Config) UnitSystem() (units.System, error) {
	return units.ByName(c.Units)
}

// PotentialSpec converts the potential section into a build spec. Several
// top-level components form a composite.
func (c *Config) PotentialSpec() (potential.Spec, error) {
	specs, err := componentSpecs(c.Potential)
	if err != nil {
		return potential.Spec{}, err
	}
	if len(specs) == 1 {
		return specs[0], nil
	}
	return potential.Spec{Type: "composite", Components: specs}, nil
}

func componentSpecs(components []ComponentConfig) ([]potential.Spec, error) {
	out := make([]potential.Spec, 0, len(components))
	for i, c := range components {
		spec := potential.Spec{Type: c.Type, Params: make(map[string]units.Quantity, len(c.Params))}
		for name, raw := range c.Params {
			q, err := units.ParseQuantity(raw)
			if err != nil {
				return nil, fmt.Errorf("component %d (%s) parameter %s: %w", i, c.Type, name, err)
			}
			spec.Params[name] = q
		}
		if len(c.Components) > 0 {
			children, err := componentSpecs(c.Components)
			if err != nil {
				return nil, fmt.Errorf("component %d: %w", i, err)
			}
			spec.Components = children
		}
		out = append(out, spec)
	}
	return out, nil
}

// BuildPotential builds the configured potential in its unit system.
func (c *Config) BuildPotential() (potential.Potential, error) {
	sys, err := c.UnitSystem()
	if err != nil {
		return nil, err
	}
	spec, err := c.PotentialSpec()
	if err != nil {
		return nil, err
	}
	return potential.Build(sys, spec)
}

// ProgenitorState returns the progenitor's phase-space state and mass in
// the unit system sys.
func (c *Config) ProgenitorState(sys units.System) (astromath.PhaseSpace, float64, error) {
	pos, err := convertVector(sys, c.Progenitor.Position, c.Progenitor.PositionUnit, units.Length)
	if err != nil {
		return astromath.PhaseSpace{}, 0, fmt.Errorf("progenitor position: %w", err)
	}
	vel, err := convertVector(sys, c.Progenitor.Velocity, c.Progenitor.VelocityUnit, units.Velocity)
	if err != nil {
		return astromath.PhaseSpace{}, 0, fmt.Errorf("progenitor velocity: %w", err)
	}
	mass, err := convertQuantity(sys, c.Progenitor.Mass, units.Mass)
	if err != nil {
		return astromath.PhaseSpace{}, 0, fmt.Errorf("progenitor mass: %w", err)
	}
	return astromath.PhaseSpace{Position: pos, Velocity: vel}, mass, nil
}

// TimeGrid returns the snapshot times in the unit system sys.
func (c *Config) TimeGrid(sys units.System) ([]float64, error) {
	start, err := convertQuantity(sys, c.Time.Start, units.Time)
	if err != nil {
		return nil, fmt.Errorf("time start: %w", err)
	}
	end, err := convertQuantity(sys, c.Time.End, units.Time)
	if err != nil {
		return nil, fmt.Errorf("time end: %w", err)
	}
	if start == end {
		return nil, fmt.Errorf("time start and end coincide")
	}
	return astromath.Linspace(start, end, c.Time.Steps), nil
}

// GeneratorConfig returns the stream generator settings in the unit system
// sys.
func (c *Config) GeneratorConfig(sys units.System) (stream.Config, error) {
	offset := 0.0
	if c.Stream.FinalTimeOffset != "" {
		var err error
		if offset, err = convertQuantity(sys, c.Stream.FinalTimeOffset, units.Time); err != nil {
			return stream.Config{}, fmt.Errorf("final time offset: %w", err)
		}
	}
	return stream.Config{
		Workers:           c.Stream.Workers,
		FinalTimeOffset:   offset,
		DegeneratePolicy:  stream.DegeneratePolicy(c.Stream.DegeneratePolicy),
		KeepTrajectories:  c.Stream.KeepTrajectories,
		TrajectorySamples: c.Stream.TrajectorySamples,
	}, nil
}

func convertQuantity(sys units.System, raw string, dim units.Dimension) (float64, error) {
	q, err := units.ParseQuantity(raw)
	if err != nil {
		return 0, err
	}
	return sys.Convert(q, dim)
}

func convertVector(sys units.System, xs []float64, unit string, dim units.Dimension) (astromath.Vector3, error) {
	var out [3]float64
	if len(xs) != 3 {
		return astromath.Vector3{}, fmt.Errorf("need 3 components, got %d", len(xs))
	}
	for i, x := range xs {
		q := units.Raw(x)
		if unit != "" {
			u, err := units.Parse(unit)
			if err != nil {
				return astromath.Vector3{}, err
			}
			q = units.Q(x, u)
		}
		v, err := sys.Convert(q, dim)
		if err != nil {
			return astromath.Vector3{}, err
		}
		out[i] = v
	}
	return astromath.Vector3FromArray(out), nil
}
