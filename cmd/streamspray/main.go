package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/oxygene76/streamspray/internal/types"
	"github.com/oxygene76/streamspray/pkg/astronomy/integrate"
	astromath "github.com/oxygene76/streamspray/pkg/astronomy/math"
	"github.com/oxygene76/streamspray/pkg/astronomy/potential"
	"github.com/oxygene76/streamspray/pkg/astronomy/psp"
	"github.com/oxygene76/streamspray/pkg/astronomy/stream"
	"github.com/oxygene76/streamspray/pkg/astronomy/units"
	"github.com/oxygene76/streamspray/pkg/output"
	"github.com/oxygene76/streamspray/pkg/telemetry"
	"github.com/oxygene76/streamspray/pkg/utils"
)

const version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "streamspray",
		Short: "Particle-spray generator for tidal streams",
		Long: `Generates tidal streams by releasing leading and trailing particles from a
progenitor orbit in a galactic potential and integrating them to a common final time.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.streamspray/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		initCmd(),
		runCmd(),
		orbitCmd(),
	)

	return rootCmd
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			force, _ := cmd.Flags().GetBool("force")
			if path == "" {
				var err error
				if path, err = utils.GetConfigPath(); err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := utils.SaveConfig(utils.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Println("Configuration written to", path)
			return nil
		},
	}

	cmd.Flags().String("path", "", "where to write the config (default is $HOME/.streamspray/config.yaml)")
	cmd.Flags().Bool("force", false, "overwrite an existing file")

	return cmd
}

// session holds everything a subcommand derives from the configuration.
type session struct {
	config   *utils.Config
	logger   log.Logger
	sys      units.System
	field    *potential.Field
	w0       astromath.PhaseSpace
	mass     float64
	ts       []float64
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
}

func newSession(cmd *cobra.Command) (*session, error) {
	config, err := utils.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		config.Output.Path = out
	}
	if format, _ := cmd.Flags().GetString("format"); format != "" {
		config.Output.Format = format
	}

	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := log.NewLogger(os.Stderr, log.LevelOption(level)).With("module", "streamspray")

	sys, err := config.UnitSystem()
	if err != nil {
		return nil, err
	}
	pot, err := config.BuildPotential()
	if err != nil {
		return nil, fmt.Errorf("build potential: %w", err)
	}
	w0, mass, err := config.ProgenitorState(sys)
	if err != nil {
		return nil, err
	}
	ts, err := config.TimeGrid(sys)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := telemetry.New(registry)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"units", sys.String(), "potential", fmt.Sprintf("%T", pot),
		"snapshots", len(ts), "t_start", ts[0], "t_end", ts[len(ts)-1])

	return &session{
		config:   config,
		logger:   logger,
		sys:      sys,
		field:    potential.NewField(pot),
		w0:       w0,
		mass:     mass,
		ts:       ts,
		registry: registry,
		metrics:  metrics,
	}, nil
}

func (s *session) runRecord(kind string) types.RunRecord {
	now := time.Now().UTC()
	return types.RunRecord{
		ID:     fmt.Sprintf("%s_%d", kind, now.UnixNano()),
		Kind:   kind,
		Status: types.StatusRunning,
		Parameters: map[string]interface{}{
			"seed":       s.config.Stream.Seed,
			"mass":       s.mass,
			"snapshots":  len(s.ts),
			"t_start":    s.ts[0],
			"t_end":      s.ts[len(s.ts)-1],
			"potential":  s.config.Potential,
			"progenitor": s.w0,
		},
		Metadata: types.RunMetadata{
			ConfigFile:  cfgFile,
			OutputFiles: []string{s.config.Output.Path},
			UnitSystem:  s.sys.String(),
			CPUCores:    runtime.NumCPU(),
			Version:     version,
		},
		Timestamp: now,
	}
}

// write opens the configured sink and stores run and records.
func (s *session) write(run types.RunRecord, records []types.ParticleRecord) (err error) {
	sink, err := output.New(s.config.Output.Format, s.config.Output.Path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return output.Write(sink, run, records)
}

func (s *session) dumpMetrics(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, s.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a tidal stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				s.config.Stream.Seed, _ = cmd.Flags().GetInt64("seed")
			}
			if strategy, _ := cmd.Flags().GetString("strategy"); strategy != "" {
				s.config.Stream.Strategy = strategy
			}

			cfg, err := s.config.GeneratorConfig(s.sys)
			if err != nil {
				return err
			}
			gen, err := stream.NewGenerator(s.field, cfg,
				stream.WithLogger(s.logger.With("component", "generator")),
				stream.WithMetrics(s.metrics))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			run := s.runRecord("stream")
			run.Metadata.Strategy = s.config.Stream.Strategy
			run.Metadata.Workers = s.config.Stream.Workers

			s.logger.Info("generating stream",
				"strategy", s.config.Stream.Strategy, "releases", len(s.ts)-1, "seed", s.config.Stream.Seed)
			start := time.Now()
			str, err := gen.Generate(ctx, stream.Strategy(strings.ToLower(s.config.Stream.Strategy)),
				s.ts, s.w0, s.mass, s.config.Stream.Seed)
			if err != nil {
				s.logger.Error("stream generation failed", "err", err)
				return err
			}
			run.Duration = time.Since(start)

			final, err := gen.ProgenitorFinal(ctx, str)
			if err != nil {
				return err
			}
			summary := stream.Summarize(str, final)
			run.Summary = map[string]interface{}{
				"t_final":  str.TFinal,
				"released": str.Len(),
				"skipped":  str.Skipped,
				"lead":     summary.Lead,
				"trail":    summary.Trail,
			}

			if err := s.write(run, output.StreamRecords(str)); err != nil {
				return err
			}
			s.logger.Info("stream written",
				"path", s.config.Output.Path, "released", str.Len(), "skipped", len(str.Skipped),
				"lead_mean_distance", summary.Lead.MeanDistance,
				"trail_mean_distance", summary.Trail.MeanDistance,
				"duration", run.Duration.String())

			metricsPath, _ := cmd.Flags().GetString("metrics")
			return s.dumpMetrics(metricsPath)
		},
	}

	cmd.Flags().String("output", "", "output path (overrides config)")
	cmd.Flags().String("format", "", "output format: jsonl or sqlite (overrides config)")
	cmd.Flags().Int64("seed", 0, "random seed (overrides config)")
	cmd.Flags().String("strategy", "", "sequential or batched (overrides config)")
	cmd.Flags().String("metrics", "", "write Prometheus metrics in text format to this file")

	return cmd
}

func orbitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orbit",
		Short: "Integrate the progenitor orbit only",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			method, _ := cmd.Flags().GetString("method")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			run := s.runRecord("orbit")
			run.Parameters["method"] = method

			start := time.Now()
			var orbit psp.Orbit
			switch strings.ToLower(method) {
			case "adaptive":
				ig := integrate.NewDopri5(s.field, integrate.WithObserver(s.metrics))
				ws, err := ig.Integrate(ctx, s.w0, s.ts[0], s.ts[len(s.ts)-1], s.ts)
				if err != nil {
					return err
				}
				if orbit, err = psp.NewOrbit(s.ts, ws); err != nil {
					return err
				}
			case "leapfrog":
				ws, err := integrate.Leapfrog(s.w0, s.ts, s.field.Gradient)
				if err != nil {
					return err
				}
				if orbit, err = psp.NewOrbit(s.ts, ws); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown method %q (adaptive or leapfrog)", method)
			}
			run.Duration = time.Since(start)

			tEnd, wEnd := orbit.Final()
			e0 := s.field.Energy(s.w0, s.ts[0])
			e1 := s.field.Energy(wEnd, tEnd)
			l0 := potential.AngularMomentum(s.w0)
			l1 := potential.AngularMomentum(wEnd)
			run.Summary = map[string]interface{}{
				"energy_start":           e0,
				"energy_end":             e1,
				"angular_momentum_start": l0,
				"angular_momentum_end":   l1,
			}
			s.logger.Info("orbit integrated",
				"method", method, "snapshots", orbit.Len(),
				"energy_drift", e1-e0, "duration", run.Duration.String())

			if err := s.write(run, output.OrbitRecords(orbit)); err != nil {
				return err
			}
			s.logger.Info("orbit written", "path", s.config.Output.Path)

			metricsPath, _ := cmd.Flags().GetString("metrics")
			return s.dumpMetrics(metricsPath)
		},
	}

	cmd.Flags().String("method", "adaptive", "integrator: adaptive or leapfrog")
	cmd.Flags().String("output", "", "output path (overrides config)")
	cmd.Flags().String("format", "", "output format: jsonl or sqlite (overrides config)")
	cmd.Flags().String("metrics", "", "write Prometheus metrics in text format to this file")

	return cmd
}
