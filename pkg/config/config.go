// Package config loads the yaml run configuration used by the flowroute
// commands.
package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-flowroute/pkg/logging"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
	"github.com/dd0wney/cluso-flowroute/pkg/routing"
	"github.com/dd0wney/cluso-flowroute/pkg/validation"
)

// Forcing formats.
const (
	FormatCSV    = "csv"
	FormatBinary = "binary"
)

// Defaults applied by Load.
const (
	DefaultDT           = 300.0
	DefaultRelaxFactor  = 10.0
	DefaultRestartEvery = 12
)

// Config is one simulation run.
type Config struct {
	Network    NetworkConfig    `yaml:"network"`
	Forcing    ForcingConfig    `yaml:"forcing"`
	Initial    InitialConfig    `yaml:"initial"`
	Simulation SimulationConfig `yaml:"simulation"`
	Routing    routing.Settings `yaml:"routing"`
	Retry      RetryConfig      `yaml:"retry"`
	Restart    RestartConfig    `yaml:"restart"`
	Output     OutputConfig     `yaml:"output"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`

	// dir is the directory of the loaded file; relative paths resolve
	// against it.
	dir string
}

// NetworkConfig locates the parameter table.
type NetworkConfig struct {
	Parameters string `yaml:"parameters" validate:"required"`
}

// ForcingConfig locates lateral inflow. With no path, every segment receives
// Constant for the whole horizon.
type ForcingConfig struct {
	Path     string  `yaml:"path"`
	Format   string  `yaml:"format" validate:"omitempty,oneof=csv binary"`
	Constant float64 `yaml:"constant" validate:"gte=0"`
}

// InitialConfig selects the initial state. Restart names a checkpoint file,
// or "latest" for the newest checkpoint in restart.dir. Empty starts dry.
type InitialConfig struct {
	Restart string `yaml:"restart"`
}

// SimulationConfig is the time axis. Start defaults to the checkpoint time
// when the run begins from a restart file.
type SimulationConfig struct {
	Start   time.Time `yaml:"start"`
	DT      float64   `yaml:"dt" validate:"gte=0"` // seconds
	Horizon int       `yaml:"horizon" validate:"gte=0"`
	Workers int       `yaml:"workers" validate:"gte=0"`
}

// RetryConfig enables relaxed-tolerance retries of steps that fail to
// converge. Zero attempts disables retries.
type RetryConfig struct {
	Attempts    int     `yaml:"attempts" validate:"gte=0"`
	RelaxFactor float64 `yaml:"relax_factor" validate:"gte=0"`
}

// RestartConfig enables checkpoint output.
type RestartConfig struct {
	Dir   string `yaml:"dir"`
	Every int    `yaml:"every" validate:"gte=0"`
}

// OutputConfig selects the sinks. Any combination may be enabled.
type OutputConfig struct {
	CSV         string  `yaml:"csv"`
	Segments    []int64 `yaml:"segments"`
	OutletsOnly bool    `yaml:"outlets_only"`
	Postgres    string  `yaml:"postgres"`
	Publish     string  `yaml:"publish"`
}

// MetricsConfig serves Prometheus metrics and health checks when Listen is
// set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, routeerr.New("config.Load", routeerr.ErrConfiguration).Detail("%s", path).Cause(err).Err()
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes yaml, rejecting unknown keys, then applies defaults and
// validates.
func Parse(data []byte) (*Config, error) {
	const op = "config.Parse"

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, routeerr.New(op, routeerr.ErrConfiguration).Cause(err).Err()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	c.Simulation.DT = validation.DefaultOr(c.Simulation.DT, DefaultDT)
	c.Routing = c.Routing.WithDefaults()
	c.Retry.RelaxFactor = validation.DefaultOrFloat(c.Retry.RelaxFactor, DefaultRelaxFactor)
	if c.Restart.Dir != "" {
		c.Restart.Every = validation.DefaultOrInt(c.Restart.Every, DefaultRestartEvery)
	}
	if c.Forcing.Path != "" && c.Forcing.Format == "" {
		c.Forcing.Format = formatFromPath(c.Forcing.Path)
	}
	c.Logging.Level = validation.DefaultOr(strings.ToLower(c.Logging.Level), "info")
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin", ".frc":
		return FormatBinary
	default:
		return FormatCSV
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validation.Struct("config.Validate", c); err != nil {
		return err
	}
	if err := c.Routing.Validate(); err != nil {
		return err
	}
	return validation.NewConfigValidator("config").
		Required("network.parameters", c.Network.Parameters).
		PositiveFloat("simulation.dt", c.Simulation.DT).
		Positive("simulation.horizon", c.Simulation.Horizon).
		When(c.Forcing.Path != "", func(v *validation.ConfigValidator) {
			v.OneOf("forcing.format", c.Forcing.Format, []string{FormatCSV, FormatBinary})
		}).
		When(c.Retry.Attempts > 0, func(v *validation.ConfigValidator) {
			v.Custom("retry.relax_factor", func() error {
				if c.Retry.RelaxFactor < 1 {
					return fmt.Errorf("must be at least 1, got %v", c.Retry.RelaxFactor)
				}
				return nil
			})
		}).
		When(c.Initial.Restart == "", func(v *validation.ConfigValidator) {
			v.Custom("simulation.start", func() error {
				if c.Simulation.Start.IsZero() {
					return fmt.Errorf("required unless starting from a restart file")
				}
				return nil
			})
		}).
		When(c.Initial.Restart == "latest", func(v *validation.ConfigValidator) {
			v.Required("restart.dir", c.Restart.Dir)
		}).
		When(c.Restart.Dir != "", func(v *validation.ConfigValidator) {
			// Checkpoint names carry minute resolution; a finer step
			// would overwrite earlier checkpoints.
			v.Custom("simulation.dt", func() error {
				if m := c.Simulation.DT / 60; m != math.Trunc(m) {
					return fmt.Errorf("must be a whole number of minutes when restart.dir is set, got %vs", c.Simulation.DT)
				}
				return nil
			})
		}).
		When(c.Output.OutletsOnly, func(v *validation.ConfigValidator) {
			v.Custom("output.outlets_only", func() error {
				if len(c.Output.Segments) > 0 {
					return fmt.Errorf("cannot be combined with output.segments")
				}
				return nil
			})
		}).
		Validate()
}

// Resolve returns path relative to the configuration file's directory.
// Absolute paths and paths of configs not loaded from disk are unchanged.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// LogLevel returns the configured level.
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Logging.Level)
}

// StepDuration is DT as a time.Duration.
func (c *Config) StepDuration() time.Duration {
	return time.Duration(c.Simulation.DT * float64(time.Second))
}

// End is the model time of the last step.
func (c *Config) End() time.Time {
	return c.Simulation.Start.Add(time.Duration(c.Simulation.Horizon) * c.StepDuration())
}
