package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks a missing or invalid startup configuration. It is fatal.
var ErrConfiguration = errors.New("configuration error")

// Config represents the application configuration.
type Config struct {
	Source      SourceConfig      `yaml:"source"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Channels    []ChannelConfig   `yaml:"channels"`
	Window      WindowConfig      `yaml:"window"`
	Poll        PollConfig        `yaml:"poll"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Server      ServerConfig      `yaml:"server"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Mock        MockConfig        `yaml:"mock"`
}

// SourceConfig describes the sensor log being tailed.
type SourceConfig struct {
	Path          string `yaml:"path" env:"BELTMON_SOURCE_PATH, overwrite"`
	Watch         bool   `yaml:"watch" env:"BELTMON_SOURCE_WATCH, overwrite"`                     // Trigger extra ticks on file writes
	MaxChunkBytes int64  `yaml:"max_chunk_bytes" env:"BELTMON_SOURCE_MAX_CHUNK_BYTES, overwrite"` // Upper bound for one tick's read (0 = default)
}

// CalibrationConfig contains the linear tension calibration.
type CalibrationConfig struct {
	Slope  float64 `yaml:"slope" env:"BELTMON_CALIBRATION_SLOPE, overwrite"`
	Offset float64 `yaml:"offset" env:"BELTMON_CALIBRATION_OFFSET, overwrite"`
}

// ChannelConfig describes one antenna around the conveyor loop.
type ChannelConfig struct {
	ID       string  `yaml:"id"`
	Ordinal  int     `yaml:"ordinal"`  // Position in the loop, used for wrap detection
	Distance float64 `yaml:"distance"` // Belt travel (ft) from this antenna to the next one
}

// WindowConfig contains the trailing window parameters.
type WindowConfig struct {
	Width      time.Duration `yaml:"width" env:"BELTMON_WINDOW_WIDTH, overwrite"`
	SegmentGap time.Duration `yaml:"segment_gap" env:"BELTMON_WINDOW_SEGMENT_GAP, overwrite"` // Larger gaps are not drawn as lines
}

// PollConfig contains the tick scheduling parameters.
type PollConfig struct {
	Interval   time.Duration `yaml:"interval" env:"BELTMON_POLL_INTERVAL, overwrite"`
	TickBudget time.Duration `yaml:"tick_budget" env:"BELTMON_POLL_TICK_BUDGET, overwrite"`
}

// CheckpointConfig contains the state persistence location. Empty path disables it.
type CheckpointConfig struct {
	Path string `yaml:"path" env:"BELTMON_CHECKPOINT_PATH, overwrite"`
}

// ServerConfig contains the HTTP listener for metrics and snapshots. Empty addr disables it.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"BELTMON_SERVER_ADDR, overwrite"`
}

// TelemetryConfig selects the trace exporter: none, otlp or honeycomb.
type TelemetryConfig struct {
	Exporter string `yaml:"exporter" env:"BELTMON_TELEMETRY_EXPORTER, overwrite"`
}

// MockConfig contains mock rig configuration.
type MockConfig struct {
	Period      time.Duration `yaml:"period"`       // Time between reads of consecutive antennas
	Dwell       int           `yaml:"dwell"`        // Reads per antenna before moving on
	Tension     float64       `yaml:"tension"`      // Mean raw tension
	NoiseLevel  float64       `yaml:"noise_level"`  // Raw tension noise amplitude
	Temperature float64       `yaml:"temperature"`  // Raw temperature (C)
	SampleCount int           `yaml:"sample_count"` // Rows generated per read
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Path:          "SensorLog.csv",
			Watch:         false,
			MaxChunkBytes: 64 << 20,
		},
		Calibration: CalibrationConfig{
			Slope:  1.5351,
			Offset: -167.851,
		},
		Channels: DefaultChannels(),
		Window: WindowConfig{
			Width:      3 * time.Minute,
			SegmentGap: 3 * time.Second,
		},
		Poll: PollConfig{
			Interval:   time.Second,
			TickBudget: 750 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr: ":9120",
		},
		Telemetry: TelemetryConfig{
			Exporter: "none",
		},
		Mock: MockConfig{
			Period:      250 * time.Millisecond,
			Dwell:       3,
			Tension:     180,
			NoiseLevel:  4,
			Temperature: 25,
			SampleCount: 8,
		},
	}
}

// DefaultChannels returns the three-antenna rig layout.
func DefaultChannels() []ChannelConfig {
	return []ChannelConfig{
		{ID: "1", Ordinal: 1, Distance: 40.4},
		{ID: "2", Ordinal: 2, Distance: 40.4},
		{ID: "3", Ordinal: 3, Distance: 103.1},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values. BELTMON_* environment variables
// override file values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.ApplyEnv(context.Background(), envconfig.OsLookuper()); err != nil {
		return nil, err
	}

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

	return cfg, nil
}

// ApplyEnv overrides fields from the given lookuper.
func (c *Config) ApplyEnv(ctx context.Context, l envconfig.Lookuper) error {
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   c,
		Lookuper: l,
	}); err != nil {
		return fmt.Errorf("failed to apply environment: %w", err)
	}
	return nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration. Every returned error wraps ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...))
	}

	if c.Source.Path == "" {
		bad("source.path is empty")
	}
	if c.Source.MaxChunkBytes < 0 {
		bad("source.max_chunk_bytes must not be negative")
	}
	if !finite(c.Calibration.Slope) || !finite(c.Calibration.Offset) {
		bad("calibration slope/offset must be finite")
	}
	if c.Calibration.Slope == 0 {
		bad("calibration.slope must not be zero")
	}

	if len(c.Channels) == 0 {
		bad("no channels configured")
	}
	ids := make(map[string]bool, len(c.Channels))
	ordinals := make(map[int]string, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.ID == "" {
			bad("channels[%d].id is empty", i)
			continue
		}
		if ids[ch.ID] {
			bad("duplicate channel id %q", ch.ID)
		}
		ids[ch.ID] = true
		if other, ok := ordinals[ch.Ordinal]; ok {
			bad("channels %q and %q share ordinal %d", other, ch.ID, ch.Ordinal)
		}
		ordinals[ch.Ordinal] = ch.ID
		if !finite(ch.Distance) || ch.Distance < 0 {
			bad("channel %q distance must be a finite non-negative number", ch.ID)
		}
	}

	if c.Window.Width <= 0 {
		bad("window.width must be positive")
	}
	if c.Window.SegmentGap <= 0 {
		bad("window.segment_gap must be positive")
	}
	if c.Poll.Interval <= 0 {
		bad("poll.interval must be positive")
	}
	if c.Poll.TickBudget <= 0 {
		bad("poll.tick_budget must be positive")
	}

	switch c.Telemetry.Exporter {
	case "", "none", "otlp", "honeycomb":
	default:
		bad("unknown telemetry.exporter %q", c.Telemetry.Exporter)
	}

	return errors.Join(errs...)
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Source.Path == "" {
		c.Source.Path = def.Source.Path
	}
	if c.Source.MaxChunkBytes == 0 {
		c.Source.MaxChunkBytes = def.Source.MaxChunkBytes
	}

	if len(c.Channels) == 0 {
		c.Channels = def.Channels
	}

	if c.Window.Width == 0 {
		c.Window.Width = def.Window.Width
	}
	if c.Window.SegmentGap == 0 {
		c.Window.SegmentGap = def.Window.SegmentGap
	}

	if c.Poll.Interval == 0 {
		c.Poll.Interval = def.Poll.Interval
	}
	if c.Poll.TickBudget == 0 {
		c.Poll.TickBudget = def.Poll.TickBudget
	}

	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = def.Telemetry.Exporter
	}

	if c.Mock.Period == 0 {
		c.Mock.Period = def.Mock.Period
	}
	if c.Mock.Dwell == 0 {
		c.Mock.Dwell = def.Mock.Dwell
	}
	if c.Mock.SampleCount == 0 {
		c.Mock.SampleCount = def.Mock.SampleCount
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
