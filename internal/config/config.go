// Package config loads simulator configuration from YAML files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	ms "github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/vanet-simulator/core"
	"github.com/signalsfoundry/vanet-simulator/internal/logging"
)

// ErrInvalidChannel reports a channel spec that cannot be decoded.
var ErrInvalidChannel = errors.New("invalid channel spec")

// Config contains all simulator configuration settings.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Store      StoreConfig      `yaml:"store"`
	Render     RenderConfig     `yaml:"render"`
	Viewer     ViewerConfig     `yaml:"viewer"`
	Scenario   ScenarioSpec     `yaml:"scenario"`
}

// SimulationConfig configures the World.
type SimulationConfig struct {
	// Stop bounds simulated time in seconds; 0 runs until interrupted.
	Stop float64 `yaml:"stop"`
	// Step is the mobility step in simulated seconds.
	Step float64 `yaml:"step"`
	// Speed is the initial playback multiplier in display mode.
	Speed            float64 `yaml:"speed"`
	Display          bool    `yaml:"display"`
	StartPaused      bool    `yaml:"start_paused"`
	CompactThreshold int     `yaml:"compact_threshold"`
}

// World converts the section into a core.Config.
func (s SimulationConfig) World() core.Config {
	return core.Config{
		StopTime:         s.Stop,
		Step:             s.Step,
		Speed:            s.Speed,
		Display:          s.Display,
		StartPaused:      s.StartPaused,
		CompactThreshold: s.CompactThreshold,
	}
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Logger builds the configured logger.
func (l LoggingConfig) Logger() logging.Logger {
	return logging.New(logging.Config{Level: l.Level, Format: l.Format})
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the server.
	Addr string `yaml:"addr"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

// StoreConfig configures the SQLite results store.
type StoreConfig struct {
	// Path of the database file; empty disables persistence.
	Path string `yaml:"path"`
}

// RenderConfig configures frame output for external renderers.
type RenderConfig struct {
	// Frames is a file path, "-" for stdout, or empty to disable.
	Frames string `yaml:"frames"`
}

// ViewerConfig configures the gRPC viewer service.
type ViewerConfig struct {
	// Addr is the listen address; empty disables the service.
	Addr string `yaml:"addr"`
}

// Point is a position in scenario units.
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Position converts the point.
func (p Point) Position() core.Position { return core.Position{X: p.X, Y: p.Y} }

// ScenarioSpec describes the nodes of an association scenario. When only
// Name is set, it selects a built-in scenario.
type ScenarioSpec struct {
	Name string `yaml:"name"`
	// Seed drives recycled vehicle speeds; 0 picks a time-based seed.
	Seed    int64 `yaml:"seed"`
	Recycle bool  `yaml:"recycle"`
	// Channels are free-form maps keyed by name; the model field selects
	// how the rest is decoded.
	Channels     map[string]map[string]any `yaml:"channels"`
	BaseStations []SiteSpec                `yaml:"base_stations"`
	Vehicles     []VehicleSpec             `yaml:"vehicles"`
	Relays       []RelaySpec               `yaml:"relays"`
	Background   *BackgroundSpec           `yaml:"background,omitempty"`
	// Roam sends vehicles that complete their path to a random point in
	// the area instead of parking them. Recycle takes precedence.
	Roam *AreaSpec `yaml:"roam,omitempty"`
	// Step overrides the simulation step when set.
	Step float64 `yaml:"step,omitempty"`
	// Policy selects how free beams are matched to vehicles: strongest
	// (the default) or bandit.
	Policy string      `yaml:"policy,omitempty"`
	Bandit *BanditSpec `yaml:"bandit,omitempty"`
}

// Association policies.
const (
	PolicyStrongest = "strongest"
	PolicyBandit    = "bandit"
)

// BanditSpec tunes the multi-armed bandit beam selection. Each beam is an
// arm whose reward is the duration of a service it started.
type BanditSpec struct {
	// ExploreUntil is the simulated time at which exploration ends.
	ExploreUntil float64 `yaml:"explore_until"`
	// ExploreRandom is the chance of pulling a random arm while exploring;
	// otherwise the arm with the best CQI is pulled.
	ExploreRandom float64 `yaml:"explore_random"`
	// MaxActive caps the beams serving at the same time.
	MaxActive int `yaml:"max_active"`
}

// DefaultBandit returns the bandit settings used when the policy is bandit
// and no bandit section is given.
func DefaultBandit() BanditSpec {
	return BanditSpec{ExploreUntil: 60, ExploreRandom: 0.9, MaxActive: 1}
}

// BanditSettings returns the bandit section or its defaults.
func (s ScenarioSpec) BanditSettings() BanditSpec {
	if s.Bandit == nil {
		return DefaultBandit()
	}
	return *s.Bandit
}

// AreaSpec is a rectangle x in [0, Width), y in [-Height/2, Height/2)
// with the speed range of roaming vehicles.
type AreaSpec struct {
	Width    float64 `yaml:"width"`
	Height   float64 `yaml:"height"`
	SpeedMin float64 `yaml:"speed_min"`
	SpeedMax float64 `yaml:"speed_max"`
}

// Empty reports whether the spec defines no nodes.
func (s ScenarioSpec) Empty() bool {
	return len(s.BaseStations) == 0 && len(s.Vehicles) == 0 && len(s.Relays) == 0
}

// SiteSpec is a base station site. A sector channel with several beams
// yields one node per beam, named <id>.<n> counting from 1.
type SiteSpec struct {
	ID       string    `yaml:"id"`
	Position Point     `yaml:"position"`
	Channel  string    `yaml:"channel"`
	Beams    []float64 `yaml:"beams,omitempty"`
}

// VehicleSpec is a vehicle driving through waypoints.
type VehicleSpec struct {
	ID        string  `yaml:"id"`
	Channel   string  `yaml:"channel"`
	Start     Point   `yaml:"start"`
	Waypoints []Point `yaml:"waypoints"`
	Speed     float64 `yaml:"speed"`
	// Speeds overrides Speed per leg; missing entries fall back to Speed.
	Speeds []float64 `yaml:"speeds,omitempty"`
	// SpeedMin and SpeedMax, when both set, replace Speed with a random
	// speed drawn on creation and on recycling.
	SpeedMin float64 `yaml:"speed_min,omitempty"`
	SpeedMax float64 `yaml:"speed_max,omitempty"`
}

// RandomSpeed reports whether the vehicle draws its speed from
// [SpeedMin, SpeedMax].
func (v VehicleSpec) RandomSpeed() bool {
	return v.SpeedMin > 0 && v.SpeedMax >= v.SpeedMin
}

// needsSpeed reports whether some leg falls back to Speed.
func (v VehicleSpec) needsSpeed() bool {
	return !v.RandomSpeed() && len(v.Speeds) < len(v.Waypoints)
}

// RelaySpec is an orbital relay propagated from a TLE.
type RelaySpec struct {
	ID      string `yaml:"id"`
	Channel string `yaml:"channel"`
	Line1   string `yaml:"tle_line1"`
	Line2   string `yaml:"tle_line2"`
	// Epoch is RFC 3339; empty uses the TLE epoch.
	Epoch      string  `yaml:"epoch,omitempty"`
	Latitude   float64 `yaml:"latitude"`
	Longitude  float64 `yaml:"longitude"`
	UnitsPerKm float64 `yaml:"units_per_km"`
	TimeScale  float64 `yaml:"time_scale,omitempty"`
	// Center places the ground reference below the relay at the epoch.
	Center bool `yaml:"center,omitempty"`
}

// BackgroundSpec places an image under the scenario.
type BackgroundSpec struct {
	Image string  `yaml:"image"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
}

// DiscSpec is an omnidirectional channel.
type DiscSpec struct {
	Frequency float64 `mapstructure:"frequency"`
	Radius    float64 `mapstructure:"radius"`
}

// SectorSpec is a directional channel.
type SectorSpec struct {
	Frequency float64 `mapstructure:"frequency"`
	Radius    float64 `mapstructure:"radius"`
	BeamWidth float64 `mapstructure:"beam_width"`
	Azimuth   float64 `mapstructure:"azimuth"`
}

// ChannelSpec is a decoded channel entry.
type ChannelSpec struct {
	Model  string
	Disc   *DiscSpec
	Sector *SectorSpec
}

// Build constructs the channel model. A non-nil azimuth overrides the
// sector spec's own.
func (c ChannelSpec) Build(azimuth *float64) core.Channel {
	switch {
	case c.Sector != nil:
		az := c.Sector.Azimuth
		if azimuth != nil {
			az = *azimuth
		}
		return core.NewSectorModel(c.Sector.Frequency, c.Sector.Radius, c.Sector.BeamWidth, az)
	case c.Disc != nil:
		return core.NewDiscModel(c.Disc.Frequency, c.Disc.Radius)
	}
	return nil
}

// DecodeChannel decodes a free-form channel map.
func DecodeChannel(raw map[string]any) (ChannelSpec, error) {
	model, _ := raw["model"].(string)
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != "model" {
			fields[k] = v
		}
	}

	spec := ChannelSpec{Model: strings.ToLower(model)}
	var target any
	switch spec.Model {
	case core.ModelDisc:
		spec.Disc = &DiscSpec{}
		target = spec.Disc
	case core.ModelSector:
		spec.Sector = &SectorSpec{}
		target = spec.Sector
	default:
		return ChannelSpec{}, fmt.Errorf("%w: unknown model %q", ErrInvalidChannel, model)
	}

	dec, err := ms.NewDecoder(&ms.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return ChannelSpec{}, err
	}
	if err := dec.Decode(fields); err != nil {
		return ChannelSpec{}, fmt.Errorf("%w: %w", ErrInvalidChannel, err)
	}

	var freq, radius float64
	if spec.Disc != nil {
		freq, radius = spec.Disc.Frequency, spec.Disc.Radius
	} else {
		freq, radius = spec.Sector.Frequency, spec.Sector.Radius
	}
	if freq <= 0 {
		return ChannelSpec{}, fmt.Errorf("%w: frequency must be > 0, got %v", ErrInvalidChannel, freq)
	}
	if radius <= 0 {
		return ChannelSpec{}, fmt.Errorf("%w: radius must be > 0, got %v", ErrInvalidChannel, radius)
	}
	if spec.Sector != nil {
		if w := spec.Sector.BeamWidth; w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return ChannelSpec{}, fmt.Errorf("%w: beam_width must be finite and > 0, got %v", ErrInvalidChannel, w)
		}
	}
	return spec, nil
}

// DecodedChannels decodes every channel in the spec.
func (s ScenarioSpec) DecodedChannels() (map[string]ChannelSpec, error) {
	out := make(map[string]ChannelSpec, len(s.Channels))
	for name, raw := range s.Channels {
		spec, err := DecodeChannel(raw)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", name, err)
		}
		out[name] = spec
	}
	return out, nil
}

// Validate checks cross references and node parameters.
func (s ScenarioSpec) Validate() error {
	channels, err := s.DecodedChannels()
	if err != nil {
		return err
	}
	known := func(name string) bool {
		_, ok := channels[name]
		return ok
	}
	for _, bs := range s.BaseStations {
		if bs.ID == "" {
			return fmt.Errorf("base station without id")
		}
		if !known(bs.Channel) {
			return fmt.Errorf("base station %q: unknown channel %q", bs.ID, bs.Channel)
		}
		if len(bs.Beams) > 0 && channels[bs.Channel].Sector == nil {
			return fmt.Errorf("base station %q: beams need a sector channel", bs.ID)
		}
	}
	for _, v := range s.Vehicles {
		if v.ID == "" {
			return fmt.Errorf("vehicle without id")
		}
		if !known(v.Channel) {
			return fmt.Errorf("vehicle %q: unknown channel %q", v.ID, v.Channel)
		}
		if v.Speed < 0 || (v.Speed == 0 && v.needsSpeed()) {
			return fmt.Errorf("vehicle %q: speed must be > 0 unless speeds or speed_min/speed_max cover every leg, got %v", v.ID, v.Speed)
		}
		for _, sp := range v.Speeds {
			if sp <= 0 {
				return fmt.Errorf("vehicle %q: leg speed must be > 0, got %v", v.ID, sp)
			}
		}
		if v.SpeedMin > v.SpeedMax {
			return fmt.Errorf("vehicle %q: speed_min %v above speed_max %v", v.ID, v.SpeedMin, v.SpeedMax)
		}
	}
	if s.Roam != nil {
		if s.Roam.Width <= 0 || s.Roam.Height <= 0 {
			return fmt.Errorf("roam area must have a positive size")
		}
		if s.Roam.SpeedMin <= 0 || s.Roam.SpeedMin > s.Roam.SpeedMax {
			return fmt.Errorf("roam speeds must satisfy 0 < speed_min <= speed_max")
		}
	}
	if s.Step < 0 {
		return fmt.Errorf("step must be >= 0, got %v", s.Step)
	}
	switch strings.ToLower(s.Policy) {
	case "", PolicyStrongest:
	case PolicyBandit:
		b := s.BanditSettings()
		if b.ExploreUntil < 0 {
			return fmt.Errorf("bandit explore_until must be >= 0, got %v", b.ExploreUntil)
		}
		if b.ExploreRandom < 0 || b.ExploreRandom > 1 {
			return fmt.Errorf("bandit explore_random must be within [0,1], got %v", b.ExploreRandom)
		}
		if b.MaxActive < 1 {
			return fmt.Errorf("bandit max_active must be >= 1, got %v", b.MaxActive)
		}
	default:
		return fmt.Errorf("unknown policy %q", s.Policy)
	}
	for _, r := range s.Relays {
		if r.ID == "" || r.Line1 == "" || r.Line2 == "" {
			return fmt.Errorf("relay %q needs an id and both TLE lines", r.ID)
		}
		if !known(r.Channel) {
			return fmt.Errorf("relay %q: unknown channel %q", r.ID, r.Channel)
		}
	}
	return nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Step:             0.1,
			Speed:            1,
			CompactThreshold: core.DefaultCompactThreshold,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			SampleRatio: 1,
			ServiceName: "vanet-simulator",
		},
		Scenario: ScenarioSpec{
			Name: "simple",
		},
	}
}

// Load loads configuration from path, if any, and applies environment
// variable overrides.
// Order: defaults -> file -> environment variables
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Simulation.World().Validate(); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"": true, "text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("sample_ratio must be between 0 and 1, got %f", c.Tracing.SampleRatio)
	}

	if c.Scenario.Empty() {
		if c.Scenario.Name == "" {
			return fmt.Errorf("scenario needs a built-in name or node definitions")
		}
		return nil
	}
	if err := c.Scenario.Validate(); err != nil {
		return fmt.Errorf("scenario %q: %w", c.Scenario.Name, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	floatVar := func(name string, dst *float64) {
		if v := os.Getenv(name); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	boolVar := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	floatVar("WSIM_STOP", &config.Simulation.Stop)
	floatVar("WSIM_STEP", &config.Simulation.Step)
	floatVar("WSIM_SPEED", &config.Simulation.Speed)
	boolVar("WSIM_DISPLAY", &config.Simulation.Display)

	if v := os.Getenv("WSIM_SCENARIO"); v != "" {
		config.Scenario.Name = v
	}
	if v := os.Getenv("WSIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Scenario.Seed = n
		}
	}

	if v := os.Getenv("WSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("WSIM_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}
	if v := os.Getenv("WSIM_METRICS_ADDR"); v != "" {
		config.Metrics.Addr = v
	}
	if v := os.Getenv("WSIM_DB"); v != "" {
		config.Store.Path = v
	}
	if v := os.Getenv("WSIM_FRAMES"); v != "" {
		config.Render.Frames = v
	}
	if v := os.Getenv("WSIM_VIEWER_ADDR"); v != "" {
		config.Viewer.Addr = v
	}
}
