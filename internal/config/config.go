// Package config loads the wavemix configuration file.
//
// The file is read once at startup. Channel list, output device and latency
// shape the whole routing graph, so any change to them means a full topology
// rebuild (see service.ConfigWatcher).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Build metadata, set via -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

// DefaultChannels is used when the file lists none.
var DefaultChannels = []string{"Music", "Game", "Voice", "System"}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Audio    AudioConfig    `yaml:"audio"`
	Pactl    PactlConfig    `yaml:"pactl"`
	Topology TopologyConfig `yaml:"topology"`
	Feed     FeedConfig     `yaml:"feed"`
	Redis    RedisConfig    `yaml:"redis"`
}

type AudioConfig struct {
	Channels     []string `yaml:"channels"`
	OutputDevice string   `yaml:"output_device"` // empty => autodetect
	LatencyMS    int      `yaml:"latency_ms" default:"20"`
}

type PactlConfig struct {
	Binary    string `yaml:"binary"     default:"pactl"`
	TimeoutMS int    `yaml:"timeout_ms" default:"5000"`
}

type TopologyConfig struct {
	SettleMS          int `yaml:"settle_ms"           default:"200"`
	ResolveTimeoutMS  int `yaml:"resolve_timeout_ms"  default:"2000"`
	ResolveIntervalMS int `yaml:"resolve_interval_ms" default:"100"`
}

type FeedConfig struct {
	IntervalMS int `yaml:"interval_ms" default:"50"`
}

type RedisConfig struct {
	Address string `yaml:"address"` // empty => mirror disabled
	DB      int    `yaml:"db"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Audio.Channels = slices.Clone(DefaultChannels)
	return cfg
}

// Load reads and validates the file at path. Keys missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read '%s': %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if len(cfg.Audio.Channels) == 0 {
		cfg.Audio.Channels = slices.Clone(DefaultChannels)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if err := mixer.ValidateNames(c.Audio.Channels); err != nil {
		return fmt.Errorf("%w: audio.channels: %v", ErrInvalidConfig, err)
	}
	if c.Audio.LatencyMS <= 0 {
		return fmt.Errorf("%w: audio.latency_ms must be positive", ErrInvalidConfig)
	}
	if c.Pactl.TimeoutMS <= 0 {
		return fmt.Errorf("%w: pactl.timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.Topology.SettleMS < 0 || c.Topology.ResolveTimeoutMS < 0 || c.Topology.ResolveIntervalMS < 0 {
		return fmt.Errorf("%w: topology delays must not be negative", ErrInvalidConfig)
	}
	if c.Feed.IntervalMS <= 0 {
		return fmt.Errorf("%w: feed.interval_ms must be positive", ErrInvalidConfig)
	}
	return nil
}

// SameTopology reports whether two configs produce the same routing graph.
func (c *Config) SameTopology(o *Config) bool {
	return slices.Equal(c.Audio.Channels, o.Audio.Channels) &&
		c.Audio.OutputDevice == o.Audio.OutputDevice &&
		c.Audio.LatencyMS == o.Audio.LatencyMS
}

func (c PactlConfig) Timeout() time.Duration { return ms(c.TimeoutMS) }

func (c TopologyConfig) Settle() time.Duration          { return ms(c.SettleMS) }
func (c TopologyConfig) ResolveTimeout() time.Duration  { return ms(c.ResolveTimeoutMS) }
func (c TopologyConfig) ResolveInterval() time.Duration { return ms(c.ResolveIntervalMS) }

func (c FeedConfig) Interval() time.Duration { return ms(c.IntervalMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// DefaultPath returns the first existing candidate config file, or "" if none.
func DefaultPath() string {
	candidates := []string{"wavemix.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "wavemix", "wavemix.yaml"))
	}
	candidates = append(candidates, "/etc/wavemix/wavemix.yaml")

	for _, p := range candidates {
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// fileExists checks if a file or directory exists at the given path.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
