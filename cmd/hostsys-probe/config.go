package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/srediag/hostsys/internal/logging"
)

// Duration decodes TOML strings such as "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the probe daemon configuration.
type Config struct {
	// Listen is the HTTP address for /live, /ready and /metrics. Empty runs once and exits.
	Listen string `toml:"listen"`
	// Namespace prefixes every metric name.
	Namespace string `toml:"namespace"`
	// Workers is the number of probes run at once.
	Workers int `toml:"workers"`
	// ProbeTimeout bounds every probe.
	ProbeTimeout Duration `toml:"probe_timeout"`
	// LogLevel is 0 (trace) through 5 (silent). It defaults to the level
	// already in effect, so HOSTSYS_LOG_LEVEL holds unless the file sets one.
	LogLevel int `toml:"log_level"`
	// ArenaSize is the size of the mapping area probe, in bytes.
	ArenaSize uint64 `toml:"arena_size"`
	// ShmMinFree is the free /dev/shm space required, in bytes.
	ShmMinFree uint64 `toml:"shm_min_free"`
	// MaxGoroutines fails liveness once exceeded. Zero disables the check.
	MaxGoroutines int `toml:"max_goroutines"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Namespace:     "hostsys",
		Workers:       4,
		ProbeTimeout:  Duration{2 * time.Second},
		LogLevel:      logging.Level(),
		ArenaSize:     1 << 20,
		ShmMinFree:    64 << 20,
		MaxGoroutines: 10000,
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", config.Workers)
	}
	if config.ProbeTimeout.Duration <= 0 {
		return fmt.Errorf("probe_timeout must be positive, got %s", config.ProbeTimeout)
	}
	if config.LogLevel < logging.LevelTrace || config.LogLevel > logging.LevelNoPrint {
		return fmt.Errorf("log_level must be within [%d, %d], got %d", logging.LevelTrace, logging.LevelNoPrint, config.LogLevel)
	}
	if config.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	return nil
}

// LoadConfig reads path over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := VerifyConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return config, nil
}
