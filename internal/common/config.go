package common

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the complete configuration for a job queue core
// process: where the store lives, how workers poll it, and how the
// process logs.
type Config struct {
	Store   StoreConfig   `toml:"store"`
	Queue   QueueConfig   `toml:"queue"`
	Logging LoggingConfig `toml:"logging"`
}

// StoreConfig controls the embedded Badger database backing the Store
// Abstraction.
type StoreConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// QueueConfig controls default queue behavior applied when an
// operation doesn't specify its own override.
type QueueConfig struct {
	DefaultTimeout   string `toml:"default_timeout" validate:"required"`   // e.g. "180s"
	DequeueTimeout   string `toml:"dequeue_timeout" validate:"required"`   // e.g. "0s" means non-blocking
	DefaultResultTTL string `toml:"default_result_ttl"`                    // e.g. "500s", empty means store forever
	AsyncMode        bool   `toml:"async_mode"`                            // false runs jobs synchronously at enqueue time
}

// LoggingConfig controls the ambient arbor-backed logger. Dir names
// where file-output logs are written; unlike the teacher's
// executable-relative logs directory, this core has no binary of its
// own (spec.md §1 excludes CLIs), so the embedding process names the
// directory explicitly.
type LoggingConfig struct {
	Level      string   `toml:"level"`       // "trace", "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default: "15:04:05.000"
	Dir        string   `toml:"dir"`         // default: "./logs"
}

// Defaults returns a Config with the same baseline values the teacher
// ships in its example TOML, scoped down to the concerns this core has.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Path:           "./data/badger",
			ResetOnStartup: false,
		},
		Queue: QueueConfig{
			DefaultTimeout:   "180s",
			DequeueTimeout:   "0s",
			DefaultResultTTL: "500s",
			AsyncMode:        true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
			Dir:        "./logs",
		},
	}
}

// Load reads and parses a TOML configuration file at path, applying
// Defaults() for any zero-valued field the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %q: %w", path, err)
	}

	return cfg, nil
}
