package config

import "time"

// Config represents the textern host configuration.
type Config struct {
	Log LogConfig `yaml:"log"`
	// ScratchParent is where the per-run scratch directory is created.
	// Empty means $XDG_RUNTIME_DIR/textern, falling back to the system temp dir.
	ScratchParent string `yaml:"scratch_parent"`
	// DefaultKillTimeout applies when the extension does not send kill_editors_timeout.
	DefaultKillTimeout time.Duration `yaml:"default_kill_timeout"`

	// SourceFile is the file the configuration was read from, "" for defaults.
	SourceFile string `yaml:"-"`
}

// LogConfig defines logging settings. Logs never go to standard output, which
// carries the native messaging protocol.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File appends logs to a file instead of standard error.
	File string `yaml:"file"`
}

// Defaults returns a Config with default values applied.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		DefaultKillTimeout: time.Second,
	}
}
