package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted when no --config flag is given.
const EnvConfigPath = "TEXTERN_CONFIG"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from an explicit path. A missing file is an error.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path passed with --config or $%s", absPath, EnvConfigPath)
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourceFile = absPath

	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Resolve loads the configuration named by flagPath, then $TEXTERN_CONFIG, then the
// per-user default location. Only the per-user file may be absent, in which case
// defaults are returned.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return Load(flagPath)
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return Load(envPath)
	}

	path, err := DefaultPath()
	if err != nil {
		return Defaults(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	return Load(path)
}

// DefaultPath returns $XDG_CONFIG_HOME/textern/config.yaml, or
// ~/.config/textern/config.yaml when XDG_CONFIG_HOME is unset.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "textern", "config.yaml"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "textern", "config.yaml"), nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	if cfg.DefaultKillTimeout == 0 {
		cfg.DefaultKillTimeout = defaults.DefaultKillTimeout
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Log.Format)] {
		return fmt.Errorf("log.format must be one of: json, text (got %q)", cfg.Log.Format)
	}

	if cfg.DefaultKillTimeout < 0 {
		return fmt.Errorf("default_kill_timeout must not be negative (got %s)", cfg.DefaultKillTimeout)
	}

	for field, value := range map[string]string{
		"log.file":       cfg.Log.File,
		"scratch_parent": cfg.ScratchParent,
	} {
		if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
		}
	}
	return nil
}
