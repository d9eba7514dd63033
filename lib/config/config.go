// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway configuration.
type Config struct {
	// Listen is the address the websocket endpoint binds to.
	Listen string `yaml:"listen"`

	// Paths configures data locations.
	Paths PathsConfig `yaml:"paths"`

	// Vaults maps vault IDs to their root directories. At least one
	// vault is required.
	Vaults map[string]string `yaml:"vaults"`

	// KeepAliveInterval is the server ping cadence, as a Go duration
	// string.
	KeepAliveInterval string `yaml:"keep_alive_interval"`

	// PermissionTimeout bounds how long a gated tool waits for a user
	// decision before the default deny, as a Go duration string.
	PermissionTimeout string `yaml:"permission_timeout"`

	// Runtime configures the agent runtime subprocess.
	Runtime RuntimeConfig `yaml:"runtime"`
}

// PathsConfig configures data locations.
type PathsConfig struct {
	// Root is the base directory for gateway data.
	Root string `yaml:"root"`

	// Database is the session registry SQLite file.
	Database string `yaml:"database"`

	// Archive is the turn archive directory.
	Archive string `yaml:"archive"`
}

// RuntimeConfig configures the agent runtime subprocess.
type RuntimeConfig struct {
	// Binary is the runtime executable path.
	Binary string `yaml:"binary"`

	// Args are extra arguments passed to every turn.
	Args []string `yaml:"args,omitempty"`

	// SystemPrompt is appended to the runtime's system prompt.
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}

// Default returns the default configuration. Defaults exist to give
// every field a sensible zero value before the file loads, not as a
// substitute for the file: vaults and the runtime binary have no
// defaults and must come from configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "vellum")

	return &Config{
		Listen: "127.0.0.1:8787",
		Paths: PathsConfig{
			Root:     defaultRoot,
			Database: filepath.Join(defaultRoot, "sessions.db"),
			Archive:  filepath.Join(defaultRoot, "archive"),
		},
		KeepAliveInterval: "30s",
		PermissionTimeout: "2m",
	}
}

// Load loads configuration from the VELLUM_CONFIG environment
// variable. There are no fallbacks: if VELLUM_CONFIG is not set, this
// fails.
func Load() (*Config, error) {
	path := os.Getenv("VELLUM_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("VELLUM_CONFIG environment variable not set; " +
			"set it to the path of your vellum.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, layered over
// Default. Environment variables never override file values; the only
// expansion performed is ${HOME} and similar path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"VELLUM_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["VELLUM_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.Archive = expandVars(c.Paths.Archive, vars)
	c.Runtime.Binary = expandVars(c.Runtime.Binary, vars)
	for id, root := range c.Vaults {
		c.Vaults[id] = expandVars(root, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("listen is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, fmt.Errorf("paths.database is required"))
	}
	if len(c.Vaults) == 0 {
		errs = append(errs, fmt.Errorf("at least one vault is required"))
	}
	for id, root := range c.Vaults {
		if id == "" || root == "" {
			errs = append(errs, fmt.Errorf("vault entries need both an ID and a root (got %q: %q)", id, root))
		}
	}
	if c.Runtime.Binary == "" {
		errs = append(errs, fmt.Errorf("runtime.binary is required"))
	}

	if _, err := parsePositiveDuration(c.KeepAliveInterval); err != nil {
		errs = append(errs, fmt.Errorf("keep_alive_interval: %w", err))
	}
	if _, err := parsePositiveDuration(c.PermissionTimeout); err != nil {
		errs = append(errs, fmt.Errorf("permission_timeout: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// KeepAlive returns the parsed keep-alive interval. Call Validate
// first; an unparseable value falls back to the default.
func (c *Config) KeepAlive() time.Duration {
	return durationOrDefault(c.KeepAliveInterval, 30*time.Second)
}

// PermissionWait returns the parsed permission timeout. Call Validate
// first; an unparseable value falls back to the default.
func (c *Config) PermissionWait() time.Duration {
	return durationOrDefault(c.PermissionTimeout, 2*time.Minute)
}

// EnsurePaths creates the data directories.
func (c *Config) EnsurePaths() error {
	for _, directory := range []string{
		c.Paths.Root,
		filepath.Dir(c.Paths.Database),
		c.Paths.Archive,
	} {
		if directory == "" {
			continue
		}
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}

func parsePositiveDuration(value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", value)
	}
	return parsed, nil
}

func durationOrDefault(value string, fallback time.Duration) time.Duration {
	parsed, err := parsePositiveDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
