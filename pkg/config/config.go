// Package config loads the per-checkout polybuild.toml configuration.
//
// Configuration is read once per invocation and passed explicitly into the
// discoverer and orchestrator; there is no ambient global state, which keeps
// components independently constructible in tests.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
)

// Filename is the optional configuration file looked up at the scan root.
const Filename = "polybuild.toml"

// DefaultParallelism bounds the orchestrator worker pool when neither the
// config file nor the --parallel flag says otherwise.
const DefaultParallelism = 4

// defaultIgnoreNames are directory basenames never descended into. They
// cover VCS metadata, virtualenvs, and build output trees that commonly
// contain stray pyproject.toml files.
var defaultIgnoreNames = []string{
	".git", ".hg", ".venv", "venv", "node_modules",
	"__pycache__", ".tox", ".mypy_cache", "dist", "build", "target",
}

// Config is the resolved per-invocation configuration.
type Config struct {
	// Root is the absolute scan root the config was loaded for.
	Root string `toml:"-"`

	// IgnoreDirectories are exact directories (absolute, or relative to
	// Root) excluded from discovery.
	IgnoreDirectories []string `toml:"ignore_directories"`

	// IgnoreDirectoryNames are basenames excluded wherever they appear.
	IgnoreDirectoryNames []string `toml:"ignore_directory_names"`

	// Parallelism bounds the orchestrator worker pool.
	Parallelism int `toml:"parallelism"`

	// Backend configures the external build backend invocations.
	Backend Backend `toml:"backend"`
}

// Backend holds build-backend process settings.
type Backend struct {
	// Poetry overrides the poetry executable (default "poetry").
	Poetry string `toml:"poetry"`
	// Maturin overrides the maturin executable (default "maturin").
	Maturin string `toml:"maturin"`
	// TimeoutSeconds caps one backend invocation; 0 means no timeout.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Default returns the configuration used when no polybuild.toml exists.
func Default(root string) *Config {
	return &Config{
		Root:                 root,
		IgnoreDirectoryNames: append([]string(nil), defaultIgnoreNames...),
		Parallelism:          DefaultParallelism,
		Backend:              Backend{Poetry: "poetry", Maturin: "maturin"},
	}
}

// Load reads polybuild.toml from root if present, falling back to Default.
// File values extend the defaults: ignore_directory_names are appended to
// the built-in list rather than replacing it.
func Load(root string) (*Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "resolve root %s", root)
	}

	cfg := Default(abs)
	path := filepath.Join(abs, Filename)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read %s", path)
	}

	var file Config
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse %s", path)
	}

	cfg.IgnoreDirectories = file.IgnoreDirectories
	cfg.IgnoreDirectoryNames = append(cfg.IgnoreDirectoryNames, file.IgnoreDirectoryNames...)
	if file.Parallelism > 0 {
		cfg.Parallelism = file.Parallelism
	}
	if file.Backend.Poetry != "" {
		cfg.Backend.Poetry = file.Backend.Poetry
	}
	if file.Backend.Maturin != "" {
		cfg.Backend.Maturin = file.Backend.Maturin
	}
	if file.Backend.TimeoutSeconds > 0 {
		cfg.Backend.TimeoutSeconds = file.Backend.TimeoutSeconds
	}
	return cfg, nil
}

// BackendTimeout returns the configured per-invocation timeout, zero when
// unlimited.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// IgnoredDirs returns the exact ignored directories resolved against Root.
func (c *Config) IgnoredDirs() []string {
	out := make([]string, 0, len(c.IgnoreDirectories))
	for _, dir := range c.IgnoreDirectories {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(c.Root, dir)
		}
		out = append(out, filepath.Clean(dir))
	}
	return out
}
