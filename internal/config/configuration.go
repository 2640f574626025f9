// ABOUTME: Configuration subsystem owning the live settings and their document on disk
// ABOUTME: Seeds a default document on first run; Update tasks persist then swap settings

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/2389/worldgpt/internal/subsystem"
)

// Update replaces the live configuration. The worker validates it, writes
// it to the configuration path and only then swaps the in-memory copy.
type Update struct {
	Config Config
}

// Configuration is the subsystem that owns process settings.
type Configuration struct {
	*subsystem.Base

	env         Env
	defaultPath string

	// guarded by Guard()
	path string
	cfg  Config
}

// NewConfiguration creates the configuration subsystem. An empty
// defaultPath falls back to DefaultPath.
func NewConfiguration(e Env, defaultPath string, logger *slog.Logger) *Configuration {
	if defaultPath == "" {
		defaultPath = DefaultPath
	}
	c := &Configuration{
		env:         e,
		defaultPath: defaultPath,
	}
	c.Base = subsystem.NewBase("configuration", c, subsystem.WithLogger(logger))
	return c
}

// Snapshot returns a copy of the live settings.
func (c *Configuration) Snapshot() Config {
	var out Config
	c.Guard().ReadLocked(func() {
		out = c.cfg
	})
	return out
}

// Path returns the resolved configuration document location.
func (c *Configuration) Path() string {
	var out string
	c.Guard().ReadLocked(func() {
		out = c.path
	})
	return out
}

// Exists resolves the document path and reports whether the file is present.
// An environment override must already exist.
func (c *Configuration) Exists(ctx context.Context) (bool, error) {
	path, err := c.resolvePath()
	if err != nil {
		return false, err
	}
	c.Guard().WriteLocked(func() {
		c.path = path
	})

	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		// A file in place of a parent directory is still "no document";
		// first run reports why it cannot be written.
		return false, nil
	default:
		return false, fmt.Errorf("checking config file: %w", err)
	}
}

func (c *Configuration) resolvePath() (string, error) {
	if c.env.ConfPath == "" {
		return c.defaultPath, nil
	}
	if _, err := os.Stat(c.env.ConfPath); err != nil {
		return "", fmt.Errorf("%w: %s=%s", ErrConfigPathOverrideMissing, ConfPathEnv, c.env.ConfPath)
	}
	c.Logger().Info("using environment variable for configuration", "path", c.env.ConfPath)
	return c.env.ConfPath, nil
}

// FirstRun writes a default document to the resolved path.
func (c *Configuration) FirstRun(ctx context.Context) error {
	path := c.Path()
	cfg := Default()
	cfg.Persistence.Configuration = path

	if err := Write(path, cfg); err != nil {
		return err
	}
	c.Logger().Info("wrote default configuration", "path", path)
	return nil
}

// Load reads the document, applies environment overrides and installs it.
func (c *Configuration) Load(ctx context.Context) error {
	path := c.Path()
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	cfg.Persistence.Configuration = path
	c.env.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: environment overrides: %w", ErrConfigLoad, err)
	}

	c.Guard().WriteLocked(func() {
		c.cfg = *cfg
	})
	c.Logger().Debug("configuration loaded",
		"path", path,
		"datastore", cfg.Database.Path,
		"listen", cfg.API.Addr(),
		"model", cfg.LLM.Model)
	return nil
}

// Apply handles Update tasks on the worker.
func (c *Configuration) Apply(ctx context.Context, task subsystem.Task) error {
	var cfg Config
	switch t := task.(type) {
	case Update:
		cfg = t.Config
	case *Update:
		cfg = t.Config
	default:
		return subsystem.ErrUnknownTask
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("rejecting configuration update: %w", err)
	}

	if cfg.LLM.RequestTimeout > 0 {
		cfg.LLM.RequestTimeoutRaw = cfg.LLM.RequestTimeout.String()
	}
	if cfg.Subsystems.ShutdownTimeout > 0 {
		cfg.Subsystems.ShutdownTimeoutRaw = cfg.Subsystems.ShutdownTimeout.String()
	}

	path := c.Path()
	cfg.Persistence.Configuration = path
	if err := Write(path, &cfg); err != nil {
		return err
	}

	c.Guard().WriteLocked(func() {
		c.cfg = cfg
	})
	c.Logger().Info("configuration updated", "path", path)
	return nil
}
