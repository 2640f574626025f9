// ABOUTME: Process environment overrides for configuration location and listen address
// ABOUTME: Parsed with caarlos0/env; empty values leave the document untouched

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/2389/worldgpt/internal/about"
)

// ConfPathEnv names the variable that overrides the configuration document location.
var ConfPathEnv = strings.ToUpper(about.Title) + "_CONFPATH"

// Env holds overrides read from the process environment.
type Env struct {
	// ConfPath must name an existing file when set.
	ConfPath string `env:"WORLDGPT_CONFPATH"`

	ListenAddress string `env:"WGPT_LISTEN_ADDRESS"`
	ListenPort    int    `env:"WGPT_LISTEN_PORT"`
}

// ParseEnv loads overrides from environment variables.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// apply copies listen overrides onto cfg.
func (e Env) apply(cfg *Config) {
	if e.ListenAddress != "" {
		cfg.API.ListenHost = e.ListenAddress
	}
	if e.ListenPort != 0 {
		cfg.API.ListenPort = e.ListenPort
	}
}

// Resolve reads the document the environment points at without starting the
// subsystem. A missing default document yields Default; a missing override
// is an error.
func Resolve(e Env, defaultPath string) (*Config, error) {
	path := e.ConfPath
	if path == "" {
		if defaultPath == "" {
			defaultPath = DefaultPath
		}
		path = defaultPath
	}

	cfg, err := Load(path)
	switch {
	case err == nil:
	case e.ConfPath == "" && errors.Is(err, os.ErrNotExist):
		cfg = Default()
	case e.ConfPath != "" && errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s=%s", ErrConfigPathOverrideMissing, ConfPathEnv, e.ConfPath)
	default:
		return nil, err
	}
	e.apply(cfg)
	return cfg, nil
}
