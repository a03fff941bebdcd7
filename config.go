package deckfetch

import (
	"github.com/hazyhaar/deckfetch/internal/config"
)

// Config is the top-level deckfetch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle and surface geometry.
type BrowserConfig = config.BrowserConfig

// CaptureConfig controls the per-session capture loop.
type CaptureConfig = config.CaptureConfig

// ReadinessConfig tunes the slide readiness oracle.
type ReadinessConfig = config.ReadinessConfig

// CountConfig tunes slide-count detection.
type CountConfig = config.CountConfig

// ServiceConfig controls the HTTP front-end.
type ServiceConfig = config.ServiceConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
