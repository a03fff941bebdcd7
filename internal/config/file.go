// Package config handles deckfetch configuration from YAML files.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level deckfetch configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Capture   CaptureConfig   `yaml:"capture"`
	Readiness ReadinessConfig `yaml:"readiness"`
	Count     CountConfig     `yaml:"count"`
	Service   ServiceConfig   `yaml:"service"`
}

// BrowserConfig controls Chrome lifecycle and surface geometry.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Headful          bool          `yaml:"headful"`
	XvfbDisplay      string        `yaml:"xvfb_display"`
	UserAgent        string        `yaml:"user_agent"`
	ViewportWidth    int           `yaml:"viewport_width"`
	ViewportHeight   int           `yaml:"viewport_height"`
}

// CaptureConfig controls the per-session capture loop.
type CaptureConfig struct {
	MaxSlides         int           `yaml:"max_slides"`
	Timeout           time.Duration `yaml:"timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	InterSlideDelay   time.Duration `yaml:"inter_slide_delay"`
	AssembleReserve   time.Duration `yaml:"assemble_reserve"`
	ReadinessAttempts int           `yaml:"readiness_attempts"`
	ReadinessBackoff  time.Duration `yaml:"readiness_backoff"`
	MouseJitter       bool          `yaml:"mouse_jitter"`
}

// ReadinessConfig tunes the slide readiness oracle.
type ReadinessConfig struct {
	MinTextLength  int           `yaml:"min_text_length"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxWait        time.Duration `yaml:"max_wait"`
	Strict         bool          `yaml:"strict"`
	ContentMarkers []string      `yaml:"content_markers"`
}

// CountConfig tunes slide-count detection.
type CountConfig struct {
	CounterSelectors []string      `yaml:"counter_selectors"`
	NextSelector     string        `yaml:"next_selector"`
	UpperSanityBound int           `yaml:"upper_sanity_bound"`
	ProbeLimit       int           `yaml:"probe_limit"`
	ProbeDelay       time.Duration `yaml:"probe_delay"`
	Fallback         int           `yaml:"fallback"`
	Budget           time.Duration `yaml:"budget"`
}

// ServiceConfig controls the HTTP front-end.
type ServiceConfig struct {
	Addr          string        `yaml:"addr"`
	DataDir       string        `yaml:"data_dir"`
	RegistryDB    string        `yaml:"registry_db"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	APITokenHash  string        `yaml:"api_token_hash"`
	Preflight     bool          `yaml:"preflight"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills unset fields. Component packages default their own
// zero values too; these are the service-level answers.
func (c *Config) ApplyDefaults() {
	if c.Capture.MaxSlides <= 0 {
		c.Capture.MaxSlides = 15
	}
	if c.Capture.Timeout <= 0 {
		c.Capture.Timeout = 180 * time.Second
	}
	if c.Service.Addr == "" {
		c.Service.Addr = ":8086"
	}
	if c.Service.DataDir == "" {
		c.Service.DataDir = "data"
	}
	if c.Service.RegistryDB == "" {
		c.Service.RegistryDB = "db/registry.db"
	}
	if c.Service.Retention <= 0 {
		c.Service.Retention = 24 * time.Hour
	}
	if c.Service.SweepInterval <= 0 {
		c.Service.SweepInterval = 15 * time.Minute
	}
}
