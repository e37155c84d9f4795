package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	LatencyHTTP = "http"
	LatencyTCP  = "tcp"
)

// Config holds application configuration
type Config struct {
	Directory DirectoryConfig `yaml:"directory"`
	Probe     ProbeConfig     `yaml:"probe"`
	Display   DisplayConfig   `yaml:"display"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// DirectoryConfig controls where servers come from and which one is measured.
type DirectoryConfig struct {
	URLs        []string      `yaml:"urls"`
	ServerIndex int           `yaml:"server_index"`
	Nearest     bool          `yaml:"nearest"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ProbeConfig holds probe counts, sizes, delays and timeouts.
type ProbeConfig struct {
	LatencyMode     string        `yaml:"latency_mode"`
	LatencyAttempts int           `yaml:"latency_attempts"`
	LatencyDelay    time.Duration `yaml:"latency_delay"`
	LatencyTimeout  time.Duration `yaml:"latency_timeout"`
	LatencyPath     string        `yaml:"latency_path"`
	DownloadPath    string        `yaml:"download_path"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	UploadPath      string        `yaml:"upload_path"`
	UploadBytes     int64         `yaml:"upload_bytes"`
	UploadTimeout   time.Duration `yaml:"upload_timeout"`
}

type DisplayConfig struct {
	Tick time.Duration `yaml:"tick"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultServerURLs are tried in order until one returns a server list.
var DefaultServerURLs = []string{
	"http://www.speedtest.net/speedtest-servers-static.php",
	"http://c.speedtest.net/speedtest-servers-static.php",
	"http://www.speedtest.net/speedtest-servers.php",
	"http://c.speedtest.net/speedtest-servers.php",
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Directory: DirectoryConfig{
			URLs:        append([]string(nil), DefaultServerURLs...),
			ServerIndex: 0,
			Timeout:     15 * time.Second,
		},
		Probe: ProbeConfig{
			LatencyMode:     LatencyHTTP,
			LatencyAttempts: 20,
			LatencyDelay:    300 * time.Millisecond,
			LatencyTimeout:  10 * time.Second,
			LatencyPath:     "/",
			DownloadPath:    "/speedtest/random2000x2000.jpg",
			DownloadTimeout: 60 * time.Second,
			UploadPath:      "/speedtest/upload.php",
			UploadBytes:     10 << 20,
			UploadTimeout:   60 * time.Second,
		},
		Display: DisplayConfig{
			Tick: 16 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeWithDefaults(cfg)
	return cfg, nil
}

// mergeWithDefaults fills zero values left by a partial file.
func mergeWithDefaults(cfg *Config) {
	defaults := Default()

	if len(cfg.Directory.URLs) == 0 {
		cfg.Directory.URLs = defaults.Directory.URLs
	}
	if cfg.Directory.Timeout == 0 {
		cfg.Directory.Timeout = defaults.Directory.Timeout
	}

	p, d := &cfg.Probe, defaults.Probe
	if p.LatencyMode == "" {
		p.LatencyMode = d.LatencyMode
	}
	if p.LatencyAttempts == 0 {
		p.LatencyAttempts = d.LatencyAttempts
	}
	if p.LatencyTimeout == 0 {
		p.LatencyTimeout = d.LatencyTimeout
	}
	if p.LatencyPath == "" {
		p.LatencyPath = d.LatencyPath
	}
	if p.DownloadPath == "" {
		p.DownloadPath = d.DownloadPath
	}
	if p.DownloadTimeout == 0 {
		p.DownloadTimeout = d.DownloadTimeout
	}
	if p.UploadPath == "" {
		p.UploadPath = d.UploadPath
	}
	if p.UploadBytes == 0 {
		p.UploadBytes = d.UploadBytes
	}
	if p.UploadTimeout == 0 {
		p.UploadTimeout = d.UploadTimeout
	}

	if cfg.Display.Tick == 0 {
		cfg.Display.Tick = defaults.Display.Tick
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Probe.LatencyMode != LatencyHTTP && c.Probe.LatencyMode != LatencyTCP:
		return fmt.Errorf("latency mode must be %q or %q, got %q", LatencyHTTP, LatencyTCP, c.Probe.LatencyMode)
	case c.Probe.LatencyAttempts <= 0:
		return errors.New("latency attempts must be a positive number")
	case c.Probe.LatencyDelay < 0:
		return errors.New("latency delay must not be negative")
	case c.Probe.LatencyTimeout <= 0, c.Probe.DownloadTimeout <= 0, c.Probe.UploadTimeout <= 0:
		return errors.New("probe timeouts must be positive")
	case c.Probe.UploadBytes <= 0:
		return errors.New("upload size must be a positive number")
	case c.Directory.ServerIndex < 0:
		return errors.New("server index must not be negative")
	case len(c.Directory.URLs) == 0:
		return errors.New("at least one server list URL is required")
	case c.Display.Tick <= 0:
		return errors.New("display tick must be positive")
	}
	return nil
}

// Save writes cfg as YAML, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
