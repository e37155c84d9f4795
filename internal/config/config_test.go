package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 20, cfg.Probe.LatencyAttempts)
	assert.Equal(t, 300*time.Millisecond, cfg.Probe.LatencyDelay)
	assert.Equal(t, int64(10*1024*1024), cfg.Probe.UploadBytes)
	assert.Equal(t, 0, cfg.Directory.ServerIndex)
	assert.Equal(t, DefaultServerURLs, cfg.Directory.URLs)
	assert.Equal(t, 16*time.Millisecond, cfg.Display.Tick)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speedtui.yaml")
	content := `
probe:
  latency_mode: tcp
  latency_attempts: 5
  latency_delay: 50ms
directory:
  server_index: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, LatencyTCP, cfg.Probe.LatencyMode)
	assert.Equal(t, 5, cfg.Probe.LatencyAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Probe.LatencyDelay)
	assert.Equal(t, 3, cfg.Directory.ServerIndex)

	// untouched keys keep their defaults
	assert.Equal(t, Default().Probe.UploadBytes, cfg.Probe.UploadBytes)
	assert.Equal(t, Default().Directory.URLs, cfg.Directory.URLs)
	assert.Equal(t, Default().Probe.DownloadPath, cfg.Probe.DownloadPath)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("probe: [unclosed"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "speedtui.yaml")
	cfg := Default()
	cfg.Probe.LatencyAttempts = 7
	cfg.Metrics.Addr = ":9100"

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad latency mode", func(c *Config) { c.Probe.LatencyMode = "icmp" }, "latency mode"},
		{"zero attempts", func(c *Config) { c.Probe.LatencyAttempts = 0 }, "latency attempts"},
		{"negative delay", func(c *Config) { c.Probe.LatencyDelay = -time.Second }, "latency delay"},
		{"zero timeout", func(c *Config) { c.Probe.UploadTimeout = 0 }, "timeouts"},
		{"zero upload", func(c *Config) { c.Probe.UploadBytes = 0 }, "upload size"},
		{"negative index", func(c *Config) { c.Directory.ServerIndex = -1 }, "server index"},
		{"no urls", func(c *Config) { c.Directory.URLs = nil }, "server list URL"},
		{"zero tick", func(c *Config) { c.Display.Tick = 0 }, "display tick"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
