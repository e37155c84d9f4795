package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idanyas/speedtui/internal/config"
)

func TestWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "speedtui.yaml")
	cfg := config.Default()
	cfg.Probe.LatencyAttempts = 7
	cfg.Probe.LatencyDelay = 150 * time.Millisecond
	cfg.Directory.ServerIndex = 3

	var out bytes.Buffer
	require.NoError(t, writeConfig(&out, path, cfg))
	assert.Contains(t, out.String(), path)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Probe.LatencyAttempts)
	assert.Equal(t, 150*time.Millisecond, loaded.Probe.LatencyDelay)
	assert.Equal(t, 3, loaded.Directory.ServerIndex)
	require.NoError(t, loaded.Validate())
}
