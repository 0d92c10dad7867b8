package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/sfu/internal/core"
)

func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("CONFIG_ENV", "test")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.SignalPort)
	assert.Equal(t, []uint16{3478, 3479}, cfg.MediaPorts())
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "127.0.0.1", cfg.MediaHost())
	assert.Equal(t, core.DefaultTransceivers(), cfg.Transceivers)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte(`
mode: debug
host: 0.0.0.0
signal_port: 9000
media_port_min: 4000
media_port_max: 4003
idle_timeout: 45s
transceivers:
  - mid: "0"
    kind: audio
    direction: recvonly
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o600))
	t.Setenv("SFU_LOG_LEVEL", "debug")

	cfg, err := Load([]string{"--signal-port=7000"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 7000, cfg.SignalPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.IdleTimeout)
	assert.Equal(t, []uint16{4000, 4001, 4002, 4003}, cfg.MediaPorts())
	assert.Equal(t, "0.0.0.0", cfg.MediaHost())
	assert.Equal(t, []core.TransceiverTemplate{{Mid: "0", Kind: "audio", Direction: "recvonly"}}, cfg.Transceivers)

	cfg, err = Load([]string{"--force-local-loop"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.MediaHost())
}

func TestLoadInvalid(t *testing.T) {
	inTempDir(t)
	tests := []struct {
		name string
		args []string
	}{
		{name: "inverted media ports", args: []string{"--media-port-min=4000", "--media-port-max=3000"}},
		{name: "zero idle timeout", args: []string{"--idle-timeout=0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Load([]string{"--no-such-flag"})
	assert.Error(t, err)
}
