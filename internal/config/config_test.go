package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetState isolates each test from viper's package-level state.
func resetState(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		viper.Reset()
		SetConfigPath("")
		Set(nil)
	})
	viper.Reset()
	SetConfigPath("")
	Set(nil)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kmsflip.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestGetReturnsDefaultsWhenUninitialized(t *testing.T) {
	resetState(t)

	cfg := Get()
	assert.Equal(t, "/dev/dri/card0", cfg.Device.Path)
	assert.Equal(t, 3, cfg.Display.BufferCount)
	assert.Equal(t, uint64(0), cfg.Display.FrameLimit)
	assert.Empty(t, cfg.Display.Mode)
}

func TestInitMergesFileOverDefaults(t *testing.T) {
	resetState(t)

	path := writeConfig(t, `
[device]
path = "/dev/dri/card1"
connector_id = 77
crtc_id = 41
plane_id = 51

[display]
mode = "1920x1080@60"

[logging]
log_level = "debug"
`)
	SetConfigPath(path)
	require.NoError(t, Init())

	cfg := Get()
	assert.Equal(t, "/dev/dri/card1", cfg.Device.Path)
	assert.Equal(t, uint32(77), cfg.Device.ConnectorID)
	assert.Equal(t, uint32(41), cfg.Device.CrtcID)
	assert.Equal(t, uint32(51), cfg.Device.PlaneID)
	assert.Equal(t, "1920x1080@60", cfg.Display.Mode)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 3, cfg.Display.BufferCount)
	assert.Equal(t, uint64(0), cfg.Display.FrameLimit)
	assert.Zero(t, cfg.Lease.ConnectorID)
}

func TestInitWithoutFileUsesDefaults(t *testing.T) {
	resetState(t)

	// No explicit path and no file in the search directories: Init
	// must still succeed with defaults.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, Init())
	assert.Equal(t, "/dev/dri/card0", Get().Device.Path)
}

func TestUpdateDevicePersists(t *testing.T) {
	resetState(t)

	path := writeConfig(t, "[device]\npath = \"/dev/dri/card0\"\n")
	SetConfigPath(path)
	require.NoError(t, Init())

	require.NoError(t, UpdateDevice(DeviceConfig{
		Path:        "/dev/dri/card2",
		ConnectorID: 32,
		CrtcID:      64,
		PlaneID:     96,
	}))
	assert.Equal(t, "/dev/dri/card2", Get().Device.Path)

	// A fresh load sees the saved values.
	viper.Reset()
	Set(nil)
	SetConfigPath(path)
	require.NoError(t, Init())

	cfg := Get()
	assert.Equal(t, "/dev/dri/card2", cfg.Device.Path)
	assert.Equal(t, uint32(32), cfg.Device.ConnectorID)
	assert.Equal(t, uint32(64), cfg.Device.CrtcID)
	assert.Equal(t, uint32(96), cfg.Device.PlaneID)
}

func TestUpdateLeasePersists(t *testing.T) {
	resetState(t)

	path := writeConfig(t, "")
	SetConfigPath(path)
	require.NoError(t, Init())

	require.NoError(t, UpdateLease(LeaseConfig{ConnectorID: 33, CrtcID: 43, PlaneID: 53}))

	viper.Reset()
	Set(nil)
	SetConfigPath(path)
	require.NoError(t, Init())

	cfg := Get()
	assert.Equal(t, uint32(33), cfg.Lease.ConnectorID)
	assert.Equal(t, uint32(43), cfg.Lease.CrtcID)
	assert.Equal(t, uint32(53), cfg.Lease.PlaneID)
}

func TestGetConfigPathPrefersOverride(t *testing.T) {
	resetState(t)

	SetConfigPath("/tmp/kmsflip-test.toml")
	assert.Equal(t, "/tmp/kmsflip-test.toml", GetConfigPath())
}
