// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Device configuration
	Device DeviceConfig `mapstructure:"device"`

	// Display pipeline configuration
	Display DisplayConfig `mapstructure:"display"`

	// Lease configuration for the secondary pipeline
	Lease LeaseConfig `mapstructure:"lease"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// DeviceConfig identifies the DRM device and the objects to drive.
// Object ids are supplied explicitly; kmsflip does not enumerate the
// device (use modetest or drm_info to find them).
type DeviceConfig struct {
	Path        string `mapstructure:"path"`
	ConnectorID uint32 `mapstructure:"connector_id"`
	CrtcID      uint32 `mapstructure:"crtc_id"`
	PlaneID     uint32 `mapstructure:"plane_id"`
}

// DisplayConfig contains pipeline settings
type DisplayConfig struct {
	// Mode override as WIDTHxHEIGHT[@REFRESH]; empty means the
	// connector's preferred mode
	Mode string `mapstructure:"mode"`

	// Number of scanout buffers in the swap pool
	BufferCount int `mapstructure:"buffer_count"`

	// Stop after this many frames; 0 means run until interrupted
	FrameLimit uint64 `mapstructure:"frame_limit"`
}

// LeaseConfig lists the objects handed to the leased pipeline
type LeaseConfig struct {
	ConnectorID uint32 `mapstructure:"connector_id"`
	CrtcID      uint32 `mapstructure:"crtc_id"`
	PlaneID     uint32 `mapstructure:"plane_id"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Device: DeviceConfig{
			Path: "/dev/dri/card0",
		},
		Display: DisplayConfig{
			Mode:        "",
			BufferCount: 3,
			FrameLimit:  0,
		},
		Lease:   LeaseConfig{},
		Logging: LoggingConfig{LogLevel: ""},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("kmsflip")
	viper.SetConfigType("toml")

	// If a specific path is set, use only that
	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		// Add config paths in order of precedence
		viper.AddConfigPath("/etc/kmsflip")
		if home := os.Getenv("HOME"); home != "" && home != "/root" {
			viper.AddConfigPath(filepath.Join(home, ".config", "kmsflip"))
		}
		viper.AddConfigPath(".") // Current directory (lowest priority)
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("device.path", DefaultConfig.Device.Path)
	viper.SetDefault("device.connector_id", DefaultConfig.Device.ConnectorID)
	viper.SetDefault("device.crtc_id", DefaultConfig.Device.CrtcID)
	viper.SetDefault("device.plane_id", DefaultConfig.Device.PlaneID)

	viper.SetDefault("display.mode", DefaultConfig.Display.Mode)
	viper.SetDefault("display.buffer_count", DefaultConfig.Display.BufferCount)
	viper.SetDefault("display.frame_limit", DefaultConfig.Display.FrameLimit)

	viper.SetDefault("lease.connector_id", DefaultConfig.Lease.ConnectorID)
	viper.SetDefault("lease.crtc_id", DefaultConfig.Lease.CrtcID)
	viper.SetDefault("lease.plane_id", DefaultConfig.Lease.PlaneID)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	// Unmarshal config
	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("failed to create config directory %s: permission denied", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	// Check if config file is already loaded
	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	// Root typically drives the card directly, so prefer the system config
	if os.Getuid() == 0 {
		return "/etc/kmsflip/kmsflip.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/kmsflip/kmsflip.toml"
	}

	return filepath.Join(home, ".config", "kmsflip", "kmsflip.toml")
}

// UpdateDevice updates device configuration
func UpdateDevice(deviceCfg DeviceConfig) error {
	viper.Set("device", deviceCfg)
	cfg.Device = deviceCfg
	return Save()
}

// UpdateDisplay updates display pipeline configuration
func UpdateDisplay(displayCfg DisplayConfig) error {
	viper.Set("display", displayCfg)
	cfg.Display = displayCfg
	return Save()
}

// UpdateLease updates the leased-pipeline object set
func UpdateLease(leaseCfg LeaseConfig) error {
	viper.Set("lease", leaseCfg)
	cfg.Lease = leaseCfg
	return Save()
}
