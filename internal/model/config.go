package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ServerConfig holds the connection settings for the Servibot backend.
type ServerConfig struct {
	// BaseURL is the root URL of the backend (e.g., http://localhost:8000).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// TimeoutSec is the per-request HTTP timeout in seconds.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// RetryConfig tunes the transport client's transient-failure retry loop.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// request fails with a retryable error.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// BaseDelayMS is the first backoff delay in milliseconds. Each
	// subsequent retry doubles it.
	BaseDelayMS int `mapstructure:"base_delay_ms" yaml:"base_delay_ms"`
}

// StreamConfig tunes the event-stream client's reconnect behavior.
type StreamConfig struct {
	// ReconnectInitialMS is the delay before the first reconnect attempt.
	ReconnectInitialMS int `mapstructure:"reconnect_initial_ms" yaml:"reconnect_initial_ms"`

	// ReconnectMaxMS caps the reconnect delay as it doubles.
	ReconnectMaxMS int `mapstructure:"reconnect_max_ms" yaml:"reconnect_max_ms"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Retry   RetryConfig   `mapstructure:"retry" yaml:"retry"`
	Stream  StreamConfig  `mapstructure:"stream" yaml:"stream"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/servibot/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "servibot", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			BaseURL:    "http://localhost:8000",
			TimeoutSec: 60,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BaseDelayMS: 500,
		},
		Stream: StreamConfig{
			ReconnectInitialMS: 2000,
			ReconnectMaxMS:     30000,
		},
		Display: DisplayConfig{
			Theme: "default",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("server.timeout_sec", 60)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("stream.reconnect_initial_ms", 2000)
	v.SetDefault("stream.reconnect_max_ms", 30000)
	v.SetDefault("display.theme", "default")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("retry", cfg.Retry)
	v.Set("stream", cfg.Stream)
	v.Set("display", cfg.Display)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}

	return nil
}
