// Package config loads and validates the stela server configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/stela/config.yaml)
//  3. Server config (stela.yaml in the working directory or --config path)
//  4. Environment variables (STELA_*)
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMaxPayloadBytes caps a single document payload at 100 MB.
const DefaultMaxPayloadBytes = 100 * 1024 * 1024

// Config represents the complete stela configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	DataDir   string          `yaml:"data_dir" json:"data_dir"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Updates   UpdatesConfig   `yaml:"updates" json:"updates"`
	Resolver  ResolverConfig  `yaml:"resolver" json:"resolver"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Analytics AnalyticsConfig `yaml:"analytics" json:"analytics"`
}

// HTTPConfig configures the HTTP API server.
type HTTPConfig struct {
	// Addr is the host:port the API listens on.
	Addr string `yaml:"addr" json:"addr"`

	// MaxPayloadBytes rejects document payloads larger than this.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes" json:"max_payload_bytes"`

	// EnableMetrics exposes prometheus metrics on /metrics.
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
}

// UpdatesConfig configures the asynchronous update pipeline.
type UpdatesConfig struct {
	// StreamBuffer is the capacity of the payload chunk channel. A slow
	// consumer stalls the producer once this many chunks are buffered.
	StreamBuffer int `yaml:"stream_buffer" json:"stream_buffer"`

	// SpoolDir is where payloads are spooled before execution.
	// Empty means <data_dir>/spool.
	SpoolDir string `yaml:"spool_dir" json:"spool_dir"`
}

// ResolverConfig configures the name resolution layer.
type ResolverConfig struct {
	// CacheSize is the number of name to uuid bindings kept in memory.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level"`
	// File is the log file path. Empty means the default under ~/.stela/logs.
	File string `yaml:"file" json:"file"`
	// MaxSizeMB is the rotation threshold in megabytes.
	MaxSizeMB int `yaml:"max_size_mb" json:"max_size_mb"`
	// MaxFiles is the number of rotated files to keep.
	MaxFiles int `yaml:"max_files" json:"max_files"`
}

// AnalyticsConfig configures usage event publication.
type AnalyticsConfig struct {
	// Enabled turns on event publication. Off by default.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: "./data.stela",
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:7700",
			MaxPayloadBytes: DefaultMaxPayloadBytes,
			EnableMetrics:   true,
		},
		Updates: UpdatesConfig{
			StreamBuffer: 10,
			SpoolDir:     "",
		},
		Resolver: ResolverConfig{
			CacheSize: 1024,
		},
		Log: LogConfig{
			Level:     "info",
			File:      "",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Analytics: AnalyticsConfig{
			Enabled: false,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/stela/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/stela/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "stela", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "stela", "config.yaml")
	}
	return filepath.Join(home, ".config", "stela", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Load user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: Load server config (overrides user config)
	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	// Step 3: Apply environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 4: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile loads configuration from an explicit config file path, then
// applies env overrides and validates. Used by the --config flag.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromDir attempts to load configuration from stela.yaml or stela.yml.
func (c *Config) loadFromDir(dir string) error {
	// Try .yaml first (takes precedence)
	yamlPath := filepath.Join(dir, "stela.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	// Try .yml as fallback
	ymlPath := filepath.Join(dir, "stela.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Parse into a scratch struct to detect type errors before merging
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	// HTTP
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.MaxPayloadBytes != 0 {
		c.HTTP.MaxPayloadBytes = other.HTTP.MaxPayloadBytes
	}
	// EnableMetrics is boolean; only adopt when some HTTP key was set
	if other.HTTP.Addr != "" || other.HTTP.MaxPayloadBytes != 0 {
		c.HTTP.EnableMetrics = other.HTTP.EnableMetrics
	}

	// Updates
	if other.Updates.StreamBuffer != 0 {
		c.Updates.StreamBuffer = other.Updates.StreamBuffer
	}
	if other.Updates.SpoolDir != "" {
		c.Updates.SpoolDir = other.Updates.SpoolDir
	}

	// Resolver
	if other.Resolver.CacheSize != 0 {
		c.Resolver.CacheSize = other.Resolver.CacheSize
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.File != "" {
		c.Log.File = other.Log.File
	}
	if other.Log.MaxSizeMB != 0 {
		c.Log.MaxSizeMB = other.Log.MaxSizeMB
	}
	if other.Log.MaxFiles != 0 {
		c.Log.MaxFiles = other.Log.MaxFiles
	}

	// Analytics
	if other.Analytics.Enabled {
		c.Analytics.Enabled = true
	}
}

// applyEnvOverrides applies STELA_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STELA_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("STELA_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("STELA_MAX_PAYLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.HTTP.MaxPayloadBytes = n
		}
	}
	if v := os.Getenv("STELA_METRICS_ENABLED"); v != "" {
		c.HTTP.EnableMetrics = parseBool(v)
	}
	if v := os.Getenv("STELA_STREAM_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Updates.StreamBuffer = n
		}
	}
	if v := os.Getenv("STELA_SPOOL_DIR"); v != "" {
		c.Updates.SpoolDir = v
	}
	if v := os.Getenv("STELA_RESOLVER_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Resolver.CacheSize = n
		}
	}
	if v := os.Getenv("STELA_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("STELA_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("STELA_ANALYTICS_ENABLED"); v != "" {
		c.Analytics.Enabled = parseBool(v)
	}
}

// parseBool accepts the usual truthy spellings used in env vars.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr must not be empty")
	}
	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		return fmt.Errorf("http.addr must be host:port, got %q: %w", c.HTTP.Addr, err)
	}
	if c.HTTP.MaxPayloadBytes < 1 {
		return fmt.Errorf("http.max_payload_bytes must be positive, got %d", c.HTTP.MaxPayloadBytes)
	}

	if c.Updates.StreamBuffer < 1 {
		return fmt.Errorf("updates.stream_buffer must be at least 1, got %d", c.Updates.StreamBuffer)
	}

	if c.Resolver.CacheSize < 1 {
		return fmt.Errorf("resolver.cache_size must be at least 1, got %d", c.Resolver.CacheSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}
	if c.Log.MaxSizeMB < 1 {
		return fmt.Errorf("log.max_size_mb must be at least 1, got %d", c.Log.MaxSizeMB)
	}
	if c.Log.MaxFiles < 1 {
		return fmt.Errorf("log.max_files must be at least 1, got %d", c.Log.MaxFiles)
	}

	return nil
}

// EffectiveSpoolDir returns the payload spool directory, defaulting to
// <data_dir>/spool when unset.
func (c *Config) EffectiveSpoolDir() string {
	if c.Updates.SpoolDir != "" {
		return c.Updates.SpoolDir
	}
	return filepath.Join(c.DataDir, "spool")
}

// IndexesDir returns the directory holding per-index data.
func (c *Config) IndexesDir() string {
	return filepath.Join(c.DataDir, "indexes")
}

// UpdatesDir returns the directory holding the update status log.
func (c *Config) UpdatesDir() string {
	return filepath.Join(c.DataDir, "updates")
}

// ResolverPath returns the path of the name resolution database.
func (c *Config) ResolverPath() string {
	return filepath.Join(c.DataDir, "index_uuids.db")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
