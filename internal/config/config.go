// Package config provides configuration for the blobfs benchmark binaries.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Device types understood by the device registry.
const (
	DeviceMemory = "memory"
	DeviceLocal  = "local"
	DeviceS3     = "s3"
	DeviceMinio  = "minio"
)

// Config holds the configuration shared by the benchmark binaries.
type Config struct {
	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`

	// Engine configuration
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Devices are the backing devices the engine can be loaded from,
	// addressed by name on the command line.
	Devices []DeviceConfig `json:"devices" yaml:"devices"`

	// Report configuration
	Report ReportConfig `json:"report" yaml:"report"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`
}

// EngineConfig holds filesystem engine configuration.
type EngineConfig struct {
	// CacheSizeMB bounds the engine's page cache
	CacheSizeMB int `json:"cache_size_mb" yaml:"cache_size_mb"`

	// FormatIfBlank initialises an empty filesystem when the device has none
	FormatIfBlank bool `json:"format_if_blank" yaml:"format_if_blank"`

	// StartTimeout bounds the wait for the filesystem load (0 waits forever)
	StartTimeout time.Duration `json:"start_timeout" yaml:"start_timeout"`
}

// DeviceConfig describes one named backing device.
type DeviceConfig struct {
	// Name is the device name passed on the command line
	Name string `json:"name" yaml:"name"`

	// Type is the device type: memory, local, s3, minio
	Type string `json:"type" yaml:"type"`

	// Path is the root directory (for local type)
	Path string `json:"path" yaml:"path"`

	// Bucket is the bucket name (for s3 and minio types)
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is prepended to every blob key (for s3 and minio types)
	Prefix string `json:"prefix" yaml:"prefix"`

	// Region is the AWS region (for s3 type)
	Region string `json:"region" yaml:"region"`

	// Endpoint is the service endpoint (S3-compatible storage or MinIO)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// AccessKey and SecretKey are static credentials (for minio type)
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`

	// UseSSL enables TLS (for minio type)
	UseSSL bool `json:"use_ssl" yaml:"use_ssl"`

	// ClusterSize is the size of one data blob in bytes
	ClusterSize int64 `json:"cluster_size" yaml:"cluster_size"`
}

// ReportConfig holds run history configuration.
type ReportConfig struct {
	// HistoryPath is the SQLite database recording benchmark runs; empty disables it
	HistoryPath string `json:"history_path" yaml:"history_path"`
}

// DefaultClusterSize is the data blob size used when a device does not set one.
const DefaultClusterSize = 64 << 10

// DefaultConfig returns the default configuration: a single in-memory device
// named "Malloc0" that is formatted on first load.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Engine: EngineConfig{
			CacheSizeMB:   512,
			FormatIfBlank: true,
		},
		Devices: []DeviceConfig{
			{Name: "Malloc0", Type: DeviceMemory, ClusterSize: DefaultClusterSize},
		},
	}
}

// Device returns the device configuration with the given name.
func (c *Config) Device(name string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// Resolve fills per-device defaults.
func (c *Config) Resolve() {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.ClusterSize <= 0 {
			d.ClusterSize = DefaultClusterSize
		}
		if d.Type == DeviceLocal && d.Path == "" {
			d.Path = filepath.Join(".", "data", d.Name)
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	if c.Engine.CacheSizeMB <= 0 {
		return fmt.Errorf("engine.cache_size_mb must be positive, got %d", c.Engine.CacheSizeMB)
	}

	if c.Engine.StartTimeout < 0 {
		return fmt.Errorf("engine.start_timeout must not be negative")
	}

	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("device name is required")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate device name: %s", d.Name)
		}
		seen[d.Name] = true

		switch d.Type {
		case DeviceMemory:
		case DeviceLocal:
			if d.Path == "" {
				return fmt.Errorf("device %s: path is required for local devices", d.Name)
			}
		case DeviceS3, DeviceMinio:
			if d.Bucket == "" {
				return fmt.Errorf("device %s: bucket is required for %s devices", d.Name, d.Type)
			}
			if d.Type == DeviceMinio && d.Endpoint == "" {
				return fmt.Errorf("device %s: endpoint is required for minio devices", d.Name)
			}
		default:
			return fmt.Errorf("device %s: invalid type %q (must be memory, local, s3, or minio)", d.Name, d.Type)
		}
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	// A file that lists devices replaces the default device set.
	cfg.Devices = nil

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if len(cfg.Devices) == 0 {
		cfg.Devices = DefaultConfig().Devices
	}

	return cfg, nil
}

// LoadDotEnv loads a .env file next to the config file, if one exists.
// Values already present in the environment win.
func LoadDotEnv(configPath string) error {
	path := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the BLOBBENCH_ prefix; device credentials use
// BLOBBENCH_<DEVICE>_ACCESS_KEY and BLOBBENCH_<DEVICE>_SECRET_KEY.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("BLOBBENCH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BLOBBENCH_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Engine configuration
	if v := os.Getenv("BLOBBENCH_CACHE_SIZE_MB"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Engine.CacheSizeMB)
	}
	if v := os.Getenv("BLOBBENCH_FORMAT_IF_BLANK"); v != "" {
		cfg.Engine.FormatIfBlank = v == "true" || v == "1"
	}
	if v := os.Getenv("BLOBBENCH_START_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.StartTimeout = d
		}
	}

	// Report configuration
	if v := os.Getenv("BLOBBENCH_HISTORY_PATH"); v != "" {
		cfg.Report.HistoryPath = v
	}

	// Device credentials
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		key := envKey(d.Name)
		if v := os.Getenv("BLOBBENCH_" + key + "_ACCESS_KEY"); v != "" {
			d.AccessKey = v
		}
		if v := os.Getenv("BLOBBENCH_" + key + "_SECRET_KEY"); v != "" {
			d.SecretKey = v
		}
		if v := os.Getenv("BLOBBENCH_" + key + "_ENDPOINT"); v != "" {
			d.Endpoint = v
		}
	}
}

// Load reads the configuration the binaries run with: a .env file next to
// path, the config file itself, then BLOBBENCH_ environment overrides.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(path); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	LoadFromEnv(cfg)
	return cfg, nil
}

func envKey(name string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, name))
}

// EnsureDirectories creates the directories of local devices and the
// history database.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	for _, d := range c.Devices {
		if d.Type == DeviceLocal {
			dirs = append(dirs, d.Path)
		}
	}
	if c.Report.HistoryPath != "" {
		dirs = append(dirs, filepath.Dir(c.Report.HistoryPath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
