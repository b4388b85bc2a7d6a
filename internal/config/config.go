// Package config loads the layered application configuration: a base YAML
// file, an optional environment specific YAML file and environment variable
// overrides, applied in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable consulted for the environment name
// when none is given explicitly.
const EnvironmentVariable = "CDN_ENVIRONMENT"

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig          `yaml:"server"`
	Storage *StorageConfiguration `yaml:"storage"`
	Client  *ClientConfiguration  `yaml:"client"`
	Log     LogConfig             `yaml:"log"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// StorageConfiguration locates the root under which uploads are written.
type StorageConfiguration struct {
	// Path is the base directory, or the key prefix for object stores.
	Path string `yaml:"path"`

	// Backend is one of "local", "gcs" or "s3". Defaults to "local".
	Backend string `yaml:"backend"`

	// Bucket is required by the gcs and s3 backends.
	Bucket string `yaml:"bucket"`
}

// ClientConfiguration locates the upload service.
type ClientConfiguration struct {
	ServiceAddress string `yaml:"service_address"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// Load reads the base configuration file at path, then merges
// <name>.<environment><ext> next to it when that file exists, then applies
// environment variable overrides. The base file is required.
func Load(path, environment string) (*Config, error) {
	var cfg Config
	if err := mergeFile(&cfg, path); err != nil {
		return nil, err
	}

	if environment == "" {
		environment = os.Getenv(EnvironmentVariable)
	}
	if environment != "" {
		err := mergeFile(&cfg, environmentPath(path, environment))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg.overrideWithEnv()
	cfg.setDefaults()

	return &cfg, nil
}

// StorageConfiguration returns the storage section, failing if it is absent
// or has no path.
func (c *Config) StorageConfiguration() (StorageConfiguration, error) {
	if c.Storage == nil {
		return StorageConfiguration{}, errors.New("config: storage must be defined")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return StorageConfiguration{}, errors.New("config: storage path is required")
	}
	switch c.Storage.Backend {
	case "local":
	case "gcs", "s3":
		if c.Storage.Bucket == "" {
			return StorageConfiguration{}, fmt.Errorf("config: storage bucket is required for backend %q", c.Storage.Backend)
		}
	default:
		return StorageConfiguration{}, fmt.Errorf("config: unsupported storage backend %q", c.Storage.Backend)
	}
	return *c.Storage, nil
}

// ClientConfiguration returns the client section, failing if it is absent or
// has no service address.
func (c *Config) ClientConfiguration() (ClientConfiguration, error) {
	if c.Client == nil || strings.TrimSpace(c.Client.ServiceAddress) == "" {
		return ClientConfiguration{}, errors.New("config: client service address must be defined")
	}
	return *c.Client, nil
}

// mergeFile decodes the YAML file at path on top of cfg. Keys missing from
// the file leave the existing values untouched.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: failed to parse config file %q: %w", path, err)
	}
	return nil
}

// environmentPath turns "dir/appsettings.yaml" into
// "dir/appsettings.<environment>.yaml".
func environmentPath(path, environment string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + environment + ext
}

// overrideWithEnv overrides config values with environment variables.
func (c *Config) overrideWithEnv() {
	// Storage
	if val := os.Getenv("CDN_STORAGE_PATH"); val != "" {
		c.storage().Path = val
	}
	if val := os.Getenv("CDN_STORAGE_BACKEND"); val != "" {
		c.storage().Backend = val
	}
	if val := os.Getenv("CDN_STORAGE_BUCKET"); val != "" {
		c.storage().Bucket = val
	}

	// Client
	if val := os.Getenv("CDN_SERVICE_ADDRESS"); val != "" {
		if c.Client == nil {
			c.Client = &ClientConfiguration{}
		}
		c.Client.ServiceAddress = val
	}

	// Server
	if val := os.Getenv("CDN_LISTEN_ADDRESS"); val != "" {
		c.Server.Address = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
}

func (c *Config) storage() *StorageConfiguration {
	if c.Storage == nil {
		c.Storage = &StorageConfiguration{}
	}
	return c.Storage
}

func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage != nil && c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}
