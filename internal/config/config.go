// Package config loads the voxcache command configuration from YAML or TOML
// files and provides default values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Storage kinds.
const (
	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageS3     = "s3"
	StorageMinio  = "minio"
)

// Config is the voxcache command configuration.
type Config struct {
	// Readers is the number of slice reads allowed at once.
	Readers int `yaml:"readers" toml:"readers"`

	// Parallelism is the number of slice workers. 0 uses all cores.
	Parallelism int `yaml:"parallelism" toml:"parallelism"`

	// IOLimitBytesPerSec caps storage throughput. 0 is unlimited.
	IOLimitBytesPerSec int64 `yaml:"ioLimitBytesPerSec" toml:"ioLimitBytesPerSec"`

	// MemoryLimitBytes caps memory held by materialized images and the block
	// cache. 0 only tracks usage.
	MemoryLimitBytes int64 `yaml:"memoryLimitBytes" toml:"memoryLimitBytes"`

	Storage Storage `yaml:"storage" toml:"storage"`
	Logging Logging `yaml:"logging" toml:"logging"`
}

// Storage selects and configures the blob store volumes are read from.
type Storage struct {
	Kind string `yaml:"kind" toml:"kind"`

	// Root is the directory of a local store.
	Root string `yaml:"root" toml:"root"`

	Bucket    string `yaml:"bucket" toml:"bucket"`
	Prefix    string `yaml:"prefix" toml:"prefix"`
	Endpoint  string `yaml:"endpoint" toml:"endpoint"`
	Region    string `yaml:"region" toml:"region"`
	AccessKey string `yaml:"accessKey" toml:"accessKey"`
	SecretKey string `yaml:"secretKey" toml:"secretKey"`
	Secure    bool   `yaml:"secure" toml:"secure"`

	// BlockSize is the read granularity of the block cache.
	BlockSize int64 `yaml:"blockSize" toml:"blockSize"`

	// CacheBytes is the block cache capacity. 0 disables the cache.
	CacheBytes int64 `yaml:"cacheBytes" toml:"cacheBytes"`
}

// Logging configures the command logger.
type Logging struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level" toml:"level"`

	// Format is text or json.
	Format string `yaml:"format" toml:"format"`

	// File switches output to a rotated log file.
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB" toml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays" toml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups" toml:"maxBackups"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Readers:     1,
		Parallelism: runtime.NumCPU(),
		Storage: Storage{
			Kind:       StorageLocal,
			Root:       ".",
			BlockSize:  1 << 20,
			CacheBytes: 64 << 20,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxAgeDays: 28,
			MaxBackups: 3,
		},
	}
}

// Load reads the configuration at path. Files ending in .toml are parsed as
// TOML, everything else as YAML. A missing file yields the defaults. Values
// absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories. The format follows
// the file extension as in Load.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("config: encode: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("config: encode: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if c.Readers < 1 {
		return fmt.Errorf("config: readers must be at least 1, got %d", c.Readers)
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("config: parallelism must not be negative, got %d", c.Parallelism)
	}
	if c.IOLimitBytesPerSec < 0 || c.MemoryLimitBytes < 0 {
		return errors.New("config: limits must not be negative")
	}

	s := c.Storage
	switch s.Kind {
	case StorageLocal:
		if s.Root == "" {
			return errors.New("config: local storage needs a root")
		}
	case StorageMemory:
	case StorageS3, StorageMinio:
		if s.Bucket == "" {
			return fmt.Errorf("config: %s storage needs a bucket", s.Kind)
		}
		if s.Kind == StorageMinio && s.Endpoint == "" {
			return errors.New("config: minio storage needs an endpoint")
		}
	default:
		return fmt.Errorf("config: unknown storage kind %q", s.Kind)
	}
	if s.CacheBytes < 0 {
		return errors.New("config: cacheBytes must not be negative")
	}
	if s.CacheBytes > 0 && s.BlockSize <= 0 {
		return errors.New("config: blockSize must be positive when the block cache is enabled")
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	return nil
}

// SlogLevel parses Level. An empty level means info.
func (l Logging) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return level, nil
}
