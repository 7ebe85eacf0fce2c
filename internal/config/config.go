package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const configFileName = "rdm"

const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the configuration options for the application.
type Config struct {
	PoolSize int             `yaml:"poolSize,omitempty"`
	Listen   string          `yaml:"listen,omitempty"`
	Http     *HttpConfig     `yaml:"http,omitempty"`
	Progress *ProgressConfig `yaml:"progress,omitempty"`
}

// HttpConfig holds configuration options for transfers.
type HttpConfig struct {
	DownloadDir    string        `yaml:"dir,omitempty"`
	ChunkSize      int           `yaml:"chunkSize,omitempty"`
	ReadTimeout    time.Duration `yaml:"readTimeout,omitempty"`
	ConnectTimeout time.Duration `yaml:"connectTimeout,omitempty"`
	UserAgent      string        `yaml:"userAgent,omitempty"`
	CheckFreeSpace *bool         `yaml:"checkFreeSpace,omitempty"`

	// Headers are sent with every transfer request.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// ProgressConfig selects where paused offsets are persisted.
type ProgressConfig struct {
	Backend string `yaml:"backend,omitempty"`
	DBPath  string `yaml:"dbPath,omitempty"`
}

// FreeSpaceCheck reports whether transfers verify free disk space up front.
func (h *HttpConfig) FreeSpaceCheck() bool {
	return h.CheckFreeSpace == nil || *h.CheckFreeSpace
}

// Path returns the location of the configuration file.
func Path() string {
	return filepath.Join(xdg.ConfigHome, configFileName)
}

// GetConfig reads the configuration file and returns a Config struct.
// If the configuration file does not exist, it returns the default configuration.
func GetConfig() (*Config, error) {
	return Load(Path())
}

// Load reads the configuration at path, falling back to defaults for every unset field.
func Load(path string) (*Config, error) {
	defaults := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}

		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}

	httpCfg := zeroOr(cfg.Http, defaults.Http)
	progressCfg := zeroOr(cfg.Progress, defaults.Progress)

	merged := &Config{
		PoolSize: zeroOr(cfg.PoolSize, defaults.PoolSize),
		Listen:   zeroOr(cfg.Listen, defaults.Listen),
		Http: &HttpConfig{
			DownloadDir:    zeroOr(httpCfg.DownloadDir, defaults.Http.DownloadDir),
			ChunkSize:      zeroOr(httpCfg.ChunkSize, defaults.Http.ChunkSize),
			ReadTimeout:    zeroOr(httpCfg.ReadTimeout, defaults.Http.ReadTimeout),
			ConnectTimeout: zeroOr(httpCfg.ConnectTimeout, defaults.Http.ConnectTimeout),
			UserAgent:      zeroOr(httpCfg.UserAgent, defaults.Http.UserAgent),
			CheckFreeSpace: zeroOr(httpCfg.CheckFreeSpace, defaults.Http.CheckFreeSpace),
			Headers:        httpCfg.Headers,
		},
		Progress: &ProgressConfig{
			Backend: zeroOr(progressCfg.Backend, defaults.Progress.Backend),
			DBPath:  zeroOr(progressCfg.DBPath, defaults.Progress.DBPath),
		},
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}

	return merged, nil
}

func DefaultConfig() Config {
	check := checkFreeSpace

	return Config{
		PoolSize: poolSize,
		Listen:   listenAddr,
		Http: &HttpConfig{
			DownloadDir:    downloadDir,
			ChunkSize:      chunkSize,
			ReadTimeout:    readTimeout,
			ConnectTimeout: connectTimeout,
			UserAgent:      userAgent,
			CheckFreeSpace: &check,
		},
		Progress: &ProgressConfig{
			Backend: BackendFile,
			DBPath:  dbPath,
		},
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("%w: poolSize must be positive, got %d", ErrInvalidConfig, c.PoolSize)
	}

	if c.Http == nil || c.Progress == nil {
		return fmt.Errorf("%w: http and progress sections are required", ErrInvalidConfig)
	}

	if c.Http.ChunkSize < 1 {
		return fmt.Errorf("%w: http.chunkSize must be positive, got %d", ErrInvalidConfig, c.Http.ChunkSize)
	}

	if c.Http.ReadTimeout < 0 || c.Http.ConnectTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}

	switch c.Progress.Backend {
	case BackendFile:
	case BackendBolt:
		if c.Progress.DBPath == "" {
			return fmt.Errorf("%w: progress.dbPath is required for the bolt backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown progress backend %q", ErrInvalidConfig, c.Progress.Backend)
	}

	return nil
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}
