package task

import (
	"maps"
	"time"
)

const (
	defaultChunkSize   = 32 * 1024
	defaultReadTimeout = 30 * time.Second
)

type ConfigOption func(*Config)

type Config struct {
	ChunkSize      int               `json:"chunkSize"`
	ReadTimeout    time.Duration     `json:"readTimeout"`
	CheckFreeSpace bool              `json:"checkFreeSpace"`
	Headers        map[string]string `json:"headers,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		ChunkSize:      defaultChunkSize,
		ReadTimeout:    defaultReadTimeout,
		CheckFreeSpace: true,
		Headers:        make(map[string]string),
	}
}

func WithChunkSize(size int) ConfigOption {
	return func(cfg *Config) {
		if size <= 0 {
			size = defaultChunkSize
		}

		cfg.ChunkSize = size
	}
}

// WithReadTimeout bounds how long a single read from the stream may stall.
func WithReadTimeout(timeout time.Duration) ConfigOption {
	return func(cfg *Config) {
		if timeout <= 0 {
			timeout = defaultReadTimeout
		}

		cfg.ReadTimeout = timeout
	}
}

func WithFreeSpaceCheck(enabled bool) ConfigOption {
	return func(cfg *Config) {
		cfg.CheckFreeSpace = enabled
	}
}

// WithHeaders adds headers to every request the task sends. Range and
// If-Range are managed by the task and override entries with those names.
func WithHeaders(headers map[string]string) ConfigOption {
	return func(cfg *Config) {
		maps.Copy(cfg.Headers, headers)
	}
}
