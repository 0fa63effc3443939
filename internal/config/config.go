// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all AegisFS configuration.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics (optional; empty disables the listener)
	MetricsAddr string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string

	// Object key prefix for all keys written by this mount
	Prefix string

	// Encryption
	KeyFile string

	// Engine
	ChunkSize   int
	CacheSizeMB int64
	MaxRetries  int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),
		MetricsAddr: envOr("METRICS_ADDR", ""),
		S3Endpoint:  envOr("S3_ENDPOINT", ""),
		S3Bucket:    envOr("S3_BUCKET", ""),
		S3AccessKey: envOr("S3_ACCESS_KEY", ""),
		S3SecretKey: envOr("S3_SECRET_KEY", ""),
		S3Region:    envOr("S3_REGION", "us-east-1"),
		Prefix:      envOr("AEGISFS_PREFIX", ""),
		KeyFile:     envOr("AEGISFS_KEY_FILE", "aegisfs.key"),
		ChunkSize:   envInt("AEGISFS_CHUNK_SIZE", 64*1024),
		CacheSizeMB: envInt64("AEGISFS_CACHE_MB", 256),
		MaxRetries:  envInt("AEGISFS_MAX_RETRIES", 3),
	}

	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("AEGISFS_CHUNK_SIZE must be positive")
	}
	if cfg.CacheSizeMB <= 0 {
		return nil, fmt.Errorf("AEGISFS_CACHE_MB must be positive")
	}

	return cfg, nil
}

// CacheBudget returns the cache byte ceiling.
func (c *Config) CacheBudget() int64 {
	return c.CacheSizeMB << 20
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
