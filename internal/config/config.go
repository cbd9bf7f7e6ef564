// Package config loads host settings from defaults, an optional YAML file
// and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/petclassify/internal/features"
)

// PathEnv names the environment variable pointing at a YAML config file.
const PathEnv = "PETCLASSIFY_CONFIG"

// Config holds everything main needs to wire the host.
type Config struct {
	HTTPAddr              string        `yaml:"http_addr"`
	GRPCAddr              string        `yaml:"grpc_addr"`
	DatabaseDSN           string        `yaml:"database_dsn"`
	RedisAddr             string        `yaml:"redis_addr"`
	JWTSecret             string        `yaml:"jwt_secret"`
	JWTAudience           string        `yaml:"jwt_audience"`
	MaxUploadBytes        int64         `yaml:"max_upload_bytes"`
	MaxPixels             int64         `yaml:"max_pixels"`
	FallbackOnDecodeError bool          `yaml:"fallback_on_decode_error"`
	LogLevel              string        `yaml:"log_level"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		DatabaseDSN:     "host=postgres user=postgres password=postgres dbname=petclassify port=5432 sslmode=disable",
		RedisAddr:       "redis:6379",
		JWTSecret:       "dev-secret",
		MaxUploadBytes:  10 << 20,
		MaxPixels:       features.DefaultMaxPixels,
		LogLevel:        "info",
		ShutdownTimeout: 15 * time.Second,
	}
}

// Load reads path (skipped when empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.GRPCAddr, "GRPC_ADDR")
	setString(&cfg.DatabaseDSN, "DATABASE_DSN")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
		cfg.MaxUploadBytes = n
	}
	if v := os.Getenv("MAX_PIXELS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_PIXELS: %w", err)
		}
		cfg.MaxPixels = n
	}
	if v := os.Getenv("FALLBACK_ON_DECODE_ERROR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FALLBACK_ON_DECODE_ERROR: %w", err)
		}
		cfg.FallbackOnDecodeError = b
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.HTTPAddr) == "":
		return errors.New("http_addr is required")
	case strings.TrimSpace(c.GRPCAddr) == "":
		return errors.New("grpc_addr is required")
	case strings.TrimSpace(c.DatabaseDSN) == "":
		return errors.New("database_dsn is required")
	case strings.TrimSpace(c.RedisAddr) == "":
		return errors.New("redis_addr is required")
	case strings.TrimSpace(c.JWTSecret) == "":
		return errors.New("jwt_secret is required")
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	case c.MaxPixels <= 0:
		return fmt.Errorf("max_pixels must be positive, got %d", c.MaxPixels)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}
