// Package config manages zkcore client configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete zkcore client configuration.
type Config struct {
	Ensemble EnsembleConfig `koanf:"ensemble"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
}

// EnsembleConfig holds the session-level connection parameters.
type EnsembleConfig struct {
	// Hosts lists the ensemble member addresses (host:port), e.g.
	// ["zk1:2181", "zk2:2181", "zk3:2181"].
	Hosts []string `koanf:"hosts"`

	// SessionTimeout is the requested session timeout negotiated with
	// the server on connect.
	SessionTimeout time.Duration `koanf:"session_timeout"`

	// Shuffle randomizes the endpoint rotation order once at startup.
	Shuffle bool `koanf:"shuffle"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// AuthConfig holds an optional credential registered on the session via
// AddAuth immediately after connect.
type AuthConfig struct {
	// Scheme names the auth scheme (e.g. "digest"). Empty disables
	// AddAuth entirely.
	Scheme string `koanf:"scheme"`
	// Cert is the scheme-specific credential bytes, typically
	// "user:password" for the digest scheme.
	Cert string `koanf:"cert"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Ensemble: EnsembleConfig{
			Hosts:          []string{"127.0.0.1:2181"},
			SessionTimeout: 10 * time.Second,
			Shuffle:        true,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for zkcore configuration.
// Variables are named ZKCORE_<section>_<key>, e.g., ZKCORE_METRICS_ADDR.
const envPrefix = "ZKCORE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (ZKCORE_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	ZKCORE_ENSEMBLE_HOSTS           -> ensemble.hosts
//	ZKCORE_ENSEMBLE_SESSION_TIMEOUT -> ensemble.session_timeout
//	ZKCORE_METRICS_ADDR             -> metrics.addr
//	ZKCORE_METRICS_PATH             -> metrics.path
//	ZKCORE_LOG_LEVEL                -> log.level
//	ZKCORE_LOG_FORMAT               -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms ZKCORE_METRICS_ADDR -> metrics.addr.
// Strips the ZKCORE_ prefix, lowercases, and replaces the first _ (the
// section separator) with ., so keys such as session_timeout keep
// their own underscores.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"ensemble.hosts":           defaults.Ensemble.Hosts,
		"ensemble.session_timeout": defaults.Ensemble.SessionTimeout.String(),
		"ensemble.shuffle":         defaults.Ensemble.Shuffle,
		"metrics.addr":             defaults.Metrics.Addr,
		"metrics.path":             defaults.Metrics.Path,
		"log.level":                defaults.Log.Level,
		"log.format":               defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyHosts indicates no ensemble hosts were configured.
	ErrEmptyHosts = errors.New("ensemble.hosts must not be empty")

	// ErrInvalidSessionTimeout indicates the session timeout is not positive.
	ErrInvalidSessionTimeout = errors.New("ensemble.session_timeout must be > 0")

	// ErrAuthCertWithoutScheme indicates a credential was supplied with no scheme.
	ErrAuthCertWithoutScheme = errors.New("auth.cert set without auth.scheme")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if len(cfg.Ensemble.Hosts) == 0 {
		return ErrEmptyHosts
	}

	if cfg.Ensemble.SessionTimeout <= 0 {
		return ErrInvalidSessionTimeout
	}

	if cfg.Auth.Scheme == "" && cfg.Auth.Cert != "" {
		return ErrAuthCertWithoutScheme
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
