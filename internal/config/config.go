// Package config provides configuration loading and validation for the
// recompute worker. It uses koanf to read an optional config file, with
// environment variables overriding file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the worker.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Blob store (S3-compatible: R2, MinIO, AWS)
	BlobBucket          string `koanf:"blob_bucket"`
	BlobAccessKeyID     string `koanf:"blob_access_key_id"`
	BlobSecretAccessKey string `koanf:"blob_secret_access_key"`
	BlobEndpoint        string `koanf:"blob_endpoint"`
	BlobRegion          string `koanf:"blob_region"`

	// Job endpoint auth; empty disables token validation.
	AuthSecret string `koanf:"auth_secret"`

	// Redis work lock; empty disables per-(show,month) serialization.
	RedisURL        string `koanf:"redis_url"`
	WorkLockTTLMins int    `koanf:"work_lock_ttl_mins"`

	// Tracing
	TracingEnabled   bool    `koanf:"tracing_enabled"`
	TracingExporter  string  `koanf:"tracing_exporter"`
	TracingEndpoint  string  `koanf:"tracing_endpoint"`
	TracingSampling  float64 `koanf:"tracing_sampling"`
	TracingInsecure  bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingBlobBucket    = errors.New("BLOB_BUCKET is required")
	ErrMissingBlobAccessKey = errors.New("BLOB_ACCESS_KEY_ID is required")
	ErrMissingBlobSecretKey = errors.New("BLOB_SECRET_ACCESS_KEY is required")
	ErrMissingBlobEndpoint  = errors.New("BLOB_ENDPOINT is required")
	ErrInvalidInteger       = errors.New("invalid integer value")
)

// Default values for non-secret configuration.
const (
	DefaultPort            = 8080
	DefaultEnv             = "development"
	DefaultWorkLockTTLMins = 30
	DefaultTracingExporter = "otlp-grpc"
	DefaultTracingSampling = 0.1
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if
// valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}
	lockTTL, lockTTLErr := getEnvIntOrDefault("WORK_LOCK_TTL_MINS", k.Int("work_lock_ttl_mins"), DefaultWorkLockTTLMins)
	if lockTTLErr != nil {
		loadErrs = append(loadErrs, lockTTLErr)
	}

	sampling := DefaultTracingSampling
	if k.Exists("tracing_sampling") {
		sampling = k.Float64("tracing_sampling")
	}
	if val := os.Getenv("TRACING_SAMPLING"); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("TRACING_SAMPLING must be a float: %w", err))
		} else {
			sampling = parsed
		}
	}

	cfg := &Config{
		Port:                port,
		Env:                 getEnvOrDefault("WORKER_ENV", k.String("env"), DefaultEnv),
		BlobBucket:          getEnvOrKoanf("BLOB_BUCKET", k, "blob_bucket"),
		BlobAccessKeyID:     getEnvOrKoanf("BLOB_ACCESS_KEY_ID", k, "blob_access_key_id"),
		BlobSecretAccessKey: getEnvOrKoanf("BLOB_SECRET_ACCESS_KEY", k, "blob_secret_access_key"),
		BlobEndpoint:        getEnvOrKoanf("BLOB_ENDPOINT", k, "blob_endpoint"),
		BlobRegion:          getEnvOrKoanf("BLOB_REGION", k, "blob_region"),
		AuthSecret:          getEnvOrKoanf("AUTH_SECRET", k, "auth_secret"),
		RedisURL:            getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		WorkLockTTLMins:     lockTTL,
		TracingEnabled:      getEnvBoolOrDefault("TRACING_ENABLED", k.Bool("tracing_enabled")),
		TracingExporter:     getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingEndpoint:     getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingSampling:     sampling,
		TracingInsecure:     getEnvBoolOrDefault("TRACING_INSECURE", k.Bool("tracing_insecure")),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)
	return cfg, errs
}

// Validate checks required settings and returns every violation found.
func (c *Config) Validate() []error {
	var errs []error
	if c.BlobBucket == "" {
		errs = append(errs, ErrMissingBlobBucket)
	}
	if c.BlobAccessKeyID == "" {
		errs = append(errs, ErrMissingBlobAccessKey)
	}
	if c.BlobSecretAccessKey == "" {
		errs = append(errs, ErrMissingBlobSecretKey)
	}
	if c.BlobEndpoint == "" {
		errs = append(errs, ErrMissingBlobEndpoint)
	}
	return errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise
// the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise
// the koanf value, or the default.
func getEnvOrDefault(envKey, koanfVal, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault parses an integer env var, falling back to the koanf
// value, then the default.
func getEnvIntOrDefault(envKey string, koanfVal, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return defaultVal, fmt.Errorf("%s must be a valid integer, got %q: %w", envKey, val, ErrInvalidInteger)
		}
		return parsed, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault reads a boolean env var over a koanf value.
func getEnvBoolOrDefault(envKey string, koanfVal bool) bool {
	switch os.Getenv(envKey) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return koanfVal
}
