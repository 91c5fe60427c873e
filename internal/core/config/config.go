// Package config provides configuration management for the crudql server.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable read by crudql.
const EnvPrefix = "CRUDQL"

// Config is the complete server configuration.
type Config struct {
	App     AppConfig
	Server  ServerConfig
	Storage StorageConfig
	Engine  EngineConfig
	Auth    AuthConfig
	Log     LogConfig
}

// AppConfig identifies the deployment.
type AppConfig struct {
	Env string
}

// ServerConfig holds the HTTP and gRPC listener settings.
type ServerConfig struct {
	Host           string
	HTTPPort       int
	GRPCPort       int
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQL    = "sql"
	DriverRedis  = "redis"
)

// StorageConfig selects and configures the record store. DBURL is also
// used for API keys when Auth.Mode is apikey.
type StorageConfig struct {
	Driver      string
	DBURL       string
	RedisAddr   string
	RedisPrefix string
}

// EngineConfig holds request engine defaults.
type EngineConfig struct {
	SuppressionValue string
	DefaultPageSize  int
	MaxPageSize      int
}

// Auth modes.
const (
	AuthHeader = "header"
	AuthAPIKey = "apikey"
)

// AuthConfig selects how callers are identified.
type AuthConfig struct {
	Mode string
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		App: AppConfig{Env: "development"},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			HTTPPort:       8080,
			GRPCPort:       50051,
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		Storage: StorageConfig{
			Driver:      DriverMemory,
			DBURL:       "sqlite://./data/crudql.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "crudql",
		},
		Engine: EngineConfig{
			SuppressionValue: "***",
			MaxPageSize:      500,
		},
		Auth: AuthConfig{Mode: AuthHeader},
		Log:  LogConfig{Level: "info", Format: "json"},
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports CRUDQL_HMAC_SECRET (single) and CRUDQL_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
// Secret IDs are UUIDv7 (32 hex chars without hyphens) matching API key format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)
	single := EnvPrefix + "_HMAC_SECRET"

	add := func(name, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check %s and %s_* for conflicts)", secretID, single, single)
		}
		secrets[secretID] = decoded
		return nil
	}

	// Format: <secret_id>:<base64_secret>
	if val := os.Getenv(single); val != "" {
		if err := add(single, val); err != nil {
			return nil, err
		}
	}

	// Numbered secrets keep old keys valid while a new secret rolls out.
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s_%d", single, i)
		val := os.Getenv(name)
		if val == "" {
			break
		}
		if err := add(name, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUIDv7 without hyphens)")
	}
	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(secret) < 32 {
		return "", nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(secret))
	}

	return secretID, secret, nil
}
