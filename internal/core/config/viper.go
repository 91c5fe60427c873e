package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"db-url":     "storage.db_url",
	"log-level":  "log.level",
	"log-format": "log.format",
	"host":       "server.host",
	"http-port":  "server.http_port",
	"grpc-port":  "server.grpc_port",
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence. flags may
// be nil; only flags the user actually set override lower layers.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	// CRUDQL_SERVER_HTTP_PORT overrides server.http_port.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets are environment-only.
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		App: AppConfig{Env: v.GetString("app.env")},
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			HTTPPort:       v.GetInt("server.http_port"),
			GRPCPort:       v.GetInt("server.grpc_port"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
			MaxBodyBytes:   v.GetInt64("server.max_body_bytes"),
		},
		Storage: StorageConfig{
			Driver:      strings.ToLower(v.GetString("storage.driver")),
			DBURL:       v.GetString("storage.db_url"),
			RedisAddr:   v.GetString("storage.redis_addr"),
			RedisPrefix: v.GetString("storage.redis_prefix"),
		},
		Engine: EngineConfig{
			SuppressionValue: v.GetString("engine.suppression_value"),
			DefaultPageSize:  v.GetInt("engine.default_page_size"),
			MaxPageSize:      v.GetInt("engine.max_page_size"),
		},
		Auth: AuthConfig{Mode: strings.ToLower(v.GetString("auth.mode"))},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("app.env", d.App.Env)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.db_url", d.Storage.DBURL)
	v.SetDefault("storage.redis_addr", d.Storage.RedisAddr)
	v.SetDefault("storage.redis_prefix", d.Storage.RedisPrefix)
	v.SetDefault("engine.suppression_value", d.Engine.SuppressionValue)
	v.SetDefault("engine.default_page_size", d.Engine.DefaultPageSize)
	v.SetDefault("engine.max_page_size", d.Engine.MaxPageSize)
	v.SetDefault("auth.mode", d.Auth.Mode)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// validateConfig checks ports, positive limits and enumerated settings.
func validateConfig(cfg *Config) error {
	for name, port := range map[string]int{"http_port": cfg.Server.HTTPPort, "grpc_port": cfg.Server.GRPCPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}
	if cfg.Server.HTTPPort == cfg.Server.GRPCPort {
		return fmt.Errorf("http_port and grpc_port must differ, both are %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", cfg.Server.MaxBodyBytes)
	}

	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverSQL:
		if cfg.Storage.DBURL == "" {
			return fmt.Errorf("db_url is required for the sql storage driver")
		}
	case DriverRedis:
		if cfg.Storage.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis storage driver")
		}
	default:
		return fmt.Errorf("storage driver must be one of memory, sql, redis, got %q", cfg.Storage.Driver)
	}

	if cfg.Engine.DefaultPageSize < 0 || cfg.Engine.MaxPageSize < 0 {
		return fmt.Errorf("page sizes must not be negative")
	}
	if cfg.Engine.MaxPageSize > 0 && cfg.Engine.DefaultPageSize > cfg.Engine.MaxPageSize {
		return fmt.Errorf("default_page_size %d exceeds max_page_size %d", cfg.Engine.DefaultPageSize, cfg.Engine.MaxPageSize)
	}

	switch cfg.Auth.Mode {
	case AuthHeader:
	case AuthAPIKey:
		if cfg.Storage.DBURL == "" {
			return fmt.Errorf("db_url is required for apikey authentication")
		}
	default:
		return fmt.Errorf("auth mode must be header or apikey, got %q", cfg.Auth.Mode)
	}

	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", cfg.Log.Format)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("auth.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use %s_HMAC_SECRET environment variable)", EnvPrefix)
	}
	return nil
}
