// Package config loads application configuration from environment variables
// and an optional YAML file via viper.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the LERS realtime service.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
}

type AppConfig struct {
	Env    string `mapstructure:"env"`
	Listen string `mapstructure:"listen"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	// Addr empty disables the cross-instance event bridge.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// RealtimeConfig tunes the session layer on both sides of the wire.
type RealtimeConfig struct {
	TypingDebounce    time.Duration `mapstructure:"typing_debounce"`
	ReconnectInitial  time.Duration `mapstructure:"reconnect_initial"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_max"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	PresenceHorizon   time.Duration `mapstructure:"presence_horizon"`
	SeenCacheSize     int           `mapstructure:"seen_cache_size"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configErr    error
)

// Get returns the process-wide configuration, loading it on first use.
// Returns nil if loading failed; callers that need the error use Load.
func Get() *Config {
	cfg, _ := Load("")
	return cfg
}

// Load reads configuration from the given file (optional) and the
// environment. Environment variables use the LERS_ prefix with underscores,
// e.g. LERS_DATABASE_DSN.
func Load(path string) (*Config, error) {
	configOnce.Do(func() {
		globalConfig, configErr = load(path)
	})
	return globalConfig, configErr
}

func load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("app.env", "development")
	v.SetDefault("app.listen", ":8001")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_ttl", 16*time.Hour)
	v.SetDefault("realtime.typing_debounce", 3*time.Second)
	v.SetDefault("realtime.reconnect_initial", time.Second)
	v.SetDefault("realtime.reconnect_max", 30*time.Second)
	v.SetDefault("realtime.reconnect_attempts", 5)
	v.SetDefault("realtime.presence_horizon", 5*time.Minute)
	v.SetDefault("realtime.seen_cache_size", 512)

	v.SetEnvPrefix("LERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
