package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// serverConfig is everything the daemon reads from the environment. An
// optional .env file seeds the values; real environment variables win.
type serverConfig struct {
	ListenAddr string `mapstructure:"LISTEN_ADDR"`

	// SessionBackend selects where refresh tokens live: "redis" or
	// "postgres". The choice is made once at startup.
	SessionBackend string `mapstructure:"SESSION_BACKEND"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPrefix    string `mapstructure:"REDIS_PREFIX"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	AccessSecret  string `mapstructure:"JWT_ACCESS_SECRET"`
	RefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	AccessTTL     string `mapstructure:"JWT_ACCESS_TTL"`
	RefreshTTL    string `mapstructure:"JWT_REFRESH_TTL"`
	Issuer        string `mapstructure:"JWT_ISSUER"`

	// ThrottleRedisAddr enables login/refresh rate limiting when set. It
	// may point at the session Redis or a dedicated instance.
	ThrottleRedisAddr string `mapstructure:"THROTTLE_REDIS_ADDR"`

	ShutdownGrace string `mapstructure:"SHUTDOWN_GRACE"`
}

func loadConfig() (*serverConfig, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("SESSION_BACKEND", "redis")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PREFIX", "authcore:")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("JWT_ISSUER", "authcore")
	v.SetDefault("THROTTLE_REDIS_ADDR", "")
	v.SetDefault("SHUTDOWN_GRACE", "10s")

	var cfg serverConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be set")
	}
	switch cfg.SessionBackend {
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.New("config: REDIS_ADDR must be set for the redis backend")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("config: unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}
	// The user repository always needs Postgres, whichever session backend
	// is selected.
	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}
	return &cfg, nil
}

func (c *serverConfig) accessTTL() time.Duration   { return parseTTL(c.AccessTTL, 15*time.Minute) }
func (c *serverConfig) refreshTTL() time.Duration  { return parseTTL(c.RefreshTTL, 168*time.Hour) }
func (c *serverConfig) shutdownTTL() time.Duration { return parseTTL(c.ShutdownGrace, 10*time.Second) }

func parseTTL(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
