package authcore

import (
	"errors"
	"time"

	"github.com/openfeedhq/authcore/jwt"
	"github.com/openfeedhq/authcore/password"
)

// Config carries everything the engine needs beyond its injected
// dependencies. Validate runs inside [Builder.Build]; a bad configuration is
// a startup failure, never a request-time one.
type Config struct {
	JWT      JWTConfig
	Password password.Config
	Security SecurityConfig
}

// JWTConfig holds signing material and lifetimes for both token families.
type JWTConfig struct {
	// SigningMethod is "hs256" (default) or "ed25519".
	SigningMethod string
	// AccessSecret signs access tokens; RefreshSecret signs refresh
	// envelopes. They must differ so one family can never stand in for the
	// other.
	AccessSecret  []byte
	RefreshSecret []byte
	// AccessPublic and RefreshPublic are only used with ed25519.
	AccessPublic  []byte
	RefreshPublic []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// SecurityConfig tunes the optional login/refresh throttles. They only take
// effect when the builder is given a throttle Redis client.
type SecurityConfig struct {
	EnableThrottle     bool
	MaxLoginAttempts   int
	LoginWindow        time.Duration
	MaxRefreshAttempts int
	RefreshWindow      time.Duration
}

// DefaultConfig returns the stock lifetimes: 15 minute access tokens, 7 day
// refresh envelopes. Secrets have no default; Validate rejects their absence.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: string(jwt.MethodHS256),
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			Issuer:        "authcore",
		},
		Password: password.DefaultConfig(),
		Security: SecurityConfig{
			EnableThrottle:     true,
			MaxLoginAttempts:   10,
			LoginWindow:        15 * time.Minute,
			MaxRefreshAttempts: 60,
			RefreshWindow:      time.Minute,
		},
	}
}

// Validate checks the configuration for startup-fatal problems.
func (c Config) Validate() error {
	if len(c.JWT.AccessSecret) == 0 {
		return errors.New("config: access signing secret is required")
	}
	if len(c.JWT.RefreshSecret) == 0 {
		return errors.New("config: refresh signing secret is required")
	}
	if string(c.JWT.AccessSecret) == string(c.JWT.RefreshSecret) {
		return errors.New("config: access and refresh secrets must differ")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("config: refresh TTL must exceed access TTL")
	}
	return nil
}
