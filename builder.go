package authcore

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/openfeedhq/authcore/audit"
	"github.com/openfeedhq/authcore/internal/rate"
	"github.com/openfeedhq/authcore/jwt"
	"github.com/openfeedhq/authcore/password"
	"github.com/openfeedhq/authcore/session"
	"github.com/openfeedhq/authcore/users"
)

// Builder assembles an Engine. Configure it during startup and call Build
// once; the resulting Engine is immutable and safe for concurrent use.
type Builder struct {
	config Config

	store    session.Store
	users    users.Provider
	logger   *slog.Logger
	throttle redis.UniversalClient
	reg      prometheus.Registerer
	sink     audit.Sink
	auditCfg audit.Config

	built bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithSessionStore selects the refresh-token backend. The choice is made
// once here; the Engine never mixes backends.
func (b *Builder) WithSessionStore(s session.Store) *Builder {
	b.store = s
	return b
}

// WithUserProvider supplies the account repository.
func (b *Builder) WithUserProvider(p users.Provider) *Builder {
	b.users = p
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithThrottleRedis enables the login/refresh rate limiter on the given
// client. Without it the limiter is disabled and every request is admitted.
func (b *Builder) WithThrottleRedis(client redis.UniversalClient) *Builder {
	b.throttle = client
	return b
}

// WithMetricsRegisterer registers the Engine's Prometheus collectors with
// the given registerer. Without it no metrics are recorded.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.reg = reg
	return b
}

// WithAuditSink enables asynchronous audit events into the sink. Without it
// nothing is recorded.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.sink = sink
	b.auditCfg = audit.DefaultConfig()
	return b
}

// WithAuditConfig overrides the dispatcher tuning set by WithAuditSink.
func (b *Builder) WithAuditConfig(cfg audit.Config) *Builder {
	b.auditCfg = cfg
	return b
}

// Build validates the configuration and wires the Engine. A Builder may
// only be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("session store required")
	}
	if b.users == nil {
		return nil, errors.New("user provider required")
	}

	codec, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(b.config.JWT.SigningMethod),
		AccessKey:     b.config.JWT.AccessSecret,
		RefreshKey:    b.config.JWT.RefreshSecret,
		AccessPublic:  b.config.JWT.AccessPublic,
		RefreshPublic: b.config.JWT.RefreshPublic,
		AccessTTL:     b.config.JWT.AccessTTL,
		RefreshTTL:    b.config.JWT.RefreshTTL,
		Issuer:        b.config.JWT.Issuer,
		Leeway:        b.config.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(b.config.Password)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if b.throttle != nil && b.config.Security.EnableThrottle {
		limiter = rate.New(b.throttle, rate.Config{
			MaxLoginAttempts:   b.config.Security.MaxLoginAttempts,
			LoginWindow:        b.config.Security.LoginWindow,
			MaxRefreshAttempts: b.config.Security.MaxRefreshAttempts,
			RefreshWindow:      b.config.Security.RefreshWindow,
		})
	}

	var metrics *Metrics
	if b.reg != nil {
		metrics = NewMetrics(b.reg)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		config:   b.config,
		codec:    codec,
		sessions: b.store,
		users:    b.users,
		hasher:   hasher,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
		auditor:  audit.NewDispatcher(b.auditCfg, b.sink),
	}, nil
}
