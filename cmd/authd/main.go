// Command authd serves the token lifecycle API over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/openfeedhq/authcore"
	"github.com/openfeedhq/authcore/httpapi"
	"github.com/openfeedhq/authcore/session"
	"github.com/openfeedhq/authcore/users"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var (
		store  session.Store
		probes []httpapi.ReadyProbe
	)
	probes = append(probes, db.PingContext)

	switch cfg.SessionBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		redisStore := session.NewRedisStore(rdb, cfg.RedisPrefix)
		store = redisStore
		probes = append(probes, redisStore.Ping)
	case "postgres":
		pgStore := session.NewPostgresStore(db)
		store = pgStore
	}

	var throttle redis.UniversalClient
	if cfg.ThrottleRedisAddr != "" {
		throttle = redis.NewClient(&redis.Options{Addr: cfg.ThrottleRedisAddr})
		defer throttle.Close()
	}

	coreCfg := authcore.DefaultConfig()
	coreCfg.JWT.AccessSecret = []byte(cfg.AccessSecret)
	coreCfg.JWT.RefreshSecret = []byte(cfg.RefreshSecret)
	coreCfg.JWT.AccessTTL = cfg.accessTTL()
	coreCfg.JWT.RefreshTTL = cfg.refreshTTL()
	coreCfg.JWT.Issuer = cfg.Issuer

	registry := prometheus.NewRegistry()

	builder := authcore.New().
		WithConfig(coreCfg).
		WithSessionStore(store).
		WithUserProvider(users.NewPostgresRepository(db)).
		WithLogger(logger).
		WithMetricsRegisterer(registry)
	if throttle != nil {
		builder = builder.WithThrottleRedis(throttle)
	}
	engine, err := builder.Build()
	if err != nil {
		return err
	}

	api := httpapi.New(engine, httpapi.Options{
		Logger:   logger,
		Gatherer: registry,
		Probes:   probes,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "backend", cfg.SessionBackend)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTTL())
	defer cancel()
	return srv.Shutdown(ctx)
}
