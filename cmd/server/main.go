package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gatepro/portal/internal/config"
	internalhttp "gatepro/portal/internal/http"
	"gatepro/portal/internal/identity"
	"gatepro/portal/internal/logger"
	"gatepro/portal/internal/metrics"
	"gatepro/portal/internal/middleware"
	"gatepro/portal/internal/session"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is not set; every protected path will redirect to /login")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	var backends session.Backends
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal("redis connection failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		backends = session.NewRedisBackends(rdb)
		log.Info("session storage: redis", zap.String("addr", cfg.RedisAddr))
	} else {
		memory := session.NewMemoryBackends()
		memory.StartCleanup(time.Minute)
		defer memory.Stop()
		backends = memory
		log.Info("session storage: memory")
	}

	identityClient := identity.New(cfg.IdentityURL,
		identity.WithTimeout(cfg.IdentityTimeout),
		identity.WithRetryDelay(cfg.IdentityRetryDelay),
		identity.WithLogger(log.Named("identity")),
		identity.WithMetrics(collector),
	)

	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatal("invalid TRUSTED_PROXIES", zap.Error(err))
	}
	limitCfg := middleware.PerMinute(cfg.LoginRatePerMinute)
	limitCfg.TrustedProxies = trusted
	limiter := middleware.NewRateLimiter(limitCfg, log.Named("ratelimit"))
	defer limiter.Stop()

	server, err := internalhttp.NewServer(cfg, identityClient, backends,
		internalhttp.WithLogger(log),
		internalhttp.WithMetrics(collector, registry),
		internalhttp.WithRateLimiter(limiter),
	)
	if err != nil {
		log.Fatal("server init failed", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("portal listening", zap.String("addr", cfg.HTTPAddr), zap.String("identity_url", cfg.IdentityURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}
