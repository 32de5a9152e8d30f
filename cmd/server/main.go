package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"genascope/internal/audit"
	"genascope/internal/auth/controller"
	"genascope/internal/auth/handler"
	authmetrics "genascope/internal/auth/metrics"
	"genascope/internal/auth/workers/cleanup"
	"genascope/internal/backend"
	"genascope/internal/platform/config"
	"genascope/internal/platform/health"
	"genascope/internal/platform/kafka/producer"
	"genascope/internal/platform/logger"
	"genascope/internal/platform/redis"
	"genascope/internal/proxy"
	"genascope/internal/session"
	httptransport "genascope/internal/transport/http"
	"genascope/pkg/platform/circuit"
	"genascope/pkg/platform/middleware/request"
	sessionmw "genascope/pkg/platform/middleware/session"
	"genascope/pkg/platform/tracer"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("initializing genascope gateway",
		"addr", cfg.Server.Addr,
		"env", cfg.App.Env,
		"backend", cfg.Backend.URL,
		"session_store", cfg.Session.Store,
	)

	healthHandler := health.New(cfg.App.Env)
	g, ctx := errgroup.WithContext(ctx)

	store, err := buildStore(ctx, cfg, log, healthHandler, g)
	if err != nil {
		return err
	}

	auditPublisher, closeAudit, err := buildAudit(cfg, log, healthHandler)
	if err != nil {
		return err
	}
	defer closeAudit()

	var tr tracer.Tracer = tracer.NewNoop()
	if cfg.Tracing.Enabled {
		tr = tracer.NewOTel()
	}
	breaker := circuit.New("backend",
		circuit.WithFailureThreshold(cfg.Backend.BreakerFailures),
		circuit.WithCooldown(cfg.Backend.BreakerCooldown),
	)
	healthHandler.RegisterCheck("backend", func(context.Context) error {
		if breaker.Degraded() {
			return fmt.Errorf("circuit %s", breaker.State())
		}
		return nil
	})

	client := backend.New(backend.Config{
		BaseURL:              cfg.Backend.URL,
		TokenPath:            cfg.Backend.TokenPath,
		MePath:               cfg.Backend.MePath,
		InviteVerifyPath:     cfg.Backend.InviteVerifyPath,
		SimplifiedAccessPath: cfg.Backend.SimplifiedAccessPath,
		Timeout:              cfg.Backend.Timeout,
		Tracer:               tr,
		Breaker:              breaker,
		Metrics:              backend.NewMetrics(prometheus.DefaultRegisterer),
	})

	auth := controller.New(store, client,
		controller.WithLogger(log),
		controller.WithMetrics(authmetrics.New(prometheus.DefaultRegisterer)),
		controller.WithAuditPublisher(auditPublisher),
		controller.WithInactivityWindow(cfg.Session.InactivityWindow),
		controller.WithSimplifiedMaxLifetime(cfg.Session.SimplifiedMaxLifetime),
		controller.WithRevalidateTimeout(cfg.Session.RevalidateTimeout),
	)
	defer auth.Close()

	target, err := url.Parse(cfg.Backend.URL)
	if err != nil {
		return err
	}
	backendProxy := proxy.New(proxy.Config{
		Target:  target,
		Timeout: cfg.Backend.Timeout,
		Breaker: breaker,
		Tracer:  tr,
		Metrics: proxy.NewMetrics(prometheus.DefaultRegisterer),
		Logger:  log,
	})

	cookie := sessionmw.CookieConfig{Name: cfg.Session.CookieName, Secure: cfg.Session.CookieSecure}
	router := httptransport.NewRouter(httptransport.Dependencies{
		Auth:           handler.New(auth, store, cookie, log),
		Health:         healthHandler,
		Resolver:       auth,
		Proxy:          backendProxy,
		Shell:          httptransport.NewShell(os.DirFS(cfg.Server.StaticDir)),
		Cookie:         cookie,
		Metrics:        request.NewMetrics(),
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Logger:         log,
	})

	sweeper, err := cleanup.New(store, auth,
		cleanup.WithCleanupInterval(cfg.Session.CleanupInterval),
		cleanup.WithCleanupLogger(log),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return auth.Run(ctx)
	})
	g.Go(func() error {
		if err := sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildStore picks the session store. Redis gets a readiness check and a
// pool stats loop on g.
func buildStore(ctx context.Context, cfg *config.Config, log *slog.Logger, h *health.Handler, g *errgroup.Group) (session.Store, error) {
	retention := cfg.Session.RetentionGrace
	if cfg.Session.Store != config.StoreRedis {
		return session.NewInMemory(
			session.WithMemoryLogger(log),
			session.WithMemoryRetention(retention, cfg.Session.DefaultTTL),
		), nil
	}

	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	h.RegisterCheck("redis", client.Health)

	g.Go(func() error {
		defer client.Close() //nolint:errcheck // closing on shutdown
		ticker := time.NewTicker(cfg.Redis.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				client.RecordPoolStats()
			}
		}
	})

	return session.NewRedis(client.Client,
		session.WithRedisLogger(log),
		session.WithRedisKeys(cfg.Redis.SessionKeySpace, cfg.Redis.ChangesChannel),
		session.WithRedisRetention(retention, cfg.Session.DefaultTTL),
	), nil
}

// buildAudit returns the lifecycle event publisher. Without brokers events are
// kept in process.
func buildAudit(cfg *config.Config, log *slog.Logger, h *health.Handler) (*audit.Publisher, func(), error) {
	var sink audit.Store = audit.NewInMemoryStore()
	closeSink := func() {}

	if cfg.Audit.KafkaEnabled() {
		p, err := producer.New(producer.Config{
			Brokers:         cfg.Audit.KafkaBrokers,
			Acks:            "all",
			Retries:         3,
			DeliveryTimeout: 10 * time.Second,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		h.RegisterCheck("kafka", p.Ping)
		sink = audit.NewKafkaStore(p, cfg.Audit.KafkaTopic)
		closeSink = p.Close
	}

	publisher := audit.NewPublisher(sink,
		audit.WithAsyncBuffer(cfg.Audit.Buffer),
		audit.WithPublisherLogger(log),
	)
	return publisher, func() {
		publisher.Close()
		closeSink()
	}, nil
}
