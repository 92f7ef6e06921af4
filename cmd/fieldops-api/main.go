package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldops/internal/auth"
	"fieldops/internal/config"
	"fieldops/internal/httpapi"
	"fieldops/internal/hub"
	"fieldops/internal/logging"
	"fieldops/internal/store/postgres"
	"fieldops/internal/telemetry"
	"fieldops/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.UsesDefaultJWTSecret() {
		logger.Warn("JWT_SECRET is not set, tokens are signed with the built-in development secret")
	}

	shutdownTelemetry := telemetry.Setup(telemetry.Config{
		ServiceName:    "fieldops-api",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	}, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	store := postgres.NewStore(pool, postgres.Options{
		NumberAttempts: cfg.InvoiceNumberAttempts,
		DueDays:        cfg.InvoiceDueDays,
	})
	jwtAuth := auth.NewJWTAuth(cfg.JWTSecret)
	realtimeHub := hub.New(logger.Named("hub"))

	notifiers := worker.NewNotifiers(worker.NotifierConfig{
		EmailProvider: cfg.Reminder.EmailProvider,
		SMSProvider:   cfg.Reminder.SMSProvider,
		PushProvider:  cfg.Reminder.PushProvider,
	}, realtimeHub, logger.Named("notifier"))
	reminderWorker := worker.New(store, notifiers, worker.Config{
		PollInterval: cfg.Reminder.PollInterval,
		BatchSize:    cfg.Reminder.BatchSize,
		RetryEnabled: cfg.Reminder.RetryEnabled,
		MaxAttempts:  cfg.Reminder.MaxAttempts,
		Backoff:      cfg.Reminder.Backoff,
		BackoffMax:   cfg.Reminder.BackoffMax,
	}, logger.Named("worker"))

	handler := httpapi.NewHandler(httpapi.Options{
		Billing:   store,
		Field:     store,
		Reminders: store,
		Users:     store,
		Sender:    reminderWorker,
		Tokens:    jwtAuth,
		TokenTTL:  cfg.JWTTTL,
		Logger:    logger.Named("http"),
	})
	router := handler.Routes(httpapi.NewRealtimeHandler(realtimeHub, jwtAuth, logger.Named("realtime")))
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		TokenPerMinute: cfg.RateLimitPerMinute,
		TokenBurst:     cfg.RateLimitBurst,
	})

	chain := httpapi.LoggingMiddleware(logger.Named("access"), router,
		limiter.Middleware(httpapi.AuthMiddleware(jwtAuth, router)))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(chain, "fieldops-api"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	reminderWorker.Start(workerCtx)

	go func() {
		logger.Info("fieldops-api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	reminderWorker.Stop()
}
