package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/llmgateway/gateway/internal/admin"
	"github.com/llmgateway/gateway/internal/api"
	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/budget"
	"github.com/llmgateway/gateway/internal/cache"
	"github.com/llmgateway/gateway/internal/catalog"
	"github.com/llmgateway/gateway/internal/circuitbreaker"
	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/cost"
	"github.com/llmgateway/gateway/internal/crypto"
	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/notifications"
	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/provider/anthropic"
	"github.com/llmgateway/gateway/internal/provider/bedrock"
	"github.com/llmgateway/gateway/internal/provider/gemini"
	"github.com/llmgateway/gateway/internal/provider/generichttp"
	"github.com/llmgateway/gateway/internal/provider/ollama"
	"github.com/llmgateway/gateway/internal/provider/openaicompat"
	"github.com/llmgateway/gateway/internal/provider/transformerslocal"
	"github.com/llmgateway/gateway/internal/provider/vllmlocal"
	"github.com/llmgateway/gateway/internal/queue"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/recorder"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/secrets"
	"github.com/llmgateway/gateway/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting AI Gateway", "addr", cfg.Addr, "version", "0.3.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "aigateway", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	catalogStore, userRepo, invocationStore, invocationReader := wireStores(ctx, cfg, db)

	var secretResolver catalog.SecretResolver
	if cfg.UseSecretsManager {
		sm, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to init secrets manager", "error", err)
			os.Exit(1)
		}
		secretResolver = sm
		slog.Info("secrets manager credential resolution enabled", "region", cfg.AWSRegion)
	}

	cat, err := catalog.NewAccessor(ctx, catalogStore, catalog.WithSecretResolver(secretResolver), catalog.WithCache(wireModelCache(cfg)))
	if err != nil {
		slog.Error("failed to build catalog accessor", "error", err)
		os.Exit(1)
	}

	sessions := auth.NewSessionStore(cfg.SessionSweepInterval)
	defer sessions.Close()
	authn := auth.NewAuthenticator(cat, sessions)
	authz := auth.NewAuthorizer()

	limiter := wireLimiter(cfg)
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), wireBreakerOpts(cfg)...)

	adapters := router.NewAdapterTable(map[domain.ProviderType]provider.Adapter{
		domain.ProviderAnthropic:         anthropic.New(),
		domain.ProviderGemini:            gemini.New(),
		domain.ProviderOllamaLocal:       ollama.New(),
		domain.ProviderVLLMLocal:         vllmlocal.New(),
		domain.ProviderTransformersLocal: transformerslocal.New(),
		domain.ProviderGenericHTTP:       generichttp.New(),
		domain.ProviderOpenAICompatible:  openaicompat.New(),
	}, bedrock.New())

	rt := router.New(cat, adapters, limiter, breakers)

	overflow := wireOverflow(ctx, cfg)
	rec := recorder.New(invocationStore, recorder.Options{
		Capacity:      cfg.RecorderCapacity,
		BatchSize:     cfg.RecorderBatchSize,
		FlushInterval: cfg.RecorderFlushInterval,
		FullCapture:   cfg.RecorderFullCapture,
		Overflow:      overflow,
	})
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
		defer drainCancel()
		if err := rec.Close(drainCtx); err != nil {
			slog.Error("recorder drain failed", "error", err)
		}
	}()

	wireBudgetMonitor(ctx, cfg, rec)

	calc := cost.NewCalculator()

	handler := api.NewHandler(api.HandlerConfig{
		Router:        rt,
		Authenticator: authn,
		Authorizer:    authz,
		Sessions:      sessions,
		Recorder:      rec,
		Cost:          calc,
		HealthCheckers: wireHealthCheckers(cfg, db, cat),
		HealthTimeout:  cfg.HealthTimeout,
	})

	adminHandler := api.NewAdminHandler(cat, invocationReader, userRepo)

	mux := http.NewServeMux()
	mux.Handle("/admin/", adminHandler)
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if shutdownTelemetry != nil {
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}

	slog.Info("server stopped")
}

// wireStores picks Postgres-backed collaborators when DatabaseURL is set,
// falling back to in-memory ones for local development. Only the
// in-memory invocation store also satisfies api.InvocationReader; per its
// doc comment, production deployments read invocations straight out of
// Postgres, so invocationReader comes back nil when db is set and the
// admin invocations endpoint reports an empty list.
func wireStores(ctx context.Context, cfg *config.Config, db *sql.DB) (catalog.Store, admin.UserRepository, recorder.ObservabilityStore, api.InvocationReader) {
	if db == nil {
		mem := recorder.NewInMemoryStore()
		return &catalog.MapStore{}, admin.NewInMemoryUserRepository(), mem, mem
	}

	var encryptor *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			slog.Error("failed to init encryptor", "error", err)
			os.Exit(1)
		}
		encryptor = enc
	}

	return catalog.NewPostgresStore(db, encryptor), admin.NewPostgresUserRepository(db), recorder.NewPostgresObservabilityStore(db), nil
}

// wireModelCache prefers a shared Redis cache when RedisURL is set, so a
// horizontally-scaled deployment's instances memoize catalog model
// lookups consistently. Falls back to an in-memory cache so Direct
// lookups still benefit from memoization with no Redis configured.
func wireModelCache(cfg *config.Config) cache.Cache {
	if cfg.RedisURL == "" {
		return cache.NewInMemoryCache()
	}
	c, err := cache.NewRedisCache(cfg.RedisURL)
	if err != nil {
		slog.Warn("failed to connect to redis for catalog cache, using in-memory", "error", err)
		return cache.NewInMemoryCache()
	}
	slog.Info("using redis catalog model cache")
	return c
}

func wireLimiter(cfg *config.Config) ratelimit.Limiter {
	if cfg.RedisURL == "" {
		slog.Info("using in-memory rate limiter")
		return ratelimit.NewInMemoryLimiter()
	}
	limiter, err := ratelimit.NewRedisLimiter(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to connect to redis for rate limiting", "error", err)
		os.Exit(1)
	}
	slog.Info("using redis rate limiter", "url", cfg.RedisURL)
	return limiter
}

func wireBreakerOpts(cfg *config.Config) []circuitbreaker.ManagerOption {
	if !cfg.UseDistributedCircuitBreaker || cfg.RedisURL == "" {
		return nil
	}
	slog.Info("using redis-backed circuit breaker state", "url", cfg.RedisURL)
	return []circuitbreaker.ManagerOption{circuitbreaker.WithRedis(cfg.RedisURL)}
}

func wireOverflow(ctx context.Context, cfg *config.Config) recorder.OverflowPublisher {
	if cfg.SQSOverflowQueueURL == "" {
		return nil
	}
	q, err := queue.NewSQSOverflowQueue(ctx, cfg.AWSRegion, cfg.SQSOverflowQueueURL)
	if err != nil {
		slog.Error("failed to init sqs overflow queue", "error", err)
		os.Exit(1)
	}
	slog.Info("recorder overflow spillover enabled", "queue_url", cfg.SQSOverflowQueueURL)
	return q
}

// wireBudgetMonitor attaches a budget.Monitor to the recorder's OnRecorded
// hook when a budget is configured. Alerts always log (budget.LogAlertHandler);
// when SNSBudgetTopicARN is set they are additionally published to SNS.
func wireBudgetMonitor(ctx context.Context, cfg *config.Config, rec *recorder.Recorder) {
	if cfg.BudgetUSD <= 0 {
		return
	}

	var monitorOpts []budget.MonitorOption
	if cfg.RedisURL != "" {
		dedup, err := budget.NewRedisDeduplicator(cfg.RedisURL, time.Hour)
		if err != nil {
			slog.Error("failed to init redis budget alert deduplicator, falling back to per-instance dedup", "error", err)
		} else {
			monitorOpts = append(monitorOpts, budget.WithDeduplicator(dedup))
		}
	}

	monitor := budget.NewMonitor(cfg.BudgetUSD, budget.Thresholds{
		Warning:  cfg.BudgetWarningPct,
		Critical: cfg.BudgetCriticalPct,
	}, monitorOpts...)

	var notifier notifications.Notifier
	if cfg.SNSBudgetTopicARN != "" {
		n, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSBudgetTopicARN)
		if err != nil {
			slog.Error("failed to init sns notifier, budget alerts will only be logged", "error", err)
		} else {
			notifier = n
			slog.Info("budget alerts will publish to sns", "topic_arn", cfg.SNSBudgetTopicARN)
		}
	}

	monitor.OnAlert(budget.LogAlertHandler)
	if notifier != nil {
		monitor.OnAlert(func(alert budget.Alert) {
			notificationType := notifications.NotificationBudgetWarning
			switch alert.Level {
			case budget.AlertLevelCritical:
				notificationType = notifications.NotificationBudgetCritical
			case budget.AlertLevelExceeded:
				notificationType = notifications.NotificationBudgetExceeded
			}
			err := notifier.Send(ctx, notifications.Notification{
				Type:         notificationType,
				ProviderName: alert.ProviderName,
				Message:      fmt.Sprintf("%s/%s: %.2f%% of $%.2f budget used ($%.2f)", alert.ProviderName, alert.ModelName, alert.Percentage, alert.Budget, alert.CurrentUse),
				Data:         map[string]interface{}{"model_name": alert.ModelName},
			})
			if err != nil {
				slog.Error("failed to send budget alert notification", "error", err)
			}
		})
	}

	rec.OnRecorded(monitor.Observe)
}

func wireHealthCheckers(cfg *config.Config, db *sql.DB, cat *catalog.Accessor) []api.HealthChecker {
	checkers := []api.HealthChecker{api.NewCatalogHealthChecker(cat)}
	if db != nil {
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
	}
	if cfg.RedisURL != "" {
		redisChecker, err := api.NewRedisHealthChecker(cfg.RedisURL)
		if err != nil {
			slog.Error("redis health checker disabled: invalid redis URL", "error", err)
		} else {
			checkers = append(checkers, redisChecker)
		}
	}
	return checkers
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
