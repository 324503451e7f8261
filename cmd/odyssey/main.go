package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-crm/internal/app"
	"github.com/odyssey-erp/odyssey-crm/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-crm/internal/audit/http"
	"github.com/odyssey-erp/odyssey-crm/internal/crm"
	crmhttp "github.com/odyssey-erp/odyssey-crm/internal/crm/http"
	"github.com/odyssey-erp/odyssey-crm/internal/mutation"
	"github.com/odyssey-erp/odyssey-crm/internal/observability"
	"github.com/odyssey-erp/odyssey-crm/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-crm/internal/platform/db"
	"github.com/odyssey-erp/odyssey-crm/internal/rbac"
	"github.com/odyssey-erp/odyssey-crm/jobs"
	"github.com/odyssey-erp/odyssey-crm/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.MigrateOnStart {
		if err := migrations.Up(ctx, dbpool); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
		if err := rbac.SeedRoles(ctx, dbpool, rbac.DefaultRoles()); err != nil {
			logger.Error("seed roles", slog.Any("error", err))
			os.Exit(1)
		}
	}

	metrics := observability.NewMetrics()

	var notifier mutation.Notifier = mutation.LogNotifier{Logger: logger}
	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis unavailable, notifications are logged only", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		notifier = mutation.MultiNotifier{
			notifier,
			mutation.NewRedisNotifier(redisClient, cfg.NotifyChannel, logger),
		}
	}

	executor := mutation.NewExecutor(mutation.Config{
		Notifier: notifier,
		Logger:   logger,
		Metrics:  mutation.NewMetrics(metrics.Registerer()),
		Timeout:  cfg.RemoteTimeout,
	})

	redisOpts := cfg.RedisOptions().Asynq()
	auditPG := audit.NewPGStore(dbpool)
	var auditStore audit.Store = auditPG
	if cfg.AuditAsync {
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		auditStore = audit.NewQueueStore(jobClient, cfg.AuditMaxRetry)
	}
	recorder := audit.NewRecorder(audit.RecorderConfig{
		Store:        auditStore,
		Logger:       logger,
		Metrics:      audit.NewMetrics(metrics.Registerer()),
		WriteTimeout: cfg.AuditWriteTimeout,
	})

	authority := rbac.NewPGAuthority(dbpool)
	sessions := crm.NewSessions(crm.Backend{
		Authority:       authority,
		BreakGlassEmail: cfg.BreakGlassEmail,
		Executor:        executor,
		Recorder:        recorder,
		Remotes:         crm.NewPGRemotes(dbpool),
		SessionIdle:     cfg.SessionIdleTimeout,
		Logger:          logger,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		CRMHandler:   crmhttp.NewHandler(logger, authority, sessions),
		AuditHandler: audithttp.NewHandler(logger, audit.NewService(auditPG), recorder),
		JobHandler:   jobs.NewHandler(inspector, logger),
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
