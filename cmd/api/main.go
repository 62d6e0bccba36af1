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
	"time"

	"call-ledger/internal/audit"
	"call-ledger/internal/auth"
	"call-ledger/internal/billing"
	"call-ledger/internal/config"
	"call-ledger/internal/expiry"
	"call-ledger/internal/funding"
	"call-ledger/internal/httpapi"
	"call-ledger/internal/notify"
	"call-ledger/internal/rates"
	"call-ledger/internal/reporting"
	"call-ledger/internal/wallet"
	"call-ledger/pkg/logger"
	"call-ledger/pkg/rabbitmq"
	"call-ledger/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrate(rootCtx, db); err != nil {
		log.Error("schema migration failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Messaging is optional: without a broker, notifications are logged and
	// funding arrives over the webhook only.
	var notifier notify.Notifier = notify.LogNotifier{L: log}
	if cfg.AMQP.URL != "" {
		var publisher rabbitmq.Publisher = rabbitmq.Fallback{Log: log}
		p, err := rabbitmq.NewProducer(cfg.AMQP.URL, log)
		if err != nil {
			log.Warn("amqp producer unavailable; notifications disabled", "err", err)
		} else {
			publisher = p
		}
		defer publisher.Close()
		notifier = notify.NewAMQPNotifier(publisher, cfg.AMQP.Exchange)
	}

	store := wallet.NewPostgresStore(db, cfg.Billing.LockWait)
	locker := wallet.NewRedisLocker(rdb, wallet.RedisLockerOptions{TTL: cfg.Billing.LockTTL})
	rateRepo := rates.NewPostgresRepo(db)
	resolver := rates.NewResolver(rateRepo, rateRepo)
	auditLog := audit.NewService(audit.NewPostgresRepo(db))

	billingSvc := billing.NewService(billing.Config{
		MaxAttempts:    cfg.Billing.MaxAttempts,
		BackoffInitial: cfg.Billing.BackoffInitial,
		BackoffMax:     cfg.Billing.BackoffMax,
		LockWait:       cfg.Billing.LockWait,
	}, billing.Deps{
		Rates:    resolver,
		Store:    store,
		Locker:   locker,
		Notifier: notifier,
		Audit:    auditLog,
		Logger:   log,
	})

	fundingSvc := funding.NewService(funding.Config{
		MaxAttempts:    cfg.Billing.MaxAttempts,
		BackoffInitial: cfg.Billing.BackoffInitial,
		BackoffMax:     cfg.Billing.BackoffMax,
		LockWait:       cfg.Billing.LockWait,
	}, funding.Deps{
		Store:    store,
		Locker:   locker,
		Catalog:  funding.NewPostgresCatalog(db),
		Notifier: notifier,
		Audit:    auditLog,
		Logger:   log,
	})

	if cfg.AMQP.URL != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.AMQP.URL, log)
		if err != nil {
			log.Warn("amqp consumer unavailable; funding via webhook only", "err", err)
		} else {
			defer consumer.Close()
			err = consumer.ConsumeWithBindings(rootCtx, cfg.AMQP.Exchange, cfg.AMQP.FundingQueue, map[string]rabbitmq.Handler{
				funding.RoutingKeyPaymentCompleted: fundingSvc.HandleMessage,
				funding.RoutingKeyPaymentFailed:    fundingSvc.HandleMessage,
			})
			if err != nil {
				log.Error("funding consumer failed to start", "err", err)
				os.Exit(1)
			}
			log.Info("funding consumer started", "queue", cfg.AMQP.FundingQueue)
		}
	}

	scheduler := expiry.NewScheduler(expiry.NewSweeper(store, auditLog, log), log, cfg.Expiry.Schedule)
	if err := scheduler.Start(); err != nil {
		os.Exit(1)
	}

	handlers := httpapi.Handlers{
		Auth:      authManager,
		Billing:   billingSvc,
		Funding:   fundingSvc,
		Reporting: reporting.NewService(store, resolver),
		Audit:     auditLog,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, handlers, auth.RequireAccessToken(authManager), !cfg.IsProduction())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("expiry sweep still running at shutdown")
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// migrate creates every table the process reads or writes. Statements are idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	steps := []func(context.Context, *sql.DB) error{
		rates.Migrate,
		wallet.Migrate,
		funding.MigrateCatalog,
		audit.Migrate,
	}
	for _, step := range steps {
		if err := step(ctx, db); err != nil {
			return err
		}
	}
	return utils.HealthCheck(ctx, db, 5*time.Second)
}
