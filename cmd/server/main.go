package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/internal/controller"
	"github.com/pantypostorganisation/pantypost-sub009/internal/engine"
	"github.com/pantypostorganisation/pantypost-sub009/internal/external"
	"github.com/pantypostorganisation/pantypost-sub009/internal/jobs"
	"github.com/pantypostorganisation/pantypost-sub009/internal/messaging"
	"github.com/pantypostorganisation/pantypost-sub009/internal/middleware"
	"github.com/pantypostorganisation/pantypost-sub009/internal/migration"
	"github.com/pantypostorganisation/pantypost-sub009/internal/monitoring"
	"github.com/pantypostorganisation/pantypost-sub009/internal/repository"
	"github.com/pantypostorganisation/pantypost-sub009/internal/service"
	"github.com/pantypostorganisation/pantypost-sub009/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("Wallet service exited with error")
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Could not load .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(cfg.Logging)
	log := logrus.StandardLogger()
	log.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"backend":     cfg.Storage.Backend,
	}).Info("Starting wallet service")

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	store, locks, cleanup, err := buildStorage(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	ledger := repository.NewLedgerRepository(store)
	idempotency := repository.NewIdempotencyRepository(store)

	users, payouts := buildExternal(cfg, log)

	events, err := buildPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer events.Close()

	reconciler := engine.NewReconciler(ledger, locks, metrics, log)
	eng := engine.NewEngine(ledger, idempotency, locks, users, payouts, events, metrics, cfg.Limits, log)
	reversals := engine.NewReversalManager(ledger, idempotency, locks, events, metrics, log)
	detector := engine.NewDetector(ledger, cfg.Suspicion, events, metrics, log)
	migrator := migration.NewMigrator(store, ledger, reconciler, cfg.Migration, cfg.IsSandbox(), metrics, log)

	// Legacy data must be in the ledger before any request can move money.
	if err := runMigration(migrator, log); err != nil {
		return err
	}

	svc := service.NewWalletService(eng, reversals, reconciler, detector, migrator, ledger, cfg.Fees, log)
	ctrl := controller.NewWalletController(svc, log)

	scheduler := jobs.NewScheduler(ledger, reconciler, cfg.Limits, cfg.Monitoring, log)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start background jobs: %w", err)
	}
	defer scheduler.Stop()

	router := buildRouter(cfg, ctrl, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("Wallet service stopped")
	return nil
}

// buildStorage selects the KV backend and the matching lock manager.
func buildStorage(cfg *config.Config, log *logrus.Logger) (repository.KVStore, repository.LockManager, func(), error) {
	cleanup := func() {}

	switch cfg.Storage.Backend {
	case "redis":
		client, err := repository.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cleanup = func() { client.Close() }
		store := repository.NewRedisStore(client, cfg.Storage.Namespace)
		var locks repository.LockManager
		if cfg.Storage.DistributedLocks {
			locks = repository.NewRedisLockManager(client, cfg.Redis.LockTTL, log)
		} else {
			locks = repository.NewMemoryLockManager()
		}
		return store, locks, cleanup, nil

	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.ConnectTimeout)
		defer cancel()
		client, err := repository.NewMongoClient(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		cleanup = func() { client.Disconnect(context.Background()) }
		store := repository.NewMongoStore(client, cfg.Mongo, cfg.Storage.Namespace)
		var locks repository.LockManager
		if cfg.Storage.DistributedLocks {
			redisClient, err := repository.NewRedisClient(cfg.Redis)
			if err != nil {
				cleanup()
				return nil, nil, nil, fmt.Errorf("distributed locks need redis: %w", err)
			}
			prev := cleanup
			cleanup = func() { redisClient.Close(); prev() }
			locks = repository.NewRedisLockManager(redisClient, cfg.Redis.LockTTL, log)
		} else {
			locks = repository.NewMemoryLockManager()
		}
		return store, locks, cleanup, nil

	default:
		return repository.NewMemoryStore(), repository.NewMemoryLockManager(), cleanup, nil
	}
}

func buildExternal(cfg *config.Config, log *logrus.Logger) (external.UserDirectory, external.PayoutProcessor) {
	if cfg.IsSandbox() {
		return &external.StaticUserDirectory{}, &external.SandboxPayoutProcessor{}
	}
	return external.NewHTTPUserDirectory(cfg.External, log), external.NewHTTPPayoutProcessor(cfg.External, log)
}

func buildPublisher(cfg *config.Config, log *logrus.Logger) (messaging.EventPublisher, error) {
	if !cfg.RabbitMQ.Enabled {
		return messaging.NoopPublisher{}, nil
	}
	return messaging.NewRabbitPublisher(cfg.RabbitMQ, log)
}

func runMigration(migrator *migration.Migrator, log *logrus.Logger) error {
	ctx := context.Background()
	needed, err := migrator.IsMigrationNeeded(ctx)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if !needed {
		return nil
	}
	status, err := migrator.Run(ctx)
	if err != nil {
		if errors.Is(err, migration.ErrAbandoned) {
			// The engine stays up so operators can inspect and re-trigger
			// through the admin surface once the data is fixed.
			log.WithField("attempts", status.Attempts).Error("Migration abandoned, serving without migrated data")
			return nil
		}
		return fmt.Errorf("legacy migration failed: %w", err)
	}
	return nil
}

func buildRouter(cfg *config.Config, ctrl *controller.WalletController, log *logrus.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(cfg.Server.TrustedProxies)

	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(middleware.RequestLogger(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Admin-API-Key"},
		AllowCredentials: false,
	}))

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	router.Use(limiter.Handler())

	router.GET("/health", ctrl.Health)
	if cfg.Monitoring.EnableMetrics {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/wallet")
	{
		user := api.Group("/:userId")
		user.Use(middleware.JWTAuth(cfg.Auth), middleware.SelfOrAdmin("userId"))
		{
			user.GET("/balance", ctrl.GetBalance)
			user.GET("/transactions", ctrl.GetTransactions)
			user.POST("/deposit", ctrl.Deposit)
			user.POST("/withdraw", ctrl.Withdraw)
		}
		api.POST("/transfer", middleware.JWTAuth(cfg.Auth), ctrl.Transfer)

		admin := api.Group("/admin")
		admin.Use(middleware.AdminAuth(cfg.Auth))
		{
			admin.POST("/adjust", ctrl.AdminAdjust)
			admin.POST("/reverse/:txId", ctrl.Reverse)
			admin.GET("/reconcile", ctrl.ReconcileAll)
			admin.GET("/reconcile/:userId", ctrl.Reconcile)
			admin.GET("/suspicion/:userId", ctrl.Suspicion)
			admin.GET("/migration", ctrl.MigrationStatus)
			admin.POST("/migration", ctrl.RunMigration)
		}
	}
	return router
}
