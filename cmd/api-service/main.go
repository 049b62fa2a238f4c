package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/agricert/internal/api/handler"
	"github.com/cuongbtq/agricert/internal/api/router"
	"github.com/cuongbtq/agricert/internal/bootstrap"
	"github.com/cuongbtq/agricert/internal/config"
	"github.com/cuongbtq/agricert/internal/metrics"
	"github.com/cuongbtq/agricert/internal/notify"
	"github.com/cuongbtq/agricert/internal/revocation"
	"github.com/cuongbtq/agricert/internal/storage/postgres"
	"github.com/cuongbtq/agricert/internal/verification"
	"github.com/cuongbtq/agricert/internal/webhook"
	"github.com/cuongbtq/agricert/migrations"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	logger := appLogger.Logger

	logger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("issuer_mode", cfg.Issuer.Mode),
	)

	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, cfg.App.Name, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(context.Background(), dbClient.GetDB()); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		logger.Info("Database migrations applied")
	}

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, false, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
	}

	redisClient, err := bootstrap.InitRedis(&cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	adapter, err := bootstrap.NewIssuer(&cfg.Issuer, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize issuer: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	db := dbClient.GetDB()
	jobs := postgres.NewJobStore(db, logger, cfg.Worker.MaxAttempts)
	certs := postgres.NewCertificateStore(db, logger)
	ledger := postgres.NewRevocationLedger(db, logger)

	var fetcher verification.Fetcher = verification.NewHTTPFetcher(&http.Client{Timeout: cfg.Verification.FetchTimeout})
	if redisClient != nil {
		fetcher = verification.NewCachedFetcher(fetcher, redisClient.Client, cfg.Verification.CacheTTL, logger)
	}

	deps := &handler.Dependencies{
		Logger:       logger,
		Jobs:         jobs,
		Certificates: certs,
		Verifier: verification.NewEngine(verification.Dependencies{
			Certificates: certs,
			Revocations:  ledger,
			Issuer:       adapter,
			Fetcher:      fetcher,
			Metrics:      m,
			Logger:       logger,
		}),
		Webhooks:    webhook.NewReconciler(adapter, certs, ledger, m, logger),
		Revocations: revocation.NewService(certs, ledger, logger),
	}
	if rabbitClient != nil {
		deps.Wakeups = notify.NewRabbitNotifier(rabbitClient, logger)
	}

	checks := map[string]router.HealthCheck{"database": dbClient.HealthCheck}
	if redisClient != nil {
		checks["redis"] = redisClient.HealthCheck
	}
	if rabbitClient != nil {
		checks["rabbitmq"] = rabbitClient.HealthCheck
	}

	r := initRouter(cfg, deps, checks)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies, checks map[string]router.HealthCheck) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, router.Options{
		ServiceName:  cfg.App.Name,
		Gatherer:     prometheus.DefaultGatherer,
		HealthChecks: checks,
	})
}
