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
	"time"

	"github.com/cuongbtq/agricert/internal/batch"
	"github.com/cuongbtq/agricert/internal/bootstrap"
	"github.com/cuongbtq/agricert/internal/config"
	"github.com/cuongbtq/agricert/internal/metrics"
	"github.com/cuongbtq/agricert/internal/notify"
	"github.com/cuongbtq/agricert/internal/storage/postgres"
	"github.com/cuongbtq/agricert/internal/worker"
	"github.com/cuongbtq/agricert/migrations"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	logger := appLogger.Logger

	logger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", cfg.Worker.ID),
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
	}

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, true, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
	}

	adapter, err := bootstrap.NewIssuer(&cfg.Issuer, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize issuer: %w", err)
	}

	notifier := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.Notifier.RabbitMQ && rabbitClient != nil {
		notifier = append(notifier, notify.NewRabbitNotifier(rabbitClient, logger))
	}
	if cfg.Notifier.Kafka {
		kafkaCfg := bootstrap.KafkaConfig(&cfg.Kafka)
		kafkaClient, err := notify.NewKafkaClient(kafkaCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize Kafka: %w", err)
		}
		defer kafkaClient.Close()
		notifier = append(notifier, notify.NewKafkaNotifier(kafkaClient, kafkaCfg, logger))
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	db := dbClient.GetDB()
	jobs := postgres.NewJobStore(db, logger, cfg.Worker.MaxAttempts)
	certs := postgres.NewCertificateStore(db, logger)

	pool, err := worker.NewPool(worker.Config{
		WorkerID:           cfg.Worker.ID,
		PollInterval:       cfg.Worker.PollInterval,
		Concurrency:        cfg.Worker.Concurrency,
		JobTimeout:         cfg.Worker.JobTimeout,
		HeartbeatInterval:  cfg.Worker.HeartbeatInterval,
		ShutdownTimeout:    cfg.Worker.ShutdownTimeout,
		CredentialValidity: cfg.Worker.CredentialValidity,
		UpdateBatchStatus:  cfg.Worker.UpdateBatchStatus,
		IssuedBy:           cfg.Worker.IssuedBy,
	}, worker.Dependencies{
		Jobs:         jobs,
		Certificates: certs,
		Batches:      batch.NewPostgresRepository(db, logger),
		Issuer:       adapter,
		Notifier:     notifier,
		Metrics:      m,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	janitor := worker.NewJanitor(worker.JanitorConfig{
		Interval:   cfg.Worker.JanitorInterval,
		StaleAfter: cfg.Worker.StaleAfter,
		Retention:  cfg.Worker.JobRetention,
	}, jobs, certs, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pool.Run(gctx)
	})

	g.Go(func() error {
		janitor.Run(gctx)
		return nil
	})

	// A broken wake-up stream only costs latency, so its errors stay local
	if rabbitClient != nil && cfg.RabbitMQ.Queue.Name != "" {
		consumer := worker.NewWakeupConsumer(rabbitClient, pool, cfg.Worker.ID, logger)
		go func() {
			if err := consumer.Run(gctx); err != nil {
				logger.Warn("Wake-up consumer stopped, relying on polling", slog.String("error", err.Error()))
			}
		}()
	}

	if cfg.Server.Port > 0 {
		srv := metricsServer(cfg.Server.Port)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("Worker service started successfully")

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", slog.Any("error", err))
		return err
	}

	logger.Info("Worker service shutdown complete")
	return nil
}

// metricsServer exposes Prometheus metrics for the worker process
func metricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
