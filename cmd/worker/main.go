package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iac-studio/dbstack/internal/metrics"
	"github.com/iac-studio/dbstack/internal/provisioner"
	"github.com/iac-studio/dbstack/internal/queue"
	"github.com/iac-studio/dbstack/internal/queue/tasks"
	"github.com/iac-studio/dbstack/internal/repository"
	"github.com/iac-studio/dbstack/internal/services"
	"github.com/iac-studio/dbstack/pkg/config"
	"github.com/iac-studio/dbstack/pkg/database"
	"github.com/iac-studio/dbstack/pkg/logger"
)

// metricsAddr is where the worker exposes /metrics; the API serves its own.
const metricsAddr = ":9091"

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	_ = rdb.Close()

	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}

	awsOpts := provisioner.AWSOptions{
		Region:          cfg.Stack.AWSRegion,
		Profile:         cfg.Stack.AWSProfile,
		Endpoint:        cfg.Stack.AWSEndpoint,
		AccessKeyID:     cfg.Stack.AWSAccessKeyID,
		SecretAccessKey: cfg.Stack.AWSSecretAccessKey,
	}
	awsCfg, err := provisioner.LoadAWSConfig(ctx, awsOpts)
	if err != nil {
		log.Fatal("failed to load aws config", zap.Error(err))
	}

	deploymentRepo := repository.NewDeploymentRepository(db)
	prov := provisioner.NewFromAWSConfig(awsCfg, awsOpts, provisioner.Options{
		AssetsBucket: cfg.Stack.AssetsBucket,
		PollInterval: cfg.Stack.DeployPollInterval,
		Timeout:      cfg.Stack.DeployTimeout,
	}, provisioner.NewDatabaseStateStore(deploymentRepo))

	// the worker only consumes tasks, so the service has no enqueuer
	deploySvc := services.NewDeploymentService(&cfg.Stack, deploymentRepo, nil)

	mux := asynq.NewServeMux()
	tasks.NewProvisionTaskHandler(prov, deploySvc).Register(mux)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
			Queues:      queue.Queues(),
			Logger:      logger.L().Sugar(),
		},
	)

	metricsSrv := &http.Server{
		Addr:              metricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Warn("metrics server stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("asynq worker starting",
			zap.Int("concurrency", cfg.AsynqConcurrency),
			zap.String("region", awsCfg.Region),
		)
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.L().Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.L().Error("worker stopped with error", zap.Error(err))
	}

	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
