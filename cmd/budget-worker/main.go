package main

import (
	"context"
	"errors"
	"os"
	"time"

	"budget/internal/amqp"
	"budget/internal/cli"
	"budget/internal/log"
	"budget/internal/worker"
)

const (
	reconnectDelay  = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg, err := cli.LoadConfig()
	if err != nil {
		log.New(log.DefaultConfig()).Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentWorker)
	logger.Info("Starting budget-worker", log.FieldBackend, cfg.DataBackend)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the worker")
		os.Exit(1)
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	b, err := cli.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open backend", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("Failed to close backend", "error", err)
		}
	}()

	consumer, err := amqp.NewClient(amqp.Config{
		URL:         cfg.AMQPURL,
		Exchange:    cfg.AMQPExchange,
		Queue:       cfg.AMQPQueue,
		ProgressKey: cfg.AMQPProgressKey,
	}, logger.For(log.ComponentAMQP))
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	runWorker := worker.NewRunWorker(cli.NewBudgetService(cfg, b, logger), logger.For(log.ComponentWorker))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			err := consumer.ConsumeRunRequests(ctx, runWorker.HandleRunRequest)
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			logger.Error("Message consumption stopped, reconnecting", "error", err, "delay", reconnectDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down worker...")

	select {
	case <-done:
		logger.Info("Worker shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("Shutdown timeout reached")
	}
}
