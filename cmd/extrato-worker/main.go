package main

import (
	"context"
	"os"
	"time"

	"extrato/internal/amqp"
	"extrato/internal/cli"
	"extrato/internal/log"
	"extrato/internal/report"
	"extrato/internal/storage"
	"extrato/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting extrato-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Failed to resolve bucket timezone", log.FieldError, err)
		os.Exit(1)
	}

	db := cli.OpenDatabase(logger, cfg.SQLiteDBPath)
	defer db.Close()

	transactions := storage.NewTransactionRepo(db)
	tasks := storage.NewTaskRepo(db, cfg.ResultRetention)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	builder := report.NewBuilder(transactions, loc)
	reportWorker := worker.NewReportWorker(tasks, builder, cfg.SoftTimeout, cfg.HardTimeout)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		if err := amqpClient.Close(); err != nil {
			logger.Error("AMQP close failed", log.FieldError, err)
		}
	})

	// Consume report tasks with a bounded worker pool.
	go func() {
		logger.Info("Consuming report tasks",
			log.FieldQueue, cfg.AMQPQueue,
			log.FieldWorkers, cfg.WorkerCount)
		if err := amqpClient.ConsumeTasks(ctx, cfg.WorkerCount, reportWorker.HandleTask); err != nil {
			if err != context.Canceled {
				logger.Error("Task consumption failed", log.FieldError, err)
			}
		}
	}()

	// Periodically drop expired task envelopes and their results.
	go func() {
		ticker := time.NewTicker(cfg.PurgeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := tasks.PurgeExpired(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Purge of expired tasks failed", log.FieldError, err)
					continue
				}
				if purged > 0 {
					logger.InfoContext(ctx, "Purged expired tasks", log.FieldPurged, purged)
				}
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
