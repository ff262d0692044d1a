package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/billing/creditnotes"
	"github.com/meridian-erp/meridian-erp/internal/billing/invoices"
	"github.com/meridian-erp/meridian-erp/internal/docflow"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/recon"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)

	exec := mutate.NewExecutor(pool)
	engine := docflow.NewEngine(pool)
	numbers := sequence.NewService(sequence.NewRepository(pool), exec)
	books := ledger.NewService(ledger.NewRepository(pool), numbers)

	invoiceRepo := invoices.NewRepository(pool)
	invoicesService := invoices.NewService(engine, invoiceRepo, exec, numbers, books)
	creditNotesService := creditnotes.NewService(
		engine, creditnotes.NewRepository(pool), exec, numbers, books, invoiceRepo)

	reconJob := jobs.NewReconScanJob(
		recon.NewRepository(pool), invoicesService, creditNotesService, logger, metrics, cfg.ReconGrace)

	reconTask, err := jobs.NewReconScanTask(jobs.ReconScanPayload{})
	if err != nil {
		logger.Error("build recon task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconScan, Handler: reconJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconCron, Task: reconTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
