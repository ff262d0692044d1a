package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/audit"
	audithttp "github.com/meridian-erp/meridian-erp/internal/audit/http"
	"github.com/meridian-erp/meridian-erp/internal/billing/creditnotes"
	"github.com/meridian-erp/meridian-erp/internal/billing/invoices"
	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/partners"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/units"
	"github.com/meridian-erp/meridian-erp/internal/mutate"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sales/orders"
	"github.com/meridian-erp/meridian-erp/internal/sales/quotes"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The API works without the cache; audit reads just skip it.
		logger.Warn("redis unavailable", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	exec := mutate.NewExecutor(pool)
	engine := docflow.NewEngine(pool)
	numbers := sequence.NewService(sequence.NewRepository(pool), exec)
	books := ledger.NewService(ledger.NewRepository(pool), numbers)

	unitsService := units.NewService(units.NewRepository(pool), exec)
	partnersService := partners.NewService(partners.NewRepository(pool), exec)
	quotesService := quotes.NewService(engine, exec, numbers)
	ordersService := orders.NewService(engine, exec, numbers)
	invoiceRepo := invoices.NewRepository(pool)
	invoicesService := invoices.NewService(engine, invoiceRepo, exec, numbers, books)
	creditNotesService := creditnotes.NewService(
		engine, creditnotes.NewRepository(pool), exec, numbers, books, invoiceRepo)
	auditService := audit.NewService(audit.NewRepository(pool), redisClient, logger)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		Pool:               pool,
		UnitsHandler:       units.NewHandler(logger, unitsService),
		PartnersHandler:    partners.NewHandler(logger, partnersService),
		QuotesHandler:      quotes.NewHandler(logger, quotesService),
		OrdersHandler:      orders.NewHandler(logger, ordersService),
		InvoicesHandler:    invoices.NewHandler(logger, invoicesService),
		CreditNotesHandler: creditnotes.NewHandler(logger, creditNotesService),
		LedgerHandler:      ledger.NewHandler(logger, books),
		AuditHandler:       audithttp.NewHandler(logger, auditService),
		JobsHandler:        jobs.NewHandler(logger, jobsClient),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
