package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/recon"
)

// ReconScanJob runs the ledger reconciliation scan.
type ReconScanJob struct {
	Repo     recon.Repository
	Invoices recon.InvoiceRedriver
	Notes    recon.NoteRedriver
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Grace    time.Duration
}

// NewReconScanJob initialises the reconciliation scan handler.
func NewReconScanJob(repo recon.Repository, inv recon.InvoiceRedriver, notes recon.NoteRedriver, logger *slog.Logger, metrics *jobmetrics.Metrics, grace time.Duration) *ReconScanJob {
	return &ReconScanJob{Repo: repo, Invoices: inv, Notes: notes, Logger: logger, Metrics: metrics, Grace: grace}
}

// Handle executes one reconciliation run.
func (j *ReconScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("recon scan: handler not configured")
	}
	var payload ReconScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	grace := j.Grace
	if payload.Grace > 0 {
		grace = payload.Grace
	}

	tracker := j.Metrics.Track(TaskReconScan)
	scanner := recon.NewScanner(j.Repo, j.Invoices, j.Notes, j.Logger, j.Metrics, grace)
	err := tracker.End(scanner.Run(ctx))
	if err != nil {
		j.Logger.Error("reconciliation scan failed", slog.Any("error", err))
		return err
	}
	return nil
}
