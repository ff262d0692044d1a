// Package jobs wires background work through Asynq: the periodic
// reconciliation scan plus ad-hoc runs enqueued over the API.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconScan re-drives ledger postings for issued documents that
	// missed theirs.
	TaskReconScan = "recon:scan"
)

// ReconScanPayload configures one reconciliation run. A zero Grace uses
// the scanner's default.
type ReconScanPayload struct {
	Grace time.Duration `json:"grace,omitempty"`
}

// NewReconScanTask constructs the Asynq task.
func NewReconScanTask(payload ReconScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconScan, data), nil
}
