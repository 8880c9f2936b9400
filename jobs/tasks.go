package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuthzExpireSweep deactivates past-due role assignments.
	TaskAuthzExpireSweep = "authz:expire_sweep"
)

// ExpireSweepPayload parameterises one sweep run. The zero value sweeps with
// the wall clock, which is what the cron schedule enqueues.
type ExpireSweepPayload struct {
	// RequestedBy records who triggered a manual sweep, for the logs.
	RequestedBy string `json:"requested_by,omitempty"`
}

// NewExpireSweepTask constructs an Asynq task for the expiry sweep.
func NewExpireSweepTask(payload ExpireSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuthzExpireSweep, data), nil
}
