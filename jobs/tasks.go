package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverdueSweep runs the daily overdue sweep.
	TaskOverdueSweep = "collections:overdue_sweep"
	// TaskBulkEscalate escalates pending late payments past a threshold.
	TaskBulkEscalate = "collections:bulk_escalate"
)

// BulkEscalatePayload parameterizes a scheduled escalation run.
type BulkEscalatePayload struct {
	DaysThreshold int `json:"days_threshold"`
}

// NewOverdueSweepTask constructs the sweep task.
func NewOverdueSweepTask() *asynq.Task {
	return asynq.NewTask(TaskOverdueSweep, nil)
}

// NewBulkEscalateTask constructs an escalation task.
func NewBulkEscalateTask(payload BulkEscalatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBulkEscalate, data), nil
}
