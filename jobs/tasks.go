package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSelectionRecord writes one company selection to the audit table.
	TaskSelectionRecord = "selection:record"
	// TaskSelectionPrune removes audit rows past the retention window.
	TaskSelectionPrune = "selection:prune"
)

// SelectionRecordPayload describes a persisted company selection.
type SelectionRecordPayload struct {
	EventID          string    `json:"event_id"`
	SessionID        string    `json:"session_id"`
	CompanyID        string    `json:"company_id,omitempty"`
	CompanyName      string    `json:"company_name"`
	ConnectionStatus string    `json:"connection_status"`
	Mode             string    `json:"mode"`
	SelectedAt       time.Time `json:"selected_at"`
}

// SelectionPrunePayload configures the retention sweep.
type SelectionPrunePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewSelectionRecordTask constructs an Asynq task. The event id doubles as
// the task id so an enqueue retry cannot queue the same event twice.
func NewSelectionRecordTask(payload SelectionRecordPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(5)}
	if payload.EventID != "" {
		opts = append(opts, asynq.TaskID(payload.EventID))
	}
	return asynq.NewTask(TaskSelectionRecord, data, opts...), nil
}

// NewSelectionPruneTask constructs the retention task used by the scheduler.
func NewSelectionPruneTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(SelectionPrunePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSelectionPrune, data, asynq.Queue(QueueDefault)), nil
}
