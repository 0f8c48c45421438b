package models

import "time"

// Job execution statuses. A row in a terminal status never transitions back
// to running.
const (
	ExecutionStatusRunning                = "running"
	ExecutionStatusSucceeded              = "succeeded"
	ExecutionStatusFailed                 = "failed"
	ExecutionStatusCancelled              = "cancelled"
	ExecutionStatusCancellationInProgress = "cancellation_in_progress"
)

// JobExecution is the durable row tracking one cloud-batch launch.
type JobExecution struct {
	ExecutionID        string         `json:"execution_id"`
	TargetingID        int64          `json:"targeting_id"`
	RunIndexBase       int            `json:"run_index_base"`
	TaskCount          int            `json:"task_count"`
	Parallelism        int            `json:"parallelism"`
	Shards             int            `json:"shards"`
	WorkersPerWorkflow int            `json:"workers_per_workflow"`
	Status             string         `json:"status"`
	StartedAt          time.Time      `json:"started_at"`
	EndedAt            *time.Time     `json:"ended_at,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// IsTerminal reports whether the execution has reached a terminal status.
func (e *JobExecution) IsTerminal() bool {
	switch e.Status {
	case ExecutionStatusSucceeded, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// MonitorState is the reconciler's state sub-object stored at
// metadata.batch.monitor, deep-merged on each update.
type MonitorState struct {
	State      string   `json:"state"`
	Reason     string   `json:"reason,omitempty"`
	Events     []string `json:"events,omitempty"`
	RecordedAt string   `json:"recorded_at"`
}
