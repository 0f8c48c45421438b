package models

import "encoding/json"

// Task types carried in a TaskEnvelope.
const (
	TaskTypeCompany  = "company"
	TaskTypeShutdown = "shutdown"
)

// Result statuses published by workers.
const (
	StatusWorkerReady         = "WORKER_READY"
	StatusWorkerShutdown      = "WORKER_SHUTDOWN"
	StatusSuccess             = "SUCCESS"
	StatusFailed              = "FAILED"
	StatusError               = "ERROR"
	StatusProhibitionDetected = "PROHIBITION_DETECTED"
)

// TaskEnvelope is the in-memory unit of work handed to a worker process.
// Lifetime: enqueue -> worker consumes -> discarded.
type TaskEnvelope struct {
	TaskID      string          `json:"task_id"`
	TaskType    string          `json:"task_type"`
	CompanyData *Company        `json:"company_data,omitempty"`
	ClientData  *ClientConfig   `json:"client_data,omitempty"`
	TargetingID int64           `json:"targeting_id,omitempty"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

// ResultEnvelope is the per-task outcome published by a worker.
type ResultEnvelope struct {
	TaskID                  string          `json:"task_id"`
	WorkerID                int             `json:"worker_id"`
	RecordID                int64           `json:"record_id,omitempty"`
	Status                  string          `json:"status"`
	ErrorType               string          `json:"error_type,omitempty"`
	ErrorMessage            string          `json:"error_message,omitempty"`
	ProcessingTime          float64         `json:"processing_time,omitempty"` // seconds
	InstructionValidUpdated bool            `json:"instruction_valid_updated"`
	BotProtectionDetected   bool            `json:"bot_protection_detected"`
	AdditionalData          map[string]any  `json:"additional_data,omitempty"`
}

// IsTerminal reports whether the envelope represents a per-company outcome
// (as opposed to a worker lifecycle signal).
func (r *ResultEnvelope) IsTerminal() bool {
	switch r.Status {
	case StatusSuccess, StatusFailed, StatusError, StatusProhibitionDetected:
		return true
	}
	return false
}
