package common

import (
	"github.com/google/uuid"
)

// NewExecutionID generates a unique job-execution ID with the "exec-" prefix
// Format: exec-<uuid>
func NewExecutionID() string {
	return "exec-" + uuid.New().String()
}

// NewTaskID generates a unique task ID for a dispatched company task
func NewTaskID() string {
	return "task-" + uuid.New().String()
}
