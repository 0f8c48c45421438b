// Package cloudjobs talks to the cloud batch/run control plane that hosts
// orchestrator jobs.
package cloudjobs

import (
	"context"
	"errors"
	"fmt"
)

// Job states the monitor interprets.
const (
	StateRunning                = "RUNNING"
	StateSucceeded              = "SUCCEEDED"
	StateFailed                 = "FAILED"
	StateCancelled              = "CANCELLED"
	StateCancellationInProgress = "CANCELLATION_IN_PROGRESS"
	StateDeletionInProgress     = "DELETION_IN_PROGRESS"
)

// ErrNotFound reports the job/execution no longer exists on the provider.
var ErrNotFound = errors.New("cloud job not found")

// PermanentError marks API failures that polling will never recover from.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent cloud error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a non-retryable API failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// JobStatus is the provider-side view of one launched job.
type JobStatus struct {
	Name   string   `json:"name"`
	State  string   `json:"state"`
	Events []string `json:"events,omitempty"`
}

// MachineShape is the computed batch machine configuration.
type MachineShape struct {
	MachineType      string `json:"machine_type"`
	VCPU             int    `json:"vcpu"`
	MemoryMB         int    `json:"memory_mb"`
	PreferSpot       bool   `json:"prefer_spot"`
	OnDemandFallback bool   `json:"on_demand_fallback"`
	MaxAttempts      int    `json:"max_attempts,omitempty"`
}

// RunRequest describes one job launch.
type RunRequest struct {
	JobName     string            `json:"job_name"`
	TaskCount   int               `json:"task_count"`
	Parallelism int               `json:"parallelism"`
	Env         map[string]string `json:"env"`
	Machine     *MachineShape     `json:"machine,omitempty"` // batch mode only
}

// RunResult carries the provider identifiers for a launched job.
type RunResult struct {
	OperationName string `json:"operation_name,omitempty"`
	ExecutionName string `json:"execution_name"`
}

// Client is the control-plane surface the dispatcher and monitor need.
type Client interface {
	// RunJob launches a job and returns its provider identifiers.
	RunJob(ctx context.Context, req RunRequest) (*RunResult, error)
	// GetJob returns the current state of a launched job. ErrNotFound when
	// the provider no longer knows it.
	GetJob(ctx context.Context, executionName string) (*JobStatus, error)
	// CancelJob requests cancellation of a running job.
	CancelJob(ctx context.Context, executionName string) error
}
