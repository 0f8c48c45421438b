package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	branchPattern      = regexp.MustCompile(`^[A-Za-z0-9/_.-]+$`)
	executionIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
)

// TaskTables selects the database tables a launch operates on.
type TaskTables struct {
	UseExtraTable    bool   `json:"use_extra_table"`
	CompanyTable     string `json:"company_table" validate:"required"`
	SendQueueTable   string `json:"send_queue_table"`
	SubmissionsTable string `json:"submissions_table,omitempty"`
}

// TaskExecution shapes the cloud job: how many runs, how wide, which shard
// window.
type TaskExecution struct {
	RunTotal           int `json:"run_total" validate:"min=1"`
	Parallelism        int `json:"parallelism" validate:"min=1"`
	RunIndexBase       int `json:"run_index_base" validate:"min=0"`
	Shards             int `json:"shards" validate:"min=1"`
	WorkersPerWorkflow int `json:"workers_per_workflow" validate:"min=1"`
}

// TaskBatch carries batch-mode overrides. Zero values defer to policy
// defaults.
type TaskBatch struct {
	Enabled                      bool   `json:"enabled"`
	MaxParallelism               int    `json:"max_parallelism,omitempty" validate:"omitempty,min=1"`
	PreferSpot                   bool   `json:"prefer_spot"`
	AllowOnDemandFallback        bool   `json:"allow_on_demand_fallback"`
	MachineType                  string `json:"machine_type,omitempty"`
	SignedURLTTLHours            int    `json:"signed_url_ttl_hours,omitempty" validate:"omitempty,min=1,max=168"`
	SignedURLRefreshThresholdSec int    `json:"signed_url_refresh_threshold_seconds,omitempty" validate:"omitempty,min=60,max=604800"`
	VCPUPerWorker                int    `json:"vcpu_per_worker,omitempty" validate:"omitempty,min=1"`
	MemoryPerWorkerMB            int    `json:"memory_per_worker_mb,omitempty" validate:"omitempty,min=1"`
	MemoryBufferMB               int    `json:"memory_buffer_mb,omitempty" validate:"omitempty,min=0"`
	MaxAttempts                  int    `json:"max_attempts,omitempty" validate:"omitempty,min=1"`
}

// TaskMetadata is free-form trigger context recorded on the execution row.
type TaskMetadata struct {
	TriggeredAtJST string `json:"triggered_at_jst,omitempty"`
	GASTrigger     bool   `json:"gas_trigger,omitempty"`
}

// FormSenderTask is the dispatch request accepted by POST /v1/form-sender/tasks.
type FormSenderTask struct {
	ExecutionID        string        `json:"execution_id,omitempty" validate:"omitempty,max=128"`
	TargetingID        int64         `json:"targeting_id" validate:"required,min=1"`
	ClientConfigRef    string        `json:"client_config_ref" validate:"required,url"`
	ClientConfigObject string        `json:"client_config_object" validate:"required"`
	Tables             TaskTables    `json:"tables" validate:"required"`
	Execution          TaskExecution `json:"execution" validate:"required"`
	TestMode           bool          `json:"test_mode"`
	Branch             string        `json:"branch,omitempty" validate:"omitempty,max=255"`
	WorkflowTrigger    string        `json:"workflow_trigger"`
	Metadata           TaskMetadata  `json:"metadata"`
	CPUClass           string        `json:"cpu_class,omitempty" validate:"omitempty,oneof=standard low gcp_spot"`
	Mode               string        `json:"mode,omitempty" validate:"omitempty,oneof=cloud_run batch"`
	Batch              *TaskBatch    `json:"batch,omitempty"`
}

var taskValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate applies struct tags plus the constraints that tags cannot express:
// the branch and execution-id character rules and parallelism <= run_total.
func (t *FormSenderTask) Validate() error {
	if err := taskValidator.Struct(t); err != nil {
		return err
	}
	if t.Execution.Parallelism > t.Execution.RunTotal {
		return fmt.Errorf("execution.parallelism (%d) must not exceed run_total (%d)",
			t.Execution.Parallelism, t.Execution.RunTotal)
	}
	if t.ExecutionID != "" && !executionIDPattern.MatchString(t.ExecutionID) {
		return fmt.Errorf("execution_id must match [A-Za-z0-9-]+")
	}
	if t.Branch != "" {
		if strings.HasPrefix(t.Branch, "-") {
			return fmt.Errorf("branch must not start with '-'")
		}
		if !branchPattern.MatchString(t.Branch) {
			return fmt.Errorf("branch contains invalid characters")
		}
	}
	if !strings.HasPrefix(t.ClientConfigObject, "gs://") {
		return fmt.Errorf("client_config_object must be a gs:// URI")
	}
	if t.Batch != nil {
		if err := taskValidator.Struct(t.Batch); err != nil {
			return err
		}
	}
	return nil
}

// ResolvedMode returns the dispatch mode, defaulting to cloud_run.
func (t *FormSenderTask) ResolvedMode() string {
	if t.Mode == "batch" || (t.Batch != nil && t.Batch.Enabled) {
		return "batch"
	}
	return "cloud_run"
}
