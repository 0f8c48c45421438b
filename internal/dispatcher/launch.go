package dispatcher

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/cloudjobs"
	"github.com/mitto-dev/mitto/internal/models"
)

const (
	defaultVCPUPerWorker     = 1
	defaultMemoryPerWorkerMB = 2048
	defaultMemoryBufferMB    = 1024
	minMachineMemoryMB       = 1024
	lowMemoryWarnMB          = 8192
	fallbackMinVCPU          = 4
	fallbackMinMemoryMB      = 10240
)

var customMachinePattern = regexp.MustCompile(`^n2d-custom-(\d+)-(\d+)$`)

// executionMeta is the base64 JSON blob handed to worker runtimes.
type executionMeta struct {
	RunIndexBase       int  `json:"run_index_base"`
	Shards             int  `json:"shards"`
	WorkersPerWorkflow int  `json:"workers_per_workflow"`
	TestMode           bool `json:"test_mode"`
}

// LaunchPlan is the fully-derived cloud launch: env, sizing, identifiers.
type LaunchPlan struct {
	TaskCount   int
	Parallelism int
	Env         map[string]string
	Machine     *cloudjobs.MachineShape
}

// BuildLaunchPlan derives the cloud-job launch from a validated task. The
// env set is the complete contract with the worker runtime.
func BuildLaunchPlan(task *models.FormSenderTask, executionID, signedURL string, logger arbor.ILogger) (*LaunchPlan, error) {
	parallelism := task.Execution.Parallelism
	if parallelism > task.Execution.RunTotal {
		parallelism = task.Execution.RunTotal
	}
	if task.Batch != nil && task.Batch.MaxParallelism > 0 && parallelism > task.Batch.MaxParallelism {
		parallelism = task.Batch.MaxParallelism
	}

	meta, err := json.Marshal(executionMeta{
		RunIndexBase:       task.Execution.RunIndexBase,
		Shards:             task.Execution.Shards,
		WorkersPerWorkflow: task.Execution.WorkersPerWorkflow,
		TestMode:           task.TestMode,
	})
	if err != nil {
		return nil, fmt.Errorf("encode execution meta: %w", err)
	}

	env := map[string]string{
		"FORM_SENDER_CLIENT_CONFIG_URL":    signedURL,
		"FORM_SENDER_CLIENT_CONFIG_OBJECT": task.ClientConfigObject,
		"FORM_SENDER_CLIENT_CONFIG_PATH":   "/tmp/client_config.json",
		"FORM_SENDER_ENV":                  "cloud_run",
		"FORM_SENDER_LOG_SANITIZE":         "1",
		"FORM_SENDER_WORKFLOW_TRIGGER":     task.WorkflowTrigger,
		"FORM_SENDER_TOTAL_SHARDS":         strconv.Itoa(task.Execution.Shards),
		"FORM_SENDER_MAX_WORKERS":          strconv.Itoa(task.Execution.WorkersPerWorkflow),
		"FORM_SENDER_TARGETING_ID":         strconv.FormatInt(task.TargetingID, 10),
		"FORM_SENDER_TEST_MODE":            boolEnv(task.TestMode),
		"COMPANY_TABLE":                    task.Tables.CompanyTable,
		"SEND_QUEUE_TABLE":                 task.Tables.SendQueueTable,
		"FORM_SENDER_TABLE_MODE":           tableMode(task.Tables),
		"JOB_EXECUTION_ID":                 executionID,
		"JOB_EXECUTION_META":               base64.StdEncoding.EncodeToString(meta),
		"FORM_SENDER_CPU_CLASS":            task.CPUClass,
	}
	if task.Tables.SubmissionsTable != "" {
		env["SUBMISSIONS_TABLE"] = task.Tables.SubmissionsTable
	}
	if task.Branch != "" {
		env["FORM_SENDER_GIT_REF"] = task.Branch
		// Branch overrides may point at a private ref; the access token comes
		// from the dispatcher's own environment, never from the task payload.
		if token := os.Getenv("FORM_SENDER_GIT_TOKEN"); token != "" {
			env["FORM_SENDER_GIT_TOKEN"] = token
		}
	}

	plan := &LaunchPlan{
		TaskCount:   task.Execution.RunTotal,
		Parallelism: parallelism,
		Env:         env,
	}
	if task.ResolvedMode() == "batch" {
		plan.Machine = machineShape(task, logger)
	}
	return plan, nil
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func tableMode(t models.TaskTables) string {
	if t.UseExtraTable {
		return "extra"
	}
	return "default"
}

// machineShape computes the batch machine from per-worker sizing. A custom
// machine type that cannot hold the required memory falls back to a larger
// shape rather than failing at runtime.
func machineShape(task *models.FormSenderTask, logger arbor.ILogger) *cloudjobs.MachineShape {
	batch := task.Batch
	if batch == nil {
		batch = &models.TaskBatch{}
	}
	workers := task.Execution.WorkersPerWorkflow

	vcpuPerWorker := batch.VCPUPerWorker
	if vcpuPerWorker < 1 {
		vcpuPerWorker = defaultVCPUPerWorker
	}
	memPerWorker := batch.MemoryPerWorkerMB
	if memPerWorker <= 0 {
		memPerWorker = defaultMemoryPerWorkerMB
	}
	bufferMB := batch.MemoryBufferMB
	if bufferMB <= 0 {
		bufferMB = defaultMemoryBufferMB
	}

	vcpu := vcpuPerWorker * workers
	if vcpu < 1 {
		vcpu = 1
	}
	memoryMB := ((workers*memPerWorker + bufferMB + 255) / 256) * 256
	if memoryMB < minMachineMemoryMB {
		memoryMB = minMachineMemoryMB
	}

	machineType := batch.MachineType
	if m := customMachinePattern.FindStringSubmatch(machineType); m != nil {
		declaredMem, _ := strconv.Atoi(m[2])
		if declaredMem < memoryMB {
			fbVCPU := vcpu
			if fbVCPU < fallbackMinVCPU {
				fbVCPU = fallbackMinVCPU
			}
			fbMem := memoryMB
			if fbMem < fallbackMinMemoryMB {
				fbMem = fallbackMinMemoryMB
			}
			machineType = fmt.Sprintf("n2d-custom-%d-%d", fbVCPU, fbMem)
			logger.Warn().
				Str("requested", batch.MachineType).
				Str("fallback", machineType).
				Msg("Requested machine type cannot hold required memory, using fallback")
		}
	} else if machineType == "" {
		machineType = fmt.Sprintf("n2d-custom-%d-%d", vcpu, memoryMB)
	}

	if workers >= 4 && memoryMB < lowMemoryWarnMB {
		logger.Warn().
			Int("workers", workers).
			Int("memory_mb", memoryMB).
			Msg("Machine memory below recommended floor for worker count")
	}

	return &cloudjobs.MachineShape{
		MachineType:      machineType,
		VCPU:             vcpu,
		MemoryMB:         memoryMB,
		PreferSpot:       batch.PreferSpot,
		OnDemandFallback: batch.AllowOnDemandFallback,
		MaxAttempts:      batch.MaxAttempts,
	}
}
