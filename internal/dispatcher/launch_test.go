package dispatcher

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/models"
)

func launchTask() *models.FormSenderTask {
	return &models.FormSenderTask{
		TargetingID:        42,
		ClientConfigRef:    "https://storage.googleapis.com/cfg-bucket/client.json",
		ClientConfigObject: testGSURI,
		Tables: models.TaskTables{
			CompanyTable:   "companies",
			SendQueueTable: "send_queue",
		},
		Execution: models.TaskExecution{
			RunTotal:           6,
			Parallelism:        4,
			RunIndexBase:       100,
			Shards:             2,
			WorkersPerWorkflow: 3,
		},
		WorkflowTrigger: "manual",
		CPUClass:        "standard",
	}
}

func TestBuildLaunchPlanEnv(t *testing.T) {
	task := launchTask()
	plan, err := BuildLaunchPlan(task, "exec-1", "https://signed.example", common.GetLogger())
	require.NoError(t, err)

	assert.Equal(t, 6, plan.TaskCount)
	assert.Equal(t, 4, plan.Parallelism)
	assert.Nil(t, plan.Machine, "cloud_run mode carries no machine shape")

	env := plan.Env
	assert.Equal(t, "https://signed.example", env["FORM_SENDER_CLIENT_CONFIG_URL"])
	assert.Equal(t, testGSURI, env["FORM_SENDER_CLIENT_CONFIG_OBJECT"])
	assert.Equal(t, "cloud_run", env["FORM_SENDER_ENV"])
	assert.Equal(t, "1", env["FORM_SENDER_LOG_SANITIZE"])
	assert.Equal(t, "2", env["FORM_SENDER_TOTAL_SHARDS"])
	assert.Equal(t, "3", env["FORM_SENDER_MAX_WORKERS"])
	assert.Equal(t, "42", env["FORM_SENDER_TARGETING_ID"])
	assert.Equal(t, "0", env["FORM_SENDER_TEST_MODE"])
	assert.Equal(t, "companies", env["COMPANY_TABLE"])
	assert.Equal(t, "default", env["FORM_SENDER_TABLE_MODE"])
	assert.Equal(t, "exec-1", env["JOB_EXECUTION_ID"])
	assert.NotContains(t, env, "SUBMISSIONS_TABLE")
	assert.NotContains(t, env, "FORM_SENDER_GIT_REF")
	assert.NotContains(t, env, "FORM_SENDER_GIT_TOKEN")

	raw, err := base64.StdEncoding.DecodeString(env["JOB_EXECUTION_META"])
	require.NoError(t, err)
	var meta executionMeta
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, 100, meta.RunIndexBase)
	assert.Equal(t, 2, meta.Shards)
	assert.Equal(t, 3, meta.WorkersPerWorkflow)
	assert.False(t, meta.TestMode)
}

func TestBuildLaunchPlanOptionalEnv(t *testing.T) {
	t.Setenv("FORM_SENDER_GIT_TOKEN", "test-token")
	task := launchTask()
	task.Tables.SubmissionsTable = "submissions_extra"
	task.Tables.UseExtraTable = true
	task.Branch = "feature/retune"
	task.TestMode = true

	plan, err := BuildLaunchPlan(task, "exec-2", "https://signed.example", common.GetLogger())
	require.NoError(t, err)

	assert.Equal(t, "submissions_extra", plan.Env["SUBMISSIONS_TABLE"])
	assert.Equal(t, "extra", plan.Env["FORM_SENDER_TABLE_MODE"])
	assert.Equal(t, "feature/retune", plan.Env["FORM_SENDER_GIT_REF"])
	assert.Equal(t, "test-token", plan.Env["FORM_SENDER_GIT_TOKEN"])
	assert.Equal(t, "1", plan.Env["FORM_SENDER_TEST_MODE"])
}

func TestBuildLaunchPlanTokenNeedsBranch(t *testing.T) {
	t.Setenv("FORM_SENDER_GIT_TOKEN", "test-token")
	plan, err := BuildLaunchPlan(launchTask(), "exec-4", "https://signed.example", common.GetLogger())
	require.NoError(t, err)
	assert.NotContains(t, plan.Env, "FORM_SENDER_GIT_TOKEN")
}

func TestBuildLaunchPlanClampsParallelism(t *testing.T) {
	task := launchTask()
	task.Execution.RunTotal = 3
	task.Execution.Parallelism = 3
	task.Batch = &models.TaskBatch{Enabled: true, MaxParallelism: 2}

	plan, err := BuildLaunchPlan(task, "exec-3", "https://signed.example", common.GetLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Parallelism)
	require.NotNil(t, plan.Machine, "batch mode computes a machine shape")
}

func TestMachineShapeDefaults(t *testing.T) {
	task := launchTask()
	task.Batch = &models.TaskBatch{Enabled: true}
	task.Execution.WorkersPerWorkflow = 4

	shape := machineShape(task, common.GetLogger())
	// 4 workers x 2048 MB + 1024 MB buffer, rounded up to a 256 MB step.
	assert.Equal(t, 4, shape.VCPU)
	assert.Equal(t, 9216, shape.MemoryMB)
	assert.Equal(t, "n2d-custom-4-9216", shape.MachineType)
}

func TestMachineShapeHonorsOverrides(t *testing.T) {
	task := launchTask()
	task.Execution.WorkersPerWorkflow = 2
	task.Batch = &models.TaskBatch{
		Enabled:           true,
		VCPUPerWorker:     2,
		MemoryPerWorkerMB: 3000,
		MemoryBufferMB:    500,
		PreferSpot:        true,
		MaxAttempts:       3,
	}

	shape := machineShape(task, common.GetLogger())
	assert.Equal(t, 4, shape.VCPU)
	assert.Equal(t, 6656, shape.MemoryMB) // ceil(6500/256)*256
	assert.True(t, shape.PreferSpot)
	assert.Equal(t, 3, shape.MaxAttempts)
}

func TestMachineShapeFallsBackWhenDeclaredTooSmall(t *testing.T) {
	task := launchTask()
	task.Execution.WorkersPerWorkflow = 4
	task.Batch = &models.TaskBatch{Enabled: true, MachineType: "n2d-custom-2-4096"}

	shape := machineShape(task, common.GetLogger())
	// Required memory is 9216 MB; fallback raises to the minimum fallback
	// shape of 4 vCPU / 10240 MB.
	assert.Equal(t, "n2d-custom-4-10240", shape.MachineType)
}

func TestMachineShapeKeepsSufficientDeclaredType(t *testing.T) {
	task := launchTask()
	task.Execution.WorkersPerWorkflow = 2
	task.Batch = &models.TaskBatch{Enabled: true, MachineType: "n2d-custom-8-16384"}

	shape := machineShape(task, common.GetLogger())
	assert.Equal(t, "n2d-custom-8-16384", shape.MachineType)
}

func TestMachineShapeSingleWorker(t *testing.T) {
	task := launchTask()
	task.Execution.WorkersPerWorkflow = 1
	task.Batch = &models.TaskBatch{Enabled: true, MemoryPerWorkerMB: 128}

	shape := machineShape(task, common.GetLogger())
	assert.Equal(t, 1, shape.VCPU)
	assert.Equal(t, 1280, shape.MemoryMB) // ceil((128 + 1024) / 256) * 256
	assert.GreaterOrEqual(t, shape.MemoryMB, minMachineMemoryMB)
}
