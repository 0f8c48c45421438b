package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/cloudjobs"
	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/models"
	"github.com/mitto-dev/mitto/internal/storage/postgres"
)

// ExecutionStore is the repository slice the HTTP handlers need.
type ExecutionStore interface {
	FindActive(ctx context.Context, targetingID int64, runIndexBase int) (*models.JobExecution, error)
	Insert(ctx context.Context, e *models.JobExecution) error
	Get(ctx context.Context, executionID string) (*models.JobExecution, error)
	List(ctx context.Context, status string, targetingID int64, limit int) ([]*models.JobExecution, error)
	UpdateStatus(ctx context.Context, executionID, status string, endedAt *time.Time) error
	UpdateMetadata(ctx context.Context, executionID string, patch map[string]any) error
}

// URLSigner refreshes client-config signed URLs before a launch.
type URLSigner interface {
	EnsureFresh(ctx context.Context, raw, gsURI string, ttlOverride, thresholdOverride time.Duration) (string, error)
}

// Watcher starts lifecycle monitors for launched executions.
type Watcher interface {
	Watch(ctx context.Context, executionID, executionName string)
}

// Handlers serves the dispatch API.
type Handlers struct {
	store    ExecutionStore
	jobs     cloudjobs.Client
	signer   URLSigner
	watcher  Watcher
	jobName  string
	watchCtx context.Context
	logger   arbor.ILogger
}

// NewHandlers wires the dispatch API. watchCtx bounds the lifetime of
// monitors started for launched jobs.
func NewHandlers(store ExecutionStore, jobs cloudjobs.Client, signer URLSigner, watcher Watcher, jobName string, watchCtx context.Context, logger arbor.ILogger) *Handlers {
	return &Handlers{
		store:    store,
		jobs:     jobs,
		signer:   signer,
		watcher:  watcher,
		jobName:  jobName,
		watchCtx: watchCtx,
		logger:   logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health reports service liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ValidateConfig validates a dispatch request without launching anything.
func (h *Handlers) ValidateConfig(w http.ResponseWriter, r *http.Request) {
	var task models.FormSenderTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := task.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "valid"})
}

// DispatchTask validates, dedupes, refreshes the config URL, launches the
// cloud job, records the execution row, and starts its monitor.
func (h *Handlers) DispatchTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var task models.FormSenderTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := task.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// One active launch per (targeting, run window).
	if existing, err := h.store.FindActive(ctx, task.TargetingID, task.Execution.RunIndexBase); err == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":           "duplicate",
			"job_execution_id": existing.ExecutionID,
		})
		return
	} else if !errors.Is(err, postgres.ErrNotFound) {
		h.logger.Error().Err(err).Msg("Duplicate check failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	executionID := task.ExecutionID
	if executionID == "" {
		executionID = common.NewExecutionID()
	}
	log := h.logger.WithCorrelationId(executionID)

	var ttlOverride, thresholdOverride time.Duration
	if task.Batch != nil {
		ttlOverride = time.Duration(task.Batch.SignedURLTTLHours) * time.Hour
		thresholdOverride = time.Duration(task.Batch.SignedURLRefreshThresholdSec) * time.Second
	}
	signedURL, err := h.signer.EnsureFresh(ctx, task.ClientConfigRef, task.ClientConfigObject, ttlOverride, thresholdOverride)
	if err != nil {
		if errors.Is(err, ErrSignedURLPolicy) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		log.Error().Err(err).Msg("Signed URL refresh failed")
		writeError(w, http.StatusInternalServerError, "signed url refresh failed")
		return
	}

	plan, err := BuildLaunchPlan(&task, executionID, signedURL, log)
	if err != nil {
		log.Error().Err(err).Msg("Launch plan build failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	row := &models.JobExecution{
		ExecutionID:        executionID,
		TargetingID:        task.TargetingID,
		RunIndexBase:       task.Execution.RunIndexBase,
		TaskCount:          plan.TaskCount,
		Parallelism:        plan.Parallelism,
		Shards:             task.Execution.Shards,
		WorkersPerWorkflow: task.Execution.WorkersPerWorkflow,
		Status:             models.ExecutionStatusRunning,
		StartedAt:          time.Now(),
		Metadata: map[string]any{
			"request": map[string]any{
				"mode":             task.ResolvedMode(),
				"workflow_trigger": task.WorkflowTrigger,
				"test_mode":        task.TestMode,
				"cpu_class":        task.CPUClass,
				"gas_trigger":      task.Metadata.GASTrigger,
				"triggered_at_jst": task.Metadata.TriggeredAtJST,
			},
		},
	}
	if err := h.store.Insert(ctx, row); err != nil {
		log.Error().Err(err).Msg("Execution insert failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	res, err := h.jobs.RunJob(ctx, cloudjobs.RunRequest{
		JobName:     h.jobName,
		TaskCount:   plan.TaskCount,
		Parallelism: plan.Parallelism,
		Env:         plan.Env,
		Machine:     plan.Machine,
	})
	if err != nil {
		log.Error().Err(err).Msg("Cloud job launch failed")
		ended := time.Now()
		if uerr := h.store.UpdateStatus(ctx, executionID, models.ExecutionStatusFailed, &ended); uerr != nil {
			log.Warn().Err(uerr).Msg("Failed to mark execution failed after launch error")
		}
		writeError(w, http.StatusInternalServerError, "cloud job launch failed")
		return
	}

	patch := map[string]any{
		"batch": map[string]any{
			"job_name": res.ExecutionName,
		},
	}
	if res.OperationName != "" {
		patch["batch"].(map[string]any)["operation"] = res.OperationName
	}
	if err := h.store.UpdateMetadata(ctx, executionID, patch); err != nil {
		log.Warn().Err(err).Msg("Failed to record launch identifiers")
	}

	h.watcher.Watch(h.watchCtx, executionID, res.ExecutionName)

	log.Info().
		Int64("targeting_id", task.TargetingID).
		Int("task_count", plan.TaskCount).
		Int("parallelism", plan.Parallelism).
		Str("mode", task.ResolvedMode()).
		Msg("Cloud job dispatched")

	resp := map[string]string{
		"status":           "queued",
		"job_execution_id": executionID,
	}
	if res.OperationName != "" {
		resp["cloud_run_operation"] = res.OperationName
	}
	writeJSON(w, http.StatusOK, resp)
}

type refreshRequest struct {
	URL                     string `json:"url"`
	Object                  string `json:"object"`
	TTLHours                int    `json:"ttl_hours,omitempty"`
	RefreshThresholdSeconds int    `json:"refresh_threshold_seconds,omitempty"`
}

// RefreshSignedURL validates and, if needed, re-signs a config URL.
func (h *Handlers) RefreshSignedURL(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Object == "" {
		writeError(w, http.StatusBadRequest, "object is required")
		return
	}
	fresh, err := h.signer.EnsureFresh(r.Context(), req.URL, req.Object,
		time.Duration(req.TTLHours)*time.Hour,
		time.Duration(req.RefreshThresholdSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, ErrSignedURLPolicy) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Signed URL refresh failed")
		writeError(w, http.StatusInternalServerError, "signed url refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": fresh})
}

// ListExecutions returns recent executions filtered by status / targeting.
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	var targetingID int64
	if v := r.URL.Query().Get("targeting_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "targeting_id must be an integer")
			return
		}
		targetingID = n
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	executions, err := h.store.List(r.Context(), status, targetingID, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Execution list failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": executions,
		"count":      len(executions),
	})
}

// CancelExecution cancels the cloud job behind a running execution and
// finalizes its row. Cancelling an already-terminal row is a no-op.
func (h *Handlers) CancelExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := chi.URLParam(r, "executionID")
	log := h.logger.WithCorrelationId(executionID)

	row, err := h.store.Get(ctx, executionID)
	if errors.Is(err, postgres.ErrNotFound) {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Execution lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if row.IsTerminal() {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":           row.Status,
			"job_execution_id": executionID,
		})
		return
	}

	if name := executionNameOf(row.Metadata); name != "" {
		if err := h.jobs.CancelJob(ctx, name); err != nil && !errors.Is(err, cloudjobs.ErrNotFound) {
			log.Error().Err(err).Msg("Cloud job cancel failed")
			writeError(w, http.StatusInternalServerError, "cloud job cancel failed")
			return
		}
	}

	ended := time.Now()
	if err := h.store.UpdateStatus(ctx, executionID, models.ExecutionStatusCancelled, &ended); err != nil {
		log.Error().Err(err).Msg("Failed to finalize cancelled execution")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	log.Info().Msg("Execution cancelled")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":           "cancelled",
		"job_execution_id": executionID,
	})
}

func executionNameOf(metadata map[string]any) string {
	batch, _ := metadata["batch"].(map[string]any)
	name, _ := batch["job_name"].(string)
	return name
}
