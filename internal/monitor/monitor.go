// Package monitor reconciles cloud-job lifecycles back onto job_executions
// rows. One monitor goroutine per running execution.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/cloudjobs"
	"github.com/mitto-dev/mitto/internal/models"
)

const (
	minInterval    = 30 * time.Second
	maxBoundEvents = 10
)

var jst = time.FixedZone("Asia/Tokyo", 9*60*60)

// ExecutionStore is the slice of the repository the monitor needs.
type ExecutionStore interface {
	Get(ctx context.Context, executionID string) (*models.JobExecution, error)
	UpdateStatus(ctx context.Context, executionID, status string, endedAt *time.Time) error
	UpdateMetadata(ctx context.Context, executionID string, patch map[string]any) error
}

// Monitor polls one cloud job until it reaches a terminal state, then
// records the outcome on the execution row.
type Monitor struct {
	executionID   string
	executionName string
	interval      time.Duration
	timeout       time.Duration
	client        cloudjobs.Client
	store         ExecutionStore
	logger        arbor.ILogger
	now           func() time.Time

	deletionLogged bool
}

// New creates a monitor for one execution. Intervals below 30 s are raised
// to 30 s.
func New(executionID, executionName string, interval, timeout time.Duration, client cloudjobs.Client, store ExecutionStore, logger arbor.ILogger) *Monitor {
	if interval < minInterval {
		interval = minInterval
	}
	if timeout <= 0 {
		timeout = 6 * time.Hour
	}
	return &Monitor{
		executionID:   executionID,
		executionName: executionName,
		interval:      interval,
		timeout:       timeout,
		client:        client,
		store:         store,
		logger:        logger,
		now:           time.Now,
	}
}

// Run polls until the job terminates, the row leaves the monitored states,
// the timeout passes, or ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	deadline := m.now().Add(m.timeout)
	log := m.logger.WithCorrelationId(m.executionID)

	for {
		done, err := m.poll(ctx)
		if err != nil {
			log.Warn().Err(err).Str("execution_id", m.executionID).Msg("Monitor iteration failed, will retry")
		}
		if done {
			return
		}
		if m.now().After(deadline) {
			m.recordTerminal(ctx, models.ExecutionStatusFailed, "TIMEOUT", "batch_timeout", nil)
			log.Warn().Str("execution_id", m.executionID).Msg("Monitor gave up at timeout")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.interval):
		}
	}
}

// poll runs one iteration. done=true means the monitor should stop.
func (m *Monitor) poll(ctx context.Context) (bool, error) {
	row, err := m.store.Get(ctx, m.executionID)
	if err != nil {
		return false, err
	}

	switch row.Status {
	case models.ExecutionStatusRunning:
		// keep watching
	case models.ExecutionStatusCancelled:
		if monitorStateTerminal(row.Metadata) {
			return true, nil
		}
	default:
		// Another actor finalized the row.
		return true, nil
	}

	job, err := m.client.GetJob(ctx, m.executionName)
	if errors.Is(err, cloudjobs.ErrNotFound) {
		m.recordTerminal(ctx, models.ExecutionStatusCancelled, cloudjobs.StateCancelled, "batch_job_not_found", nil)
		return true, nil
	}
	if cloudjobs.IsPermanent(err) {
		m.recordTerminal(ctx, models.ExecutionStatusFailed, cloudjobs.StateFailed, "batch_monitor_permanent_error", nil)
		return true, nil
	}
	if err != nil {
		// Retryable: stay alive and try next interval.
		return false, err
	}

	switch job.State {
	case cloudjobs.StateSucceeded:
		m.recordTerminal(ctx, models.ExecutionStatusSucceeded, cloudjobs.StateSucceeded, "", nil)
		return true, nil
	case cloudjobs.StateFailed:
		m.recordTerminal(ctx, models.ExecutionStatusFailed, cloudjobs.StateFailed, "batch_failed", boundEvents(job.Events))
		return true, nil
	case cloudjobs.StateCancelled, cloudjobs.StateCancellationInProgress:
		m.recordTerminal(ctx, models.ExecutionStatusCancelled, cloudjobs.StateCancelled, "batch_cancelled", nil)
		return true, nil
	case cloudjobs.StateDeletionInProgress:
		if !m.deletionLogged {
			m.deletionLogged = true
			m.patchMonitorState(ctx, cloudjobs.StateDeletionInProgress, "batch_deletion_in_progress", nil)
		}
		return false, nil
	default:
		return false, nil
	}
}

// recordTerminal writes the row status and the monitor metadata patch. Both
// writes are idempotent: replaying the same terminal state changes nothing.
func (m *Monitor) recordTerminal(ctx context.Context, rowStatus, monitorState, reason string, events []string) {
	ended := m.now()
	if err := m.store.UpdateStatus(ctx, m.executionID, rowStatus, &ended); err != nil {
		m.logger.Warn().Err(err).Str("execution_id", m.executionID).Str("status", rowStatus).
			Msg("Failed to finalize execution status")
	}
	m.patchMonitorState(ctx, monitorState, reason, events)
	m.logger.Info().
		Str("execution_id", m.executionID).
		Str("status", rowStatus).
		Str("monitor_state", monitorState).
		Str("reason", reason).
		Msg("Execution finalized")
}

func (m *Monitor) patchMonitorState(ctx context.Context, state, reason string, events []string) {
	monitorPatch := map[string]any{
		"state":       state,
		"recorded_at": m.now().In(jst).Format(time.RFC3339),
	}
	if reason != "" {
		monitorPatch["reason"] = reason
	}
	if len(events) > 0 {
		monitorPatch["events"] = events
	}
	patch := map[string]any{
		"batch": map[string]any{"monitor": monitorPatch},
	}
	if err := m.store.UpdateMetadata(ctx, m.executionID, patch); err != nil {
		m.logger.Warn().Err(err).Str("execution_id", m.executionID).Msg("Failed to patch monitor metadata")
	}
}

func monitorStateTerminal(metadata map[string]any) bool {
	batch, _ := metadata["batch"].(map[string]any)
	mon, _ := batch["monitor"].(map[string]any)
	state, _ := mon["state"].(string)
	switch state {
	case cloudjobs.StateSucceeded, cloudjobs.StateFailed, cloudjobs.StateCancelled, "TIMEOUT":
		return true
	}
	return false
}

func boundEvents(events []string) []string {
	if len(events) > maxBoundEvents {
		return events[len(events)-maxBoundEvents:]
	}
	return events
}
