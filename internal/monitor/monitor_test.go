package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitto-dev/mitto/internal/cloudjobs"
	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	row      *models.JobExecution
	statuses []string
	patches  []map[string]any
}

func (f *fakeStore) Get(_ context.Context, _ string) (*models.JobExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := *f.row
	return &row, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, _ string, status string, endedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	f.row.Status = status
	f.row.EndedAt = endedAt
	return nil
}

func (f *fakeStore) UpdateMetadata(_ context.Context, _ string, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	return nil
}

type fakeJobs struct {
	status *cloudjobs.JobStatus
	err    error
}

func (f *fakeJobs) RunJob(context.Context, cloudjobs.RunRequest) (*cloudjobs.RunResult, error) {
	return nil, errors.New("not used")
}
func (f *fakeJobs) GetJob(context.Context, string) (*cloudjobs.JobStatus, error) {
	return f.status, f.err
}
func (f *fakeJobs) CancelJob(context.Context, string) error { return nil }

func runningRow() *models.JobExecution {
	return &models.JobExecution{
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusRunning,
		StartedAt:   time.Now(),
	}
}

func newTestMonitor(store *fakeStore, jobs *fakeJobs) *Monitor {
	return New("exec-1", "jobs/exec-1", time.Minute, time.Hour, jobs, store, common.GetLogger())
}

func monitorStateOf(patch map[string]any) (string, string) {
	batch := patch["batch"].(map[string]any)
	mon := batch["monitor"].(map[string]any)
	state, _ := mon["state"].(string)
	reason, _ := mon["reason"].(string)
	return state, reason
}

func TestMonitorSucceededFinalizesRow(t *testing.T) {
	store := &fakeStore{row: runningRow()}
	m := newTestMonitor(store, &fakeJobs{status: &cloudjobs.JobStatus{State: cloudjobs.StateSucceeded}})

	done, err := m.poll(context.Background())
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []string{models.ExecutionStatusSucceeded}, store.statuses)

	state, _ := monitorStateOf(store.patches[0])
	assert.Equal(t, cloudjobs.StateSucceeded, state)
	require.NotNil(t, store.row.EndedAt)
}

func TestMonitorNotFoundRecordsCancelled(t *testing.T) {
	store := &fakeStore{row: runningRow()}
	m := newTestMonitor(store, &fakeJobs{err: cloudjobs.ErrNotFound})

	done, err := m.poll(context.Background())
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []string{models.ExecutionStatusCancelled}, store.statuses)

	state, reason := monitorStateOf(store.patches[0])
	assert.Equal(t, cloudjobs.StateCancelled, state)
	assert.Equal(t, "batch_job_not_found", reason)
}

func TestMonitorPermanentErrorRecordsFailed(t *testing.T) {
	store := &fakeStore{row: runningRow()}
	m := newTestMonitor(store, &fakeJobs{err: &cloudjobs.PermanentError{Err: errors.New("invalid argument")}})

	done, err := m.poll(context.Background())
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []string{models.ExecutionStatusFailed}, store.statuses)

	_, reason := monitorStateOf(store.patches[0])
	assert.Equal(t, "batch_monitor_permanent_error", reason)
}

func TestMonitorRetryableErrorKeepsPolling(t *testing.T) {
	store := &fakeStore{row: runningRow()}
	m := newTestMonitor(store, &fakeJobs{err: errors.New("cloud api status 503")})

	done, err := m.poll(context.Background())
	assert.Error(t, err)
	assert.False(t, done)
	assert.Empty(t, store.statuses)
}

func TestMonitorFailedIncludesBoundedEvents(t *testing.T) {
	events := make([]string, 15)
	for i := range events {
		events[i] = "event"
	}
	store := &fakeStore{row: runningRow()}
	m := newTestMonitor(store, &fakeJobs{status: &cloudjobs.JobStatus{State: cloudjobs.StateFailed, Events: events}})

	done, _ := m.poll(context.Background())
	assert.True(t, done)

	batch := store.patches[0]["batch"].(map[string]any)
	mon := batch["monitor"].(map[string]any)
	assert.Len(t, mon["events"].([]string), maxBoundEvents)
}

func TestMonitorExitsWhenRowAlreadyFinal(t *testing.T) {
	row := runningRow()
	row.Status = models.ExecutionStatusSucceeded
	store := &fakeStore{row: row}
	m := newTestMonitor(store, &fakeJobs{status: &cloudjobs.JobStatus{State: cloudjobs.StateRunning}})

	done, err := m.poll(context.Background())
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, store.statuses)
}

func TestMonitorCancelledRowWithTerminalStateExits(t *testing.T) {
	row := runningRow()
	row.Status = models.ExecutionStatusCancelled
	row.Metadata = map[string]any{
		"batch": map[string]any{"monitor": map[string]any{"state": "CANCELLED"}},
	}
	store := &fakeStore{row: row}
	m := newTestMonitor(store, &fakeJobs{status: &cloudjobs.JobStatus{State: cloudjobs.StateRunning}})

	done, err := m.poll(context.Background())
	require.NoError(t, err)
	assert.True(t, done)
}

func TestMonitorDeletionInProgressLogsOnceAndContinues(t *testing.T) {
	store := &fakeStore{row: runningRow()}
	m := newTestMonitor(store, &fakeJobs{status: &cloudjobs.JobStatus{State: cloudjobs.StateDeletionInProgress}})

	done, err := m.poll(context.Background())
	require.NoError(t, err)
	assert.False(t, done)
	assert.Len(t, store.patches, 1)

	done, err = m.poll(context.Background())
	require.NoError(t, err)
	assert.False(t, done)
	assert.Len(t, store.patches, 1, "deletion progress recorded only once")
}

func TestMonitorTimeoutRecordsTerminal(t *testing.T) {
	store := &fakeStore{row: runningRow()}
	m := newTestMonitor(store, &fakeJobs{status: &cloudjobs.JobStatus{State: cloudjobs.StateRunning}})
	base := time.Now()
	calls := 0
	m.now = func() time.Time {
		calls++
		if calls > 2 {
			return base.Add(2 * time.Hour)
		}
		return base
	}
	m.interval = time.Millisecond

	m.Run(context.Background())
	assert.Equal(t, []string{models.ExecutionStatusFailed}, store.statuses)
	state, reason := monitorStateOf(store.patches[0])
	assert.Equal(t, "TIMEOUT", state)
	assert.Equal(t, "batch_timeout", reason)
}

func TestRegistryPreventsDoubleWatch(t *testing.T) {
	store := &fakeStore{row: runningRow()}
	jobs := &fakeJobs{status: &cloudjobs.JobStatus{State: cloudjobs.StateSucceeded}}
	r := NewRegistry(jobs, store, time.Minute, time.Hour, common.GetLogger())

	ctx := context.Background()
	r.Watch(ctx, "exec-1", "jobs/exec-1")
	r.Watch(ctx, "exec-1", "jobs/exec-1")
	r.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.LessOrEqual(t, len(store.statuses), 1)
}
