package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/models"
)

type fakeSubmissionStore struct {
	mu      sync.Mutex
	rows    []*models.Submission
	failing bool
}

func (f *fakeSubmissionStore) Insert(_ context.Context, s *models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("connection refused")
	}
	f.rows = append(f.rows, s)
	return nil
}

func (f *fakeSubmissionStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeFlagStore struct {
	mu          sync.Mutex
	prohibited  []int64
	botDetected []int64
}

func (f *fakeFlagStore) MarkProhibitionDetected(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prohibited = append(f.prohibited, id)
	return nil
}

func (f *fakeFlagStore) MarkBotProtectionDetected(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.botDetected = append(f.botDetected, id)
	return nil
}

func tempOverflowStore(t *testing.T) *OverflowStore {
	t.Helper()
	dir := t.TempDir()
	s := &OverflowStore{
		overflowDir:  filepath.Join(dir, overflowDirName),
		emergencyDir: filepath.Join(dir, emergencyDirName),
		logger:       common.GetLogger(),
	}
	require.NoError(t, os.MkdirAll(s.overflowDir, 0o755))
	require.NoError(t, os.MkdirAll(s.emergencyDir, 0o755))
	return s
}

func resultFor(recordID int64, status string) *PersistedResult {
	return &PersistedResult{
		TargetingID: 7,
		Result: &models.ResultEnvelope{
			TaskID:   fmt.Sprintf("task-%d", recordID),
			RecordID: recordID,
			Status:   status,
		},
	}
}

func TestResultWriterPersistSuccess(t *testing.T) {
	subs := &fakeSubmissionStore{}
	flags := &fakeFlagStore{}
	w := NewResultWriter(subs, flags, common.GetLogger())

	require.NoError(t, w.Persist(context.Background(), resultFor(42, models.StatusSuccess)))
	require.Equal(t, 1, subs.count())
	row := subs.rows[0]
	assert.True(t, row.Success)
	assert.Equal(t, int64(7), row.TargetingID)
	assert.Equal(t, int64(42), row.CompanyID)
	assert.Nil(t, row.ClassifyDetail)
	assert.Empty(t, flags.prohibited)
}

func TestResultWriterPersistFailureAttachesDetail(t *testing.T) {
	subs := &fakeSubmissionStore{}
	w := NewResultWriter(subs, &fakeFlagStore{}, common.GetLogger())

	item := resultFor(42, models.StatusFailed)
	item.Result.ErrorType = "TIMEOUT"
	item.Result.ErrorMessage = "navigation timed out after 30s"
	require.NoError(t, w.Persist(context.Background(), item))

	row := subs.rows[0]
	assert.False(t, row.Success)
	assert.Equal(t, "TIMEOUT", row.ClassifyDetail["code"])
	assert.Equal(t, true, row.ClassifyDetail["retryable"])
}

func TestResultWriterProhibitionSetsFlag(t *testing.T) {
	subs := &fakeSubmissionStore{}
	flags := &fakeFlagStore{}
	w := NewResultWriter(subs, flags, common.GetLogger())

	require.NoError(t, w.Persist(context.Background(), resultFor(42, models.StatusProhibitionDetected)))

	row := subs.rows[0]
	assert.False(t, row.Success)
	assert.Equal(t, "PROHIBITION_DETECTED", row.ErrorType)
	assert.Equal(t, "prohibition_detected", row.ClassifyDetail["failure_reason"])
	assert.Equal(t, []int64{42}, flags.prohibited)
}

func TestResultWriterSkipsLifecycleEnvelopes(t *testing.T) {
	subs := &fakeSubmissionStore{}
	w := NewResultWriter(subs, &fakeFlagStore{}, common.GetLogger())

	require.NoError(t, w.Persist(context.Background(), resultFor(0, models.StatusWorkerReady)))
	assert.Zero(t, subs.count())
}

func newTestSink(t *testing.T, subs *fakeSubmissionStore, cfg SinkConfig) (*ResultSink, *OverflowStore) {
	t.Helper()
	overflow := tempOverflowStore(t)
	locks := &orderedLocks{}
	writer := NewResultWriter(subs, &fakeFlagStore{}, common.GetLogger())
	return NewResultSink(writer, overflow, locks, cfg, common.GetLogger()), overflow
}

func TestSinkImmediateWritesThrough(t *testing.T) {
	subs := &fakeSubmissionStore{}
	sink, overflow := newTestSink(t, subs, SinkConfig{Immediate: true})

	require.NoError(t, sink.Accept(context.Background(), resultFor(1, models.StatusSuccess)))
	assert.Equal(t, 1, subs.count())
	assert.Zero(t, overflow.Pending())
}

func TestSinkImmediateFallsBackToOverflow(t *testing.T) {
	subs := &fakeSubmissionStore{failing: true}
	sink, overflow := newTestSink(t, subs, SinkConfig{Immediate: true})

	require.NoError(t, sink.Accept(context.Background(), resultFor(1, models.StatusFailed)))
	assert.Zero(t, subs.count())
	assert.Equal(t, 1, overflow.Pending())
}

func TestSinkBufferedFlushesAtBatchSize(t *testing.T) {
	subs := &fakeSubmissionStore{}
	sink, _ := newTestSink(t, subs, SinkConfig{BatchSize: 3, MaxBufferSize: 100})

	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, sink.Accept(ctx, resultFor(i, models.StatusSuccess)))
	}
	assert.Equal(t, 3, subs.count())
	_, _, buffered := sink.Stats()
	assert.Zero(t, buffered)
}

func TestSinkBackpressureNeverExceedsCapacity(t *testing.T) {
	// Writes fail, so flushes cannot shrink the buffer; back-pressure must
	// divert to disk instead of growing past the cap.
	subs := &fakeSubmissionStore{failing: true}
	sink, overflow := newTestSink(t, subs, SinkConfig{BatchSize: 1000, MaxBufferSize: 10})

	ctx := context.Background()
	for i := int64(1); i <= 40; i++ {
		require.NoError(t, sink.Accept(ctx, resultFor(i, models.StatusFailed)))
		_, _, buffered := sink.Stats()
		assert.LessOrEqual(t, buffered, 20, "buffer exceeded twice its cap at item %d", i)
	}
	assert.Positive(t, overflow.Pending())
}

func TestOverflowReplayDeletesPersistedFiles(t *testing.T) {
	overflow := tempOverflowStore(t)
	require.NoError(t, overflow.SaveOverflow(resultFor(1, models.StatusFailed)))
	require.NoError(t, overflow.SaveEmergency(resultFor(2, models.StatusFailed)))
	require.Equal(t, 2, overflow.Pending())

	var replayedIDs []int64
	n := overflow.Replay(func(item *PersistedResult) error {
		replayedIDs = append(replayedIDs, item.Result.RecordID)
		return nil
	})
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []int64{1, 2}, replayedIDs)
	assert.Zero(t, overflow.Pending())
}

func TestOverflowReplayKeepsFailedFiles(t *testing.T) {
	overflow := tempOverflowStore(t)
	require.NoError(t, overflow.SaveOverflow(resultFor(1, models.StatusFailed)))

	n := overflow.Replay(func(*PersistedResult) error { return errors.New("db down") })
	assert.Zero(t, n)
	assert.Equal(t, 1, overflow.Pending())
}

func TestOverflowGarbageCollection(t *testing.T) {
	overflow := tempOverflowStore(t)
	require.NoError(t, overflow.SaveOverflow(resultFor(1, models.StatusFailed)))

	// Fresh files survive.
	assert.Zero(t, overflow.CollectGarbage())

	// Stale files go.
	entries, err := os.ReadDir(overflow.overflowDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	stale := filepath.Join(overflow.overflowDir, entries[0].Name())
	old := time.Now().Add(-25 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	assert.Equal(t, 1, overflow.CollectGarbage())
	assert.Zero(t, overflow.Pending())
}
