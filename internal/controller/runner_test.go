package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/models"
	"github.com/mitto-dev/mitto/internal/orchestrator"
	"github.com/mitto-dev/mitto/internal/storage/postgres"
)

type fakeCandidates struct {
	batches [][]*models.Company
	calls   int
}

func (f *fakeCandidates) FetchCandidates(_ context.Context, _ postgres.FetchParams) ([]*models.Company, error) {
	if f.calls >= len(f.batches) {
		return nil, nil
	}
	batch := f.batches[f.calls]
	f.calls++
	return batch, nil
}

type fakeCounter struct {
	successes int
}

func (f *fakeCounter) CountSuccessesToday(context.Context, int64) (int, error) {
	return f.successes, nil
}

type fakeProcessor struct {
	chunks   [][]*models.Company
	onChunk  func()
	succeeds bool
}

func (f *fakeProcessor) ProcessBatch(_ context.Context, _ *models.ClientConfig, companies []*models.Company) (orchestrator.BatchStats, error) {
	f.chunks = append(f.chunks, companies)
	if f.onChunk != nil {
		f.onChunk()
	}
	stats := orchestrator.BatchStats{Dispatched: len(companies)}
	if f.succeeds {
		stats.Succeeded = len(companies)
	} else {
		stats.Failed = len(companies)
	}
	return stats, nil
}

func runnerClient() *models.ClientConfig {
	return &models.ClientConfig{
		Client: models.ClientPersonal{
			CompanyName: "テスト株式会社",
			Email:       "test@example.com",
		},
		Targeting: models.ClientTargeting{
			TargetingID:    7,
			MaxDailySends:  100,
			SendDaysOfWeek: []int{0, 1, 2, 3, 4, 5, 6},
			SendStartTime:  "00:00",
			SendEndTime:    "23:59",
		},
	}
}

func companiesN(n int, base int64) []*models.Company {
	out := make([]*models.Company, n)
	for i := range out {
		out[i] = &models.Company{RecordID: base + int64(i), FormURL: "https://example.com/contact"}
	}
	return out
}

func TestRunnerProcessesUntilExhaustion(t *testing.T) {
	source := &fakeCandidates{batches: [][]*models.Company{companiesN(23, 1)}}
	proc := &fakeProcessor{succeeds: true}
	r, err := NewRunner(runnerClient(), source, &fakeCounter{}, proc, common.GetLogger())
	require.NoError(t, err)

	totals, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "candidates exhausted", totals.StopReason)
	assert.Equal(t, 23, totals.Fetched)
	assert.Equal(t, 23, totals.Dispatched)
	// 23 candidates stream as 10 + 10 + 3.
	require.Len(t, proc.chunks, 3)
	assert.Len(t, proc.chunks[0], 10)
	assert.Len(t, proc.chunks[2], 3)
}

func TestRunnerStopsWhenQuotaReached(t *testing.T) {
	source := &fakeCandidates{batches: [][]*models.Company{companiesN(5, 1)}}
	proc := &fakeProcessor{}
	counter := &fakeCounter{successes: 100}
	r, err := NewRunner(runnerClient(), source, counter, proc, common.GetLogger())
	require.NoError(t, err)

	totals, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, totals.StopReason, "daily quota reached")
	assert.Zero(t, totals.Dispatched)
	assert.Empty(t, proc.chunks)
}

func TestRunnerAbandonsStagedBatchWhenGateCloses(t *testing.T) {
	source := &fakeCandidates{batches: [][]*models.Company{companiesN(30, 1)}}
	counter := &fakeCounter{}
	proc := &fakeProcessor{succeeds: true}
	// The quota fills after the first chunk; the rest of the staged batch
	// must not be dispatched.
	proc.onChunk = func() { counter.successes = 100 }

	r, err := NewRunner(runnerClient(), source, counter, proc, common.GetLogger())
	require.NoError(t, err)

	totals, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, totals.StopReason, "daily quota reached")
	require.Len(t, proc.chunks, 1)
	assert.Equal(t, 10, totals.Dispatched)
}

func TestRunnerStopsWhenNoCandidates(t *testing.T) {
	r, err := NewRunner(runnerClient(), &fakeCandidates{}, &fakeCounter{}, &fakeProcessor{}, common.GetLogger())
	require.NoError(t, err)

	totals, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no candidates", totals.StopReason)
}

func TestRunnerRejectsUnsafeTargetingSQL(t *testing.T) {
	client := runnerClient()
	client.Targeting.TargetingSQL = "1=1; DROP TABLE companies"

	_, err := NewRunner(client, &fakeCandidates{}, &fakeCounter{}, &fakeProcessor{}, common.GetLogger())
	assert.ErrorIs(t, err, ErrUnsafeTargetingSQL)
}

func TestRunnerRunLifetime(t *testing.T) {
	r, err := NewRunner(runnerClient(), &fakeCandidates{}, &fakeCounter{}, &fakeProcessor{}, common.GetLogger())
	require.NoError(t, err)
	r.gate.startedAt = time.Now().Add(-6 * time.Hour)

	totals, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run lifetime exceeded", totals.StopReason)
}
