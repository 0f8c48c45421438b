package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/models"
	"github.com/mitto-dev/mitto/internal/orchestrator"
	"github.com/mitto-dev/mitto/internal/storage/postgres"
)

const fetchLimit = 1000

// CandidateSource fetches submittable companies for a targeting campaign.
type CandidateSource interface {
	FetchCandidates(ctx context.Context, p postgres.FetchParams) ([]*models.Company, error)
}

// SuccessCounter reads today's success count for quota gating.
type SuccessCounter interface {
	CountSuccessesToday(ctx context.Context, targetingID int64) (int, error)
}

// BatchProcessor consumes one chunk of candidates. The orchestrator
// implements it.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, client *models.ClientConfig, companies []*models.Company) (orchestrator.BatchStats, error)
}

// RunTotals accumulates outcome counts across a whole run.
type RunTotals struct {
	Fetched    int
	Dispatched int
	Succeeded  int
	Failed     int
	Prohibited int
	Skipped    int
	StopReason string
}

// Runner drives a full campaign run: gate, fetch, stage, dispatch in chunks,
// repeat until the gate closes or candidates run out.
type Runner struct {
	client      *models.ClientConfig
	gate        *Gate
	companies   CandidateSource
	submissions SuccessCounter
	processor   BatchProcessor
	logger      arbor.ILogger
}

// NewRunner validates the campaign inputs and builds a runner. The targeting
// SQL fragment and NG list are guarded here, before anything touches the
// database.
func NewRunner(client *models.ClientConfig, companies CandidateSource, submissions SuccessCounter, processor BatchProcessor, logger arbor.ILogger) (*Runner, error) {
	if err := ValidateTargetingSQL(client.Targeting.TargetingSQL); err != nil {
		return nil, err
	}
	if err := ValidateNGCompanies(client.Targeting.NGCompanies); err != nil {
		return nil, err
	}
	return &Runner{
		client:      client,
		gate:        NewGate(client.Targeting, time.Now()),
		companies:   companies,
		submissions: submissions,
		processor:   processor,
		logger:      logger,
	}, nil
}

// Run executes the campaign until a gate denial or candidate exhaustion.
// Gate denials are a normal end of run, not an error.
func (r *Runner) Run(ctx context.Context) (RunTotals, error) {
	totals := RunTotals{}
	targeting := r.client.Targeting
	log := r.logger

	for {
		decision, err := r.checkGate(ctx)
		if err != nil {
			return totals, err
		}
		if !decision.Allowed {
			totals.StopReason = decision.Reason
			log.Info().Str("reason", decision.Reason).Msg("Gate closed, run complete")
			return totals, nil
		}

		candidates, err := r.companies.FetchCandidates(ctx, postgres.FetchParams{
			TargetingID:  targeting.TargetingID,
			TargetingSQL: targeting.TargetingSQL,
			NGCompanies:  targeting.NGCompanies,
		})
		if err != nil {
			return totals, fmt.Errorf("fetch candidates: %w", err)
		}
		if len(candidates) == 0 {
			totals.StopReason = "no candidates"
			log.Info().Msg("No submittable candidates remain, run complete")
			return totals, nil
		}
		totals.Fetched += len(candidates)
		log.Info().
			Int64("targeting_id", targeting.TargetingID).
			Int("candidates", len(candidates)).
			Msg("Candidate batch fetched")

		stopped, err := r.processStaged(ctx, candidates, &totals)
		if err != nil {
			return totals, err
		}
		if stopped {
			return totals, nil
		}
		// A short fetch means the candidate pool is drained; refetching
		// would only re-offer the companies that just failed.
		if len(candidates) < fetchLimit {
			totals.StopReason = "candidates exhausted"
			log.Info().Int("fetched", totals.Fetched).Msg("Candidate pool exhausted, run complete")
			return totals, nil
		}
	}
}

// processStaged stages one fetched candidate set and streams it to the
// orchestrator in chunks, re-checking the gate between chunks. Returns
// true when the run should stop.
func (r *Runner) processStaged(ctx context.Context, candidates []*models.Company, totals *RunTotals) (bool, error) {
	batch, err := StageBatch(candidates, r.logger)
	if err != nil {
		return false, err
	}
	defer batch.Close()

	for chunk := batch.Next(); chunk != nil; chunk = batch.Next() {
		decision, err := r.checkGate(ctx)
		if err != nil {
			return false, err
		}
		if !decision.Allowed {
			totals.StopReason = decision.Reason
			r.logger.Info().
				Str("reason", decision.Reason).
				Int("remaining", batch.Remaining()+len(chunk)).
				Msg("Gate closed mid-batch, abandoning staged candidates")
			return true, nil
		}

		stats, err := r.processor.ProcessBatch(ctx, r.client, chunk)
		totals.Dispatched += stats.Dispatched
		totals.Succeeded += stats.Succeeded
		totals.Failed += stats.Failed
		totals.Prohibited += stats.Prohibited
		totals.Skipped += stats.Skipped
		if err != nil {
			return false, fmt.Errorf("process batch: %w", err)
		}
	}
	return false, nil
}

func (r *Runner) checkGate(ctx context.Context) (GateDecision, error) {
	successes, err := r.submissions.CountSuccessesToday(ctx, r.client.Targeting.TargetingID)
	if err != nil {
		return GateDecision{}, fmt.Errorf("count today's successes: %w", err)
	}
	return r.gate.Check(successes), nil
}
