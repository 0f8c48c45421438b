package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/mitto-dev/mitto/internal/classify"
	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/models"
	"github.com/mitto-dev/mitto/internal/netsafe"
	"github.com/mitto-dev/mitto/internal/prohibition"
)

const (
	healthCheckInterval  = 10 * time.Second
	progressLogInterval  = 30 * time.Second
	overflowPollInterval = 30 * time.Second
	batchResultCeiling   = 5 * time.Minute
	noActivityCeiling    = 30 * time.Minute
	resultPollTimeout    = 100 * time.Millisecond
	prefilterTimeout     = 10 * time.Second
	maxFormURLFieldLen   = 2048
)

// activeContentTokens are rejected in any inbound company field. Companies
// are external data; nothing that can smuggle script reaches a worker.
var activeContentTokens = []string{"<script", "javascript:", "data:text/html"}

// BatchStats summarizes one processed batch.
type BatchStats struct {
	Dispatched  int            `json:"dispatched"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Prohibited  int            `json:"prohibited"`
	BotDetected int            `json:"bot_detected"`
	Skipped     int            `json:"skipped"`
	Reasons     map[string]int `json:"reasons,omitempty"`
}

// Orchestrator drives the worker pool through batches of candidate
// companies and persists their outcomes.
type Orchestrator struct {
	cfg       common.OrchestratorConfig
	pool      *ProcessPool
	taskQ     *TaskQueue
	resultQ   *ResultQueue
	sink      *ResultSink
	overflow  *OverflowStore
	writer    *ResultWriter
	detector  *prohibition.Detector
	companies CompanyFlagStore
	logger    arbor.ILogger

	httpClient *http.Client
	prefilter  *rate.Limiter

	locks     *orderedLocks
	startedAt time.Time
	stop      chan struct{}

	// abandoned tracks task IDs the batch ceiling gave up on. Their records
	// already have a synthetic TIMEOUT row; late worker results are dropped.
	abandoned map[string]int64
}

// New wires an orchestrator from its parts.
func New(cfg common.OrchestratorConfig, configPath string, submissions SubmissionStore, companies CompanyFlagStore, logger arbor.ILogger) (*Orchestrator, error) {
	overflow, err := NewOverflowStore(logger)
	if err != nil {
		return nil, err
	}
	locks := &orderedLocks{}
	writer := NewResultWriter(submissions, companies, logger)
	sink := NewResultSink(writer, overflow, locks, SinkConfig{
		Immediate:           cfg.ImmediateWrites,
		BatchSize:           cfg.BatchSize,
		BufferTimeout:       cfg.BufferTimeout,
		MaxBufferSize:       cfg.MaxBufferSize,
		MaxParallelDBWrites: cfg.MaxParallelDBWrites,
	}, logger)

	resultQ := NewResultQueue(cfg.ResultQueueSize)
	return &Orchestrator{
		cfg:       cfg,
		pool:      NewProcessPool(cfg.Workers, configPath, cfg.StartupTimeout, resultQ, locks, logger),
		taskQ:     NewTaskQueue(cfg.TaskQueueSize),
		resultQ:   resultQ,
		sink:      sink,
		overflow:  overflow,
		writer:    writer,
		detector:  prohibition.NewDetector(logger),
		companies: companies,
		logger:    logger,
		httpClient: &http.Client{
			Timeout: prefilterTimeout,
		},
		prefilter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		locks:     locks,
		stop:      make(chan struct{}),
		abandoned: make(map[string]int64),
	}, nil
}

// Start brings the worker pool up and begins background housekeeping.
// Failure to reach the configured worker count in time is a hard failure.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.startedAt = time.Now()
	if err := o.pool.Start(ctx); err != nil {
		return fmt.Errorf("worker pool startup: %w", err)
	}
	o.overflow.StartGC()
	go o.feedLoop(ctx)
	o.logger.Info().
		Int("workers", o.cfg.Workers).
		Bool("immediate_writes", o.cfg.ImmediateWrites).
		Msg("Orchestrator started")
	return nil
}

// feedLoop drains the bounded task queue into worker stdin pipes.
func (o *Orchestrator) feedLoop(ctx context.Context) {
	for {
		select {
		case <-o.stop:
			return
		default:
		}
		task, err := o.taskQ.Dequeue(ctx, resultPollTimeout)
		if err != nil {
			return
		}
		if task == nil {
			continue
		}
		if err := o.pool.Dispatch(task); err != nil {
			o.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Task dispatch failed")
			o.syntheticResult(ctx, task, classify.CodeSystem, err.Error())
		}
	}
}

// ProcessBatch validates, pre-filters and dispatches one chunk of candidate
// companies, then collects results until the batch completes or a ceiling
// fires.
func (o *Orchestrator) ProcessBatch(ctx context.Context, client *models.ClientConfig, companies []*models.Company) (BatchStats, error) {
	stats := BatchStats{Reasons: map[string]int{}}
	targetingID := client.Targeting.TargetingID

	pending := map[string]int64{}
	for _, company := range companies {
		if reason := o.validateCompany(company); reason != "" {
			stats.Skipped++
			stats.Reasons[reason]++
			o.logger.Warn().Int64("record_id", company.RecordID).Str("reason", reason).Msg("Company rejected before dispatch")
			continue
		}

		if o.prefilterProhibited(ctx, company) {
			// Local synthetic result: no worker sees this company.
			r := &models.ResultEnvelope{
				TaskID:       common.NewTaskID(),
				RecordID:     company.RecordID,
				Status:       models.StatusProhibitionDetected,
				ErrorType:    classify.CodeProhibition,
				ErrorMessage: "prohibition_detected",
			}
			if err := o.sink.Accept(ctx, &PersistedResult{TargetingID: targetingID, Result: r}); err != nil {
				return stats, err
			}
			stats.Prohibited++
			stats.Failed++
			stats.Reasons["prohibition_detected"]++
			continue
		}

		task := &models.TaskEnvelope{
			TaskID:      common.NewTaskID(),
			TaskType:    models.TaskTypeCompany,
			CompanyData: company,
			ClientData:  client,
			TargetingID: targetingID,
		}
		if err := o.taskQ.Enqueue(ctx, task); err != nil {
			stats.Skipped++
			stats.Reasons["queue_overflow"]++
			o.logger.Error().Err(err).Int64("record_id", company.RecordID).Msg("Task queue overflow, company skipped")
			continue
		}
		pending[task.TaskID] = company.RecordID
		stats.Dispatched++
	}

	if err := o.collectResults(ctx, targetingID, pending, &stats); err != nil {
		return stats, err
	}

	// Batch boundary: drain the buffer and retry anything parked on disk.
	o.sink.Flush(ctx)
	o.replayOverflow(ctx)
	return stats, nil
}

// collectResults waits for every pending task to produce a terminal result,
// running health checks and housekeeping on timers.
func (o *Orchestrator) collectResults(ctx context.Context, targetingID int64, pending map[string]int64, stats *BatchStats) error {
	if len(pending) == 0 {
		return nil
	}
	health := time.NewTicker(healthCheckInterval)
	progress := time.NewTicker(progressLogInterval)
	overflowPoll := time.NewTicker(overflowPollInterval)
	defer health.Stop()
	defer progress.Stop()
	defer overflowPoll.Stop()

	batchDeadline := time.After(o.batchCeiling())
	lastActivity := time.Now()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-batchDeadline:
			o.logger.Warn().Int("outstanding", len(pending)).Msg("Batch result ceiling reached, abandoning stragglers")
			for taskID, recordID := range pending {
				o.abandoned[taskID] = recordID
				o.syntheticResultRecord(ctx, targetingID, recordID, classify.CodeTimeout, "batch result ceiling reached")
				stats.Failed++
			}
			return nil
		case <-health.C:
			if time.Since(lastActivity) > noActivityCeiling {
				return fmt.Errorf("no worker activity for %s with %d tasks outstanding", noActivityCeiling, len(pending))
			}
			dead := o.pool.DeadWorkers(len(pending) > 0)
			if len(dead) > 0 {
				o.logger.Warn().Str("worker_ids", fmt.Sprint(dead)).Msg("Dead workers detected, restarting")
				if err := o.pool.RestartWorkers(ctx, dead); err != nil {
					o.logger.Error().Err(err).Msg("Worker restart failed")
				}
			}
		case <-progress.C:
			written, fallback, buffered := o.sink.Stats()
			o.logger.Info().
				Int("outstanding", len(pending)).
				Int64("written", written).
				Int64("fallback", fallback).
				Int("buffered", buffered).
				Msg("Batch progress")
			if o.sink.FlushDue() {
				o.sink.Flush(ctx)
			}
		case <-overflowPoll.C:
			o.replayOverflow(ctx)
		default:
			r, err := o.resultQ.Dequeue(ctx, resultPollTimeout)
			if err != nil {
				return err
			}
			if r == nil {
				continue
			}
			lastActivity = time.Now()
			if !r.IsTerminal() {
				continue
			}
			recordID, ok := pending[r.TaskID]
			if !ok {
				// The ceiling already wrote a TIMEOUT row for this record;
				// persisting the straggler would give it a second row.
				if rec, late := o.abandoned[r.TaskID]; late {
					delete(o.abandoned, r.TaskID)
					o.logger.Warn().
						Str("task_id", r.TaskID).
						Int64("record_id", rec).
						Str("status", r.Status).
						Msg("Dropping late result for abandoned task")
					continue
				}
			} else {
				delete(pending, r.TaskID)
				if r.RecordID == 0 {
					r.RecordID = recordID
				}
			}
			switch r.Status {
			case models.StatusSuccess:
				stats.Succeeded++
			case models.StatusProhibitionDetected:
				stats.Prohibited++
				stats.Failed++
			default:
				stats.Failed++
			}
			if r.BotProtectionDetected {
				stats.BotDetected++
			}
			if err := o.sink.Accept(ctx, &PersistedResult{TargetingID: targetingID, Result: r}); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateCompany applies the dispatch-boundary checks. Returns a rejection
// reason, or "" when the company may be dispatched.
func (o *Orchestrator) validateCompany(c *models.Company) string {
	if c == nil || c.RecordID <= 0 {
		return "invalid_record_id"
	}
	if len(c.FormURL) > maxFormURLFieldLen || len(c.CompanyName) > 512 {
		return "field_too_long"
	}
	lowURL := strings.ToLower(c.FormURL)
	if !strings.HasPrefix(lowURL, "http://") && !strings.HasPrefix(lowURL, "https://") {
		return "invalid_form_url"
	}
	for _, field := range []string{lowURL, strings.ToLower(c.CompanyName)} {
		for _, tok := range activeContentTokens {
			if strings.Contains(field, tok) {
				return "active_content"
			}
		}
	}
	return ""
}

// prefilterProhibited fetches the form URL over plain HTTP and runs the
// prohibition detector on the raw HTML. Detection at strict or moderate
// severity short-circuits worker dispatch. Fetch failures never block
// dispatch; the worker will surface the real error.
func (o *Orchestrator) prefilterProhibited(ctx context.Context, c *models.Company) bool {
	if err := netsafe.ValidateURL(c.FormURL); err != nil {
		return false
	}
	if err := o.prefilter.Wait(ctx); err != nil {
		return false
	}
	reqCtx, cancel := context.WithTimeout(ctx, prefilterTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.FormURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "ja")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return false
	}

	det := o.detector.Detect(string(body))
	if det.Detected && (det.Severity == prohibition.SeverityStrict || det.Severity == prohibition.SeverityModerate) {
		o.logger.Info().
			Int64("record_id", c.RecordID).
			Str("severity", string(det.Severity)).
			Int("matches", len(det.Matches)).
			Msg("Prohibition detected in pre-filter")
		return true
	}
	return false
}

func (o *Orchestrator) syntheticResult(ctx context.Context, task *models.TaskEnvelope, code, msg string) {
	var recordID int64
	if task.CompanyData != nil {
		recordID = task.CompanyData.RecordID
	}
	o.syntheticResultRecord(ctx, task.TargetingID, recordID, code, msg)
}

func (o *Orchestrator) syntheticResultRecord(ctx context.Context, targetingID, recordID int64, code, msg string) {
	r := &models.ResultEnvelope{
		TaskID:       common.NewTaskID(),
		RecordID:     recordID,
		Status:       models.StatusError,
		ErrorType:    code,
		ErrorMessage: msg,
	}
	if err := o.sink.Accept(ctx, &PersistedResult{TargetingID: targetingID, Result: r}); err != nil {
		o.logger.Error().Err(err).Int64("record_id", recordID).Msg("Failed to persist synthetic result")
	}
}

func (o *Orchestrator) replayOverflow(ctx context.Context) {
	replayed := o.overflow.Replay(func(item *PersistedResult) error {
		return o.writer.Persist(ctx, item)
	})
	if replayed > 0 {
		o.logger.Info().Int("replayed", replayed).Msg("Replayed overflow files to database")
	}
}

func (o *Orchestrator) batchCeiling() time.Duration {
	if o.cfg.BatchResultCeiling > 0 {
		return o.cfg.BatchResultCeiling
	}
	return batchResultCeiling
}

// Elapsed returns how long the orchestrator has been running.
func (o *Orchestrator) Elapsed() time.Duration {
	if o.startedAt.IsZero() {
		return 0
	}
	return time.Since(o.startedAt)
}

// Shutdown stops workers, drains the buffer and replays disk fallbacks.
func (o *Orchestrator) Shutdown(ctx context.Context, timeout time.Duration) error {
	close(o.stop)
	o.pool.Shutdown(timeout)
	o.sink.Flush(ctx)
	o.replayOverflow(ctx)
	o.overflow.StopGC()
	written, fallback, _ := o.sink.Stats()
	o.logger.Info().
		Int64("written", written).
		Int64("fallback", fallback).
		Msg("Orchestrator shut down")
	return nil
}
