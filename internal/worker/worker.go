// Package worker is the subprocess side of the orchestrator's process pool.
// A worker reads task envelopes from stdin, drives a browser through each
// company's form, and writes result envelopes to stdout as newline JSON.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/analyzer"
	"github.com/mitto-dev/mitto/internal/browser"
	"github.com/mitto-dev/mitto/internal/classify"
	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/models"
	"github.com/mitto-dev/mitto/internal/netsafe"
	"github.com/mitto-dev/mitto/internal/prohibition"
)

// Worker is one task-processing process.
type Worker struct {
	id       int
	cfg      *common.Config
	logger   arbor.ILogger
	session  *browser.Session
	analyzer *analyzer.Analyzer
	detector *prohibition.Detector

	out   *json.Encoder
	outMu sync.Mutex
}

// New creates a worker. The browser starts lazily on the first task so a
// worker can report ready quickly.
func New(id int, cfg *common.Config, logger arbor.ILogger) *Worker {
	return &Worker{
		id:       id,
		cfg:      cfg,
		logger:   logger,
		analyzer: analyzer.New(logger, cfg.Analyzer.ThresholdOverrides),
		detector: prohibition.NewDetector(logger),
		out:      json.NewEncoder(os.Stdout),
	}
}

// Run is the worker main loop: announce readiness, process tasks until a
// shutdown envelope or stdin EOF, clean up, announce shutdown.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	w.publish(&models.ResultEnvelope{
		TaskID:   common.NewTaskID(),
		WorkerID: w.id,
		Status:   models.StatusWorkerReady,
	})
	w.logger.Info().Int("worker_id", w.id).Msg("Worker ready")

	tasks := make(chan *models.TaskEnvelope)
	readErr := make(chan error, 1)
	go w.readTasks(tasks, readErr)

	defer func() {
		if w.session != nil {
			w.session.Close()
			w.session = nil
		}
		w.publish(&models.ResultEnvelope{
			TaskID:   common.NewTaskID(),
			WorkerID: w.id,
			Status:   models.StatusWorkerShutdown,
		})
		w.logger.Info().Int("worker_id", w.id).Msg("Worker shut down")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil && err != io.EOF {
				return fmt.Errorf("task stream: %w", err)
			}
			return nil
		case task, ok := <-tasks:
			if !ok {
				return nil
			}
			if task == nil || task.TaskType == models.TaskTypeShutdown {
				return nil
			}
			w.publish(w.processTask(ctx, task))
		}
	}
}

// readTasks decodes newline-JSON task envelopes from stdin.
func (w *Worker) readTasks(tasks chan<- *models.TaskEnvelope, readErr chan<- error) {
	defer close(tasks)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t models.TaskEnvelope
		if err := json.Unmarshal(line, &t); err != nil {
			w.logger.Warn().Err(err).Msg("Unparseable task line, skipping")
			continue
		}
		tasks <- &t
	}
	readErr <- scanner.Err()
}

func (w *Worker) publish(r *models.ResultEnvelope) {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	if err := w.out.Encode(r); err != nil {
		w.logger.Error().Err(err).Msg("Failed to write result envelope")
	}
}

// processTask runs one company submission end to end. Panics and errors are
// converted into ERROR envelopes; the orchestrator never loses a task.
func (w *Worker) processTask(ctx context.Context, task *models.TaskEnvelope) (result *models.ResultEnvelope) {
	start := time.Now()
	result = &models.ResultEnvelope{
		TaskID:   task.TaskID,
		WorkerID: w.id,
		Status:   models.StatusError,
	}
	if task.CompanyData != nil {
		result.RecordID = task.CompanyData.RecordID
	}
	defer func() {
		if r := recover(); r != nil {
			result.Status = models.StatusError
			result.ErrorType = classify.CodeSystem
			result.ErrorMessage = fmt.Sprintf("worker panic: %v", r)
			w.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Str("task_id", task.TaskID).Msg("Worker recovered from panic")
		}
		result.ProcessingTime = time.Since(start).Seconds()
	}()

	if task.CompanyData == nil || task.ClientData == nil {
		result.ErrorType = classify.CodeSystem
		result.ErrorMessage = "task missing company or client data"
		return result
	}
	company := task.CompanyData

	if err := netsafe.ValidateURL(company.FormURL); err != nil {
		result.Status = models.StatusFailed
		result.ErrorType = classify.CodeAccess
		result.ErrorMessage = fmt.Sprintf("unsafe form url: %v", err)
		return result
	}

	if w.session == nil {
		session, err := browser.NewSession(w.cfg.Browser, w.logger)
		if err != nil {
			result.ErrorType = classify.CodeSystem
			result.ErrorMessage = fmt.Sprintf("browser startup: %v", err)
			return result
		}
		w.session = session
	}

	// Hard per-task ceiling. Without it a wedged page can hold the worker
	// far past every individual wait.
	budget := w.taskBudget()
	taskCtx, cancel := context.WithTimeout(ctx, budget)
	outcome := w.submitForm(taskCtx, company, task.ClientData)
	deadlineErr := taskCtx.Err()
	cancel()
	outcome = capToBudget(outcome, deadlineErr, budget)

	result.Status = outcome.status
	result.ErrorType = outcome.errorType
	result.ErrorMessage = outcome.errorMessage
	result.BotProtectionDetected = outcome.botProtection
	result.AdditionalData = outcome.additionalData

	// Browser state is per-company: a wedged page must not leak into the
	// next task.
	if outcome.recycleBrowser {
		w.session.Close()
		w.session = nil
	}
	return result
}

// taskBudget is the per-task ceiling: the configured navigation, form and
// submit waits plus the JavaScript settle time.
func (w *Worker) taskBudget() time.Duration {
	b := w.cfg.Browser
	budget := b.NavigationTimeout + b.FormTimeout + b.SubmitTimeout + b.JavaScriptWaitTime
	if budget <= 0 {
		return 2 * time.Minute
	}
	return budget
}

// capToBudget converts a deadline expiry into a TIMEOUT error outcome. A
// submission that still succeeded at the edge is kept; everything else also
// recycles the browser, since a page that ate the whole budget is wedged.
func capToBudget(out *outcome, ctxErr error, budget time.Duration) *outcome {
	if !errors.Is(ctxErr, context.DeadlineExceeded) || out.status == models.StatusSuccess {
		return out
	}
	return &outcome{
		status:         models.StatusError,
		errorType:      classify.CodeTimeout,
		errorMessage:   fmt.Sprintf("task exceeded %s processing budget", budget),
		recycleBrowser: true,
	}
}
