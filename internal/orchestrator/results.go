package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"

	"github.com/mitto-dev/mitto/internal/classify"
	"github.com/mitto-dev/mitto/internal/models"
)

// SubmissionStore is the slice of the database layer the result path needs.
type SubmissionStore interface {
	Insert(ctx context.Context, s *models.Submission) error
}

// CompanyFlagStore updates the two company flags this system owns.
type CompanyFlagStore interface {
	MarkProhibitionDetected(ctx context.Context, recordID int64) error
	MarkBotProtectionDetected(ctx context.Context, recordID int64) error
}

// ResultWriter converts result envelopes into submission rows. Every write
// attaches the structured classification detail. The legacy instruction_valid
// flag is never written.
type ResultWriter struct {
	submissions SubmissionStore
	companies   CompanyFlagStore
	logger      arbor.ILogger
}

// NewResultWriter creates the database-facing result writer.
func NewResultWriter(submissions SubmissionStore, companies CompanyFlagStore, logger arbor.ILogger) *ResultWriter {
	return &ResultWriter{submissions: submissions, companies: companies, logger: logger}
}

// Persist writes one result as a submission row and updates company flags.
func (w *ResultWriter) Persist(ctx context.Context, item *PersistedResult) error {
	r := item.Result
	if r == nil || !r.IsTerminal() {
		return nil
	}

	httpStatus := 0
	if v, ok := r.AdditionalData["http_status"].(float64); ok {
		httpStatus = int(v)
	}
	detail := classify.ClassifyDetail(classify.Evidence{
		ErrorMessage: r.ErrorMessage,
		HTTPStatus:   httpStatus,
	})

	sub := &models.Submission{
		TargetingID: item.TargetingID,
		CompanyID:   r.RecordID,
		Success:     r.Status == models.StatusSuccess,
		ErrorType:   r.ErrorType,
		SubmittedAt: time.Now(),
	}
	if !sub.Success {
		sub.ClassifyDetail = map[string]any{
			"code":       detail.Code,
			"category":   detail.Category,
			"retryable":  detail.Retryable,
			"confidence": detail.Confidence,
		}
	}
	if r.Status == models.StatusProhibitionDetected {
		sub.ErrorType = classify.CodeProhibition
		sub.ClassifyDetail["failure_reason"] = "prohibition_detected"
		if err := w.companies.MarkProhibitionDetected(ctx, r.RecordID); err != nil {
			w.logger.Warn().Err(err).Int64("record_id", r.RecordID).Msg("Failed to set prohibition flag")
		}
	}
	if r.BotProtectionDetected {
		if err := w.companies.MarkBotProtectionDetected(ctx, r.RecordID); err != nil {
			w.logger.Warn().Err(err).Int64("record_id", r.RecordID).Msg("Failed to set bot-protection flag")
		}
	}

	if err := w.submissions.Insert(ctx, sub); err != nil {
		return fmt.Errorf("persist result record %d: %w", r.RecordID, err)
	}
	return nil
}

// ResultSink accepts terminal results and persists them in one of two modes:
// immediate (each result written under a counting semaphore) or buffered
// (mutex-guarded buffer flushed by size, age or back-pressure).
type ResultSink struct {
	writer    *ResultWriter
	overflow  *OverflowStore
	locks     *orderedLocks
	logger    arbor.ILogger
	immediate bool

	dbSem *semaphore.Weighted

	batchSize     int
	bufferTimeout time.Duration
	maxBufferSize int

	buffer    []*PersistedResult
	lastFlush time.Time

	written  int64
	fallback int64
}

// SinkConfig tunes the result sink.
type SinkConfig struct {
	Immediate           bool
	BatchSize           int
	BufferTimeout       time.Duration
	MaxBufferSize       int
	MaxParallelDBWrites int
}

// NewResultSink wires the sink. Zero config fields get production defaults.
func NewResultSink(writer *ResultWriter, overflow *OverflowStore, locks *orderedLocks, cfg SinkConfig, logger arbor.ILogger) *ResultSink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.BufferTimeout <= 0 {
		cfg.BufferTimeout = 30 * time.Second
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = 100
	}
	if cfg.MaxParallelDBWrites <= 0 {
		cfg.MaxParallelDBWrites = 5
	}
	return &ResultSink{
		writer:        writer,
		overflow:      overflow,
		locks:         locks,
		logger:        logger,
		immediate:     cfg.Immediate,
		dbSem:         semaphore.NewWeighted(int64(cfg.MaxParallelDBWrites)),
		batchSize:     cfg.BatchSize,
		bufferTimeout: cfg.BufferTimeout,
		maxBufferSize: cfg.MaxBufferSize,
		lastFlush:     time.Now(),
	}
}

// Accept takes one terminal result. In immediate mode it writes through with
// the disk-fallback ladder; in buffered mode it applies graduated
// back-pressure and appends to the buffer.
func (s *ResultSink) Accept(ctx context.Context, item *PersistedResult) error {
	if s.immediate {
		return s.writeThrough(ctx, item)
	}
	return s.acceptBuffered(ctx, item)
}

// writeThrough persists one result now: database, then overflow, then
// emergency, then error.
func (s *ResultSink) writeThrough(ctx context.Context, item *PersistedResult) error {
	if err := s.dbSem.Acquire(ctx, 1); err != nil {
		return err
	}
	err := s.writer.Persist(ctx, item)
	s.dbSem.Release(1)
	if err == nil {
		s.locks.buffer.Lock()
		s.written++
		s.locks.buffer.Unlock()
		return nil
	}
	s.logger.Warn().Err(err).Int64("record_id", item.Result.RecordID).Msg("Database write failed, using disk fallback")
	return s.fallbackToDisk(item, err)
}

func (s *ResultSink) fallbackToDisk(item *PersistedResult, cause error) error {
	if err := s.overflow.SaveOverflow(item); err == nil {
		s.locks.buffer.Lock()
		s.fallback++
		s.locks.buffer.Unlock()
		return nil
	}
	if err := s.overflow.SaveEmergency(item); err == nil {
		s.locks.buffer.Lock()
		s.fallback++
		s.locks.buffer.Unlock()
		return nil
	}
	return fmt.Errorf("all persistence paths failed for record %d: %w", item.Result.RecordID, cause)
}

// FlushDue reports whether the buffer timeout has elapsed. The orchestrator
// polls this from its housekeeping tick.
func (s *ResultSink) FlushDue() bool {
	if s.immediate {
		return false
	}
	s.locks.buffer.Lock()
	defer s.locks.buffer.Unlock()
	return len(s.buffer) > 0 && time.Since(s.lastFlush) >= s.bufferTimeout
}

// Flush writes out the whole buffer.
func (s *ResultSink) Flush(ctx context.Context) {
	s.flushN(ctx, -1)
}

// flushN drains up to n buffered results (n < 0 means all). The buffer is
// swapped out under the lock; writes happen outside it.
func (s *ResultSink) flushN(ctx context.Context, n int) {
	s.locks.buffer.Lock()
	if len(s.buffer) == 0 {
		s.locks.buffer.Unlock()
		return
	}
	if n < 0 || n > len(s.buffer) {
		n = len(s.buffer)
	}
	batch := s.buffer[:n]
	s.buffer = append([]*PersistedResult{}, s.buffer[n:]...)
	s.lastFlush = time.Now()
	s.locks.buffer.Unlock()

	for _, item := range batch {
		if err := s.dbSem.Acquire(ctx, 1); err != nil {
			s.fallbackToDisk(item, err)
			continue
		}
		err := s.writer.Persist(ctx, item)
		s.dbSem.Release(1)
		if err != nil {
			s.fallbackToDisk(item, err)
			continue
		}
		s.locks.buffer.Lock()
		s.written++
		s.locks.buffer.Unlock()
	}
}

// Stats returns (written, fallback, buffered) counters.
func (s *ResultSink) Stats() (int64, int64, int) {
	s.locks.buffer.Lock()
	defer s.locks.buffer.Unlock()
	return s.written, s.fallback, len(s.buffer)
}
