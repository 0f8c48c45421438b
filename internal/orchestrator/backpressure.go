package orchestrator

import (
	"context"
	"time"
)

// Back-pressure thresholds on buffer utilization u = |buffer| / max.
const (
	bpLevel1 = 0.80 // partial flush
	bpLevel2 = 0.90 // partial flush + pause
	bpLevel3 = 0.95 // forced flushes
	bpLevel4 = 1.00 // divert to disk
)

const (
	partialFlushFrac = 0.30
	partialFlushCap  = 50
	level2Pause      = 100 * time.Millisecond
	level3Flushes    = 3
	level3Spacing    = 500 * time.Millisecond
)

// acceptBuffered appends one result to the buffer, shedding load first when
// utilization is high. At full utilization the item bypasses the buffer and
// goes to disk so the buffer never grows unbounded.
func (s *ResultSink) acceptBuffered(ctx context.Context, item *PersistedResult) error {
	u := s.utilization()

	switch {
	case u >= bpLevel4:
		// Buffer full: this item goes straight to the disk ladder.
		return s.acceptAtCapacity(ctx, item)

	case u >= bpLevel3:
		for i := 0; i < level3Flushes && s.utilization() >= bpLevel2; i++ {
			s.Flush(ctx)
			if i < level3Flushes-1 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(level3Spacing):
				}
			}
		}
		if s.utilization() >= bpLevel2 {
			// Flushing did not help; treat as full.
			return s.acceptAtCapacity(ctx, item)
		}

	case u >= bpLevel2:
		s.partialFlush(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(level2Pause):
		}

	case u >= bpLevel1:
		s.partialFlush(ctx)
	}

	s.locks.buffer.Lock()
	s.buffer = append(s.buffer, item)
	size := len(s.buffer)
	due := size >= s.batchSize || float64(size) >= 0.9*float64(s.maxBufferSize)
	s.locks.buffer.Unlock()

	if due {
		s.Flush(ctx)
	}
	return nil
}

func (s *ResultSink) acceptAtCapacity(ctx context.Context, item *PersistedResult) error {
	if err := s.overflow.SaveOverflow(item); err == nil {
		s.countFallback()
		return nil
	}
	if err := s.writer.Persist(ctx, item); err == nil {
		s.locks.buffer.Lock()
		s.written++
		s.locks.buffer.Unlock()
		return nil
	}
	if err := s.overflow.SaveEmergency(item); err == nil {
		s.countFallback()
		return nil
	}
	return ErrQueueOverflow
}

// partialFlush drains 30% of the buffer, capped at 50 items.
func (s *ResultSink) partialFlush(ctx context.Context) {
	s.locks.buffer.Lock()
	n := int(float64(len(s.buffer)) * partialFlushFrac)
	s.locks.buffer.Unlock()
	if n < 1 {
		n = 1
	}
	if n > partialFlushCap {
		n = partialFlushCap
	}
	s.flushN(ctx, n)
}

func (s *ResultSink) utilization() float64 {
	s.locks.buffer.Lock()
	defer s.locks.buffer.Unlock()
	return float64(len(s.buffer)) / float64(s.maxBufferSize)
}

func (s *ResultSink) countFallback() {
	s.locks.buffer.Lock()
	s.fallback++
	s.locks.buffer.Unlock()
}
