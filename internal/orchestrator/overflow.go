package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/models"
)

const (
	overflowDirName  = "form_sender_overflow"
	emergencyDirName = "form_sender_emergency"
	overflowMaxAge   = 24 * time.Hour
)

// PersistedResult is the on-disk form of a result that could not be written
// to the database in time.
type PersistedResult struct {
	TargetingID int64                  `json:"targeting_id"`
	Result      *models.ResultEnvelope `json:"result"`
	SavedAt     time.Time              `json:"saved_at"`
}

// OverflowStore is the disk-backed fallback queue for results. Overflow is
// the first fallback; emergency is the fallback's fallback. Files are
// replayed to the database on idle periods and at batch/shutdown boundaries,
// then deleted. Files older than 24 h are garbage-collected.
type OverflowStore struct {
	overflowDir  string
	emergencyDir string
	logger       arbor.ILogger
	gc           *cron.Cron
}

// NewOverflowStore creates the store rooted under the system temp dir.
func NewOverflowStore(logger arbor.ILogger) (*OverflowStore, error) {
	s := &OverflowStore{
		overflowDir:  filepath.Join(os.TempDir(), overflowDirName),
		emergencyDir: filepath.Join(os.TempDir(), emergencyDirName),
		logger:       logger,
	}
	for _, dir := range []string{s.overflowDir, s.emergencyDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create overflow dir %s: %w", dir, err)
		}
	}
	return s, nil
}

// StartGC schedules hourly garbage collection of stale files.
func (s *OverflowStore) StartGC() {
	if s.gc != nil {
		return
	}
	s.gc = cron.New()
	s.gc.AddFunc("@hourly", func() {
		removed := s.CollectGarbage()
		if removed > 0 {
			s.logger.Info().Int("removed", removed).Msg("Garbage-collected stale overflow files")
		}
	})
	s.gc.Start()
}

// StopGC stops the garbage-collection schedule.
func (s *OverflowStore) StopGC() {
	if s.gc != nil {
		s.gc.Stop()
		s.gc = nil
	}
}

// SaveOverflow writes the result to the overflow directory.
func (s *OverflowStore) SaveOverflow(item *PersistedResult) error {
	name := fmt.Sprintf("overflow_%d_%d.json", item.Result.RecordID, time.Now().Unix())
	return s.write(filepath.Join(s.overflowDir, name), item)
}

// SaveEmergency writes the result to the emergency directory. Last resort
// before raising.
func (s *OverflowStore) SaveEmergency(item *PersistedResult) error {
	name := fmt.Sprintf("emergency_%d_%d.json", item.Result.RecordID, time.Now().Unix())
	return s.write(filepath.Join(s.emergencyDir, name), item)
}

func (s *OverflowStore) write(path string, item *PersistedResult) error {
	if item.SavedAt.IsZero() {
		item.SavedAt = time.Now()
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode persisted result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write persisted result: %w", err)
	}
	s.logger.Debug().Str("path", path).Msg("Saved result to disk fallback")
	return nil
}

// Replay feeds every stored result to persist, deleting each file whose
// replay succeeds. Emergency files replay after overflow files. Returns the
// number of files successfully replayed.
func (s *OverflowStore) Replay(persist func(*PersistedResult) error) int {
	replayed := 0
	for _, dir := range []string{s.overflowDir, s.emergencyDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			var item PersistedResult
			if err := json.Unmarshal(data, &item); err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("Unreadable overflow file, skipping")
				continue
			}
			if err := persist(&item); err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("Overflow replay failed, keeping file")
				continue
			}
			os.Remove(path)
			replayed++
		}
	}
	return replayed
}

// Pending returns how many fallback files are waiting for replay.
func (s *OverflowStore) Pending() int {
	n := 0
	for _, dir := range []string{s.overflowDir, s.emergencyDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
				n++
			}
		}
	}
	return n
}

// CollectGarbage removes fallback files older than 24 h.
func (s *OverflowStore) CollectGarbage() int {
	removed := 0
	cutoff := time.Now().Add(-overflowMaxAge)
	for _, dir := range []string{s.overflowDir, s.emergencyDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil || entry.IsDir() {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if os.Remove(filepath.Join(dir, entry.Name())) == nil {
					removed++
				}
			}
		}
	}
	return removed
}
