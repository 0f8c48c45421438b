package controller

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/models"
)

const streamChunkSize = 10

// CandidateBatch is a fetched candidate set staged on disk. Staging keeps
// the full batch recoverable if the process dies mid-dispatch; the file is
// best-effort and removed on Close.
type CandidateBatch struct {
	companies []*models.Company
	path      string
	offset    int
	logger    arbor.ILogger
}

// StageBatch persists the candidate set to a JSON tempfile and returns a
// batch that streams it in chunks of 10.
func StageBatch(companies []*models.Company, logger arbor.ILogger) (*CandidateBatch, error) {
	f, err := os.CreateTemp("", "candidates_*.json")
	if err != nil {
		return nil, fmt.Errorf("create candidate tempfile: %w", err)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(companies); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("stage candidate batch: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close candidate tempfile: %w", err)
	}
	logger.Debug().
		Str("path", f.Name()).
		Int("count", len(companies)).
		Msg("Staged candidate batch")
	return &CandidateBatch{companies: companies, path: f.Name(), logger: logger}, nil
}

// LoadBatch restores a staged batch from disk, resuming from the start.
func LoadBatch(path string, logger arbor.ILogger) (*CandidateBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read staged batch: %w", err)
	}
	var companies []*models.Company
	if err := json.Unmarshal(data, &companies); err != nil {
		return nil, fmt.Errorf("decode staged batch: %w", err)
	}
	return &CandidateBatch{companies: companies, path: path, logger: logger}, nil
}

// Len returns the total batch size.
func (b *CandidateBatch) Len() int { return len(b.companies) }

// Remaining returns how many candidates have not been streamed yet.
func (b *CandidateBatch) Remaining() int { return len(b.companies) - b.offset }

// Next returns the next chunk of up to 10 candidates, or nil when drained.
func (b *CandidateBatch) Next() []*models.Company {
	if b.offset >= len(b.companies) {
		return nil
	}
	end := b.offset + streamChunkSize
	if end > len(b.companies) {
		end = len(b.companies)
	}
	chunk := b.companies[b.offset:end]
	b.offset = end
	return chunk
}

// Close removes the staging file.
func (b *CandidateBatch) Close() {
	if b.path == "" {
		return
	}
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		b.logger.Warn().Err(err).Str("path", b.path).Msg("Failed to remove staged batch file")
	}
	b.path = ""
}
