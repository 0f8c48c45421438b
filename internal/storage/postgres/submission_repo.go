package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/models"
)

// SubmissionRepo persists append-only submission outcome rows.
type SubmissionRepo struct {
	db     *sql.DB
	table  string
	logger arbor.ILogger
}

// NewSubmissionRepo creates a submissions repository against the configured
// table.
func NewSubmissionRepo(db *sql.DB, table string, logger arbor.ILogger) *SubmissionRepo {
	if table == "" {
		table = "submissions"
	}
	return &SubmissionRepo{db: db, table: table, logger: logger}
}

// Insert appends one submission row.
func (r *SubmissionRepo) Insert(ctx context.Context, s *models.Submission) error {
	var detail []byte
	if s.ClassifyDetail != nil {
		var err error
		detail, err = json.Marshal(s.ClassifyDetail)
		if err != nil {
			return fmt.Errorf("encode classify detail: %w", err)
		}
	}
	return withRetry(ctx, r.logger, "insert_submission", func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO `+r.table+` (targeting_id, company_id, success, error_type, classify_detail, submitted_at)
			VALUES ($1,$2,$3,NULLIF($4,''),$5,$6)
		`, s.TargetingID, s.CompanyID, s.Success, s.ErrorType, detail, s.SubmittedAt)
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		return nil
	})
}

// CountSuccessesToday counts today's (JST) successful submissions for a
// targeting, used by the daily-quota gate.
func (r *SubmissionRepo) CountSuccessesToday(ctx context.Context, targetingID int64) (int, error) {
	var n int
	err := withRetry(ctx, r.logger, "count_successes_today", func() error {
		return r.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM `+r.table+`
			WHERE targeting_id = $1 AND success = true
			  AND (submitted_at AT TIME ZONE 'Asia/Tokyo')::date = (now() AT TIME ZONE 'Asia/Tokyo')::date
		`, targetingID).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count successes: %w", err)
	}
	return n, nil
}

// HasSuccess reports whether any successful submission exists for the pair.
func (r *SubmissionRepo) HasSuccess(ctx context.Context, targetingID, companyID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM `+r.table+`
			WHERE targeting_id = $1 AND company_id = $2 AND success = true
		)
	`, targetingID, companyID).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("check success: %w", err)
	}
	return exists, nil
}
