package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/models"
)

const candidateFetchLimit = 1000

// CompanyRepo reads candidate company rows and writes the two flags this
// system owns.
type CompanyRepo struct {
	db          *sql.DB
	table       string
	subTable    string
	logger      arbor.ILogger
	randomInt63 func(n int64) int64
}

// NewCompanyRepo creates a companies repository against the configured
// company and submissions tables.
func NewCompanyRepo(db *sql.DB, table, submissionsTable string, logger arbor.ILogger) *CompanyRepo {
	if table == "" {
		table = "companies"
	}
	if submissionsTable == "" {
		submissionsTable = "submissions"
	}
	return &CompanyRepo{
		db:          db,
		table:       table,
		subTable:    submissionsTable,
		logger:      logger,
		randomInt63: rand.Int63n,
	}
}

// FetchParams narrows a candidate fetch. TargetingSQL must already have
// passed the controller's guard; it is appended verbatim as an AND fragment.
type FetchParams struct {
	TargetingID  int64
	TargetingSQL string
	NGCompanies  string
	Limit        int
}

// MaxID returns the highest company id, or 0 when the table is empty.
func (r *CompanyRepo) MaxID(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := withRetry(ctx, r.logger, "company_max_id", func() error {
		return r.db.QueryRowContext(ctx, `SELECT MAX(id) FROM `+r.table).Scan(&max)
	})
	if err != nil {
		return 0, fmt.Errorf("max company id: %w", err)
	}
	return max.Int64, nil
}

// FetchCandidates selects up to 1000 submittable companies starting from a
// random id. Companies with no prior submission come first; only when those
// run short are all-failure companies included. Companies with any prior
// success are never returned. When the random window is thin, a supplement
// pass from id 1 fills the remainder, excluding rows already taken.
func (r *CompanyRepo) FetchCandidates(ctx context.Context, p FetchParams) ([]*models.Company, error) {
	limit := p.Limit
	if limit <= 0 || limit > candidateFetchLimit {
		limit = candidateFetchLimit
	}
	maxID, err := r.MaxID(ctx)
	if err != nil {
		return nil, err
	}
	if maxID == 0 {
		return nil, nil
	}
	startID := r.randomInt63(maxID) + 1

	seen := map[int64]bool{}
	var out []*models.Company

	// Phase 1: never submitted; phase 2: all prior attempts failed.
	for _, phase := range []string{phaseNeverTried, phaseAllFailures} {
		for _, fromID := range []int64{startID, 1} {
			if len(out) >= limit {
				return out, nil
			}
			rows, err := r.fetchPhase(ctx, p, phase, fromID, limit-len(out))
			if err != nil {
				return nil, err
			}
			for _, c := range rows {
				if seen[c.RecordID] {
					continue
				}
				seen[c.RecordID] = true
				out = append(out, c)
			}
		}
	}
	return out, nil
}

const (
	phaseNeverTried  = "never_tried"
	phaseAllFailures = "all_failures"
)

func (r *CompanyRepo) fetchPhase(ctx context.Context, p FetchParams, phase string, fromID int64, limit int) ([]*models.Company, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `
		SELECT c.id, c.form_url, COALESCE(c.company_name, ''),
		       c.form_found, c.instruction_valid, c.prohibition_detected, c.bot_protection_detected
		FROM %s c
		WHERE c.id >= $1
		  AND c.form_url IS NOT NULL
		  AND (c.instruction_valid IS NULL OR c.instruction_valid = true)
		  AND (c.prohibition_detected IS NULL OR c.prohibition_detected = false)
	`, r.table)
	args := []any{fromID, p.TargetingID}

	switch phase {
	case phaseNeverTried:
		fmt.Fprintf(&b, `
		  AND NOT EXISTS (
			SELECT 1 FROM %s s WHERE s.company_id = c.id AND s.targeting_id = $2
		  )
		`, r.subTable)
	case phaseAllFailures:
		fmt.Fprintf(&b, `
		  AND EXISTS (
			SELECT 1 FROM %s s WHERE s.company_id = c.id AND s.targeting_id = $2
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM %s s WHERE s.company_id = c.id AND s.targeting_id = $2 AND s.success = true
		  )
		`, r.subTable, r.subTable)
	}

	idx := 3
	if p.NGCompanies != "" {
		fmt.Fprintf(&b, " AND COALESCE(c.company_name, '') !~ $%d\n", idx)
		args = append(args, p.NGCompanies)
		idx++
	}
	if p.TargetingSQL != "" {
		// Already validated by the controller guard; appended as a fragment.
		fmt.Fprintf(&b, " AND (%s)\n", p.TargetingSQL)
	}
	fmt.Fprintf(&b, " ORDER BY c.id LIMIT $%d", idx)
	args = append(args, limit)

	var out []*models.Company
	err := withRetry(ctx, r.logger, "fetch_candidates_"+phase, func() error {
		rows, err := r.db.QueryContext(ctx, b.String(), args...)
		if err != nil {
			return fmt.Errorf("fetch candidates: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			c := &models.Company{}
			var formFound, instrValid, prohibit, botProt sql.NullBool
			if err := rows.Scan(&c.RecordID, &c.FormURL, &c.CompanyName,
				&formFound, &instrValid, &prohibit, &botProt); err != nil {
				return fmt.Errorf("scan candidate: %w", err)
			}
			c.FormFound = nullBoolPtr(formFound)
			c.InstructionValid = nullBoolPtr(instrValid)
			c.ProhibitionDetected = nullBoolPtr(prohibit)
			c.BotProtectionDetected = nullBoolPtr(botProt)
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

func nullBoolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

// MarkProhibitionDetected sets the company prohibition flag.
func (r *CompanyRepo) MarkProhibitionDetected(ctx context.Context, recordID int64) error {
	return r.setFlag(ctx, "prohibition_detected", recordID)
}

// MarkBotProtectionDetected sets the company bot-protection flag.
func (r *CompanyRepo) MarkBotProtectionDetected(ctx context.Context, recordID int64) error {
	return r.setFlag(ctx, "bot_protection_detected", recordID)
}

// MarkFormFound records whether a usable form was located at the URL.
func (r *CompanyRepo) MarkFormFound(ctx context.Context, recordID int64, found bool) error {
	return withRetry(ctx, r.logger, "mark_form_found", func() error {
		_, err := r.db.ExecContext(ctx,
			`UPDATE `+r.table+` SET form_found = $2 WHERE id = $1`, recordID, found)
		if err != nil {
			return fmt.Errorf("update form_found: %w", err)
		}
		return nil
	})
}

func (r *CompanyRepo) setFlag(ctx context.Context, column string, recordID int64) error {
	return withRetry(ctx, r.logger, "mark_"+column, func() error {
		_, err := r.db.ExecContext(ctx,
			`UPDATE `+r.table+` SET `+column+` = true WHERE id = $1`, recordID)
		if err != nil {
			return fmt.Errorf("update %s: %w", column, err)
		}
		return nil
	})
}
