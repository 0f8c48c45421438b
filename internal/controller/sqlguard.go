package controller

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	maxTargetingSQLLen = 2000
	maxNGCompaniesLen  = 500
)

// ErrUnsafeTargetingSQL is wrapped by every guard rejection.
var ErrUnsafeTargetingSQL = errors.New("unsafe targeting_sql")

// forbiddenSQLWords are rejected as standalone words, case-insensitive. A
// targeting fragment is a filter expression only; anything that smells like
// DDL, DML or injection is refused before it reaches the database.
var forbiddenSQLWords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "CREATE", "ALTER", "EXEC", "EXECUTE",
	"UNION", "SCRIPT", "DECLARE", "TRUNCATE", "GRANT", "REVOKE", "SET", "RESET",
}

// forbiddenSQLSequences are rejected anywhere in the fragment.
var forbiddenSQLSequences = []string{
	"--", ";", "/*", "*/", "' OR '", `" OR "`, "1=1", "OR 1", "OR TRUE",
}

var forbiddenWordPattern = regexp.MustCompile(
	`(?i)\b(` + strings.Join(forbiddenSQLWords, "|") + `)\b`)

// ValidateTargetingSQL rejects a targeting filter fragment containing any
// forbidden keyword or injection sequence, or longer than 2000 characters.
// Empty fragments are fine.
func ValidateTargetingSQL(fragment string) error {
	if fragment == "" {
		return nil
	}
	if len(fragment) > maxTargetingSQLLen {
		return fmt.Errorf("%w: length %d exceeds %d", ErrUnsafeTargetingSQL, len(fragment), maxTargetingSQLLen)
	}
	if m := forbiddenWordPattern.FindString(fragment); m != "" {
		return fmt.Errorf("%w: forbidden keyword %q", ErrUnsafeTargetingSQL, strings.ToUpper(m))
	}
	upper := strings.ToUpper(fragment)
	for _, seq := range forbiddenSQLSequences {
		if strings.Contains(upper, strings.ToUpper(seq)) {
			return fmt.Errorf("%w: forbidden sequence %q", ErrUnsafeTargetingSQL, seq)
		}
	}
	return nil
}

// ValidateNGCompanies bounds the exclusion regex and confirms it compiles.
func ValidateNGCompanies(pattern string) error {
	if pattern == "" {
		return nil
	}
	if len(pattern) > maxNGCompaniesLen {
		return fmt.Errorf("ng_companies length %d exceeds %d", len(pattern), maxNGCompaniesLen)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("ng_companies does not compile: %w", err)
	}
	return nil
}
