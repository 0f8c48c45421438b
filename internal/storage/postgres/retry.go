package postgres

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

const (
	maxRetries      = 3
	retryDelay      = 2 * time.Second
	retryJitterFrac = 0.25
)

// fatal database errors are never retried.
var fatalErrorTokens = []string{
	"authentication", "password", "permission denied", "does not exist",
	"syntax error", "invalid input syntax", "violates", "duplicate key",
}

// retryableError reports whether a database error is worth retrying:
// transient network, DNS, TLS and server-side 5xx/429-class failures.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, tok := range fatalErrorTokens {
		if strings.Contains(msg, tok) {
			return false
		}
	}
	for _, tok := range []string{
		"connection", "timeout", "timed out", "temporarily", "reset by peer",
		"broken pipe", "no such host", "tls", "too many", "eof", "refused",
	} {
		if strings.Contains(msg, tok) {
			return true
		}
	}
	return false
}

// withRetry runs op up to maxRetries times with a fixed gap plus jitter,
// retrying only transient errors. Every attempt beyond the first is logged.
func withRetry(ctx context.Context, logger arbor.ILogger, name string, op func() error) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !retryableError(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		logger.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Int("max_attempts", maxRetries).
			Msg("Database operation failed, retrying")
		delay := retryDelay + time.Duration(rand.Int63n(int64(float64(retryDelay)*retryJitterFrac)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
