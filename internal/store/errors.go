package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// isConflict reports SQLITE_BUSY and "database is locked" errors, which are
// worth retrying.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs fn, retrying conflicts with exponential backoff
// (100ms, 200ms, 400ms).
func withRetry(ctx context.Context, op string, fn func() error) error {
	const maxAttempts = 3
	delay := 100 * time.Millisecond

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil || !isConflict(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		slog.Debug("SQLite conflict, retrying", "op", op, "attempt", attempt, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("%s after %d attempts: %w", op, maxAttempts, err)
}
