// Package store persists the client and session ledger.
package store

import (
	"context"
	"time"

	"github.com/ashureev/sonic-trainer/internal/domain"
)

// Ledger records clients and the lifecycle of their sessions.
type Ledger interface {
	// TouchClient creates the client on first sight and updates last_seen_at.
	TouchClient(ctx context.Context, clientID string, seen time.Time) error

	// GetClient retrieves a client, or nil if unknown.
	GetClient(ctx context.Context, clientID string) (*domain.Client, error)

	// RecordCreated inserts a new session row.
	RecordCreated(ctx context.Context, rec *domain.SessionRecord) error

	// RecordState moves a session to state. Terminal states also stamp
	// ended_at. Rows already in a terminal state are left unchanged.
	RecordState(ctx context.Context, sessionID, state, failure string, at time.Time) error

	// GetSession retrieves a session row, or nil if unknown.
	GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// ListByClient returns a client's most recent sessions, newest first.
	ListByClient(ctx context.Context, clientID string, limit int) ([]*domain.SessionRecord, error)

	// CountByState returns the number of rows per state.
	CountByState(ctx context.Context) (map[string]int, error)

	// MarkAbandoned closes rows a previous process left created or active.
	MarkAbandoned(ctx context.Context, at time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
