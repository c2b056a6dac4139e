package storage

import (
	"context"
	"time"

	"github.com/vietddude/reactor/internal/core/domain"
)

// JournalFilter narrows a journal listing.
type JournalFilter struct {
	// RuleID limits the listing to one rule when non-nil.
	RuleID *domain.RuleID
	// Limit caps the number of entries, newest first. Zero means 100.
	Limit int
}

// JournalRepository is the append-only audit trail of execution attempts.
// The engine only writes to it; rule state is always re-derived from chain
// history.
type JournalRepository interface {
	// Append records a finished attempt.
	Append(ctx context.Context, attempt *domain.ExecutionAttempt) error

	// List returns attempts, newest first.
	List(ctx context.Context, filter JournalFilter) ([]*domain.ExecutionAttempt, error)

	// DeleteOlderThan drops attempts started before the cutoff and returns
	// how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DefaultListLimit applies when JournalFilter.Limit is zero.
const DefaultListLimit = 100

// EffectiveLimit returns the limit to apply for f.
func (f JournalFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
