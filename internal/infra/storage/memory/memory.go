package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/reactor/internal/core/domain"
	"github.com/vietddude/reactor/internal/infra/storage"
)

// Journal is an in-process JournalRepository. Entries are lost on restart.
type Journal struct {
	mu       sync.RWMutex
	attempts []*domain.ExecutionAttempt
}

var _ storage.JournalRepository = (*Journal)(nil)

func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) Append(ctx context.Context, attempt *domain.ExecutionAttempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *attempt
	j.attempts = append(j.attempts, &cp)
	return nil
}

func (j *Journal) List(ctx context.Context, filter storage.JournalFilter) ([]*domain.ExecutionAttempt, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	limit := filter.EffectiveLimit()
	out := make([]*domain.ExecutionAttempt, 0, min(limit, len(j.attempts)))
	for i := len(j.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		a := j.attempts[i]
		if filter.RuleID != nil && a.RuleID != *filter.RuleID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (j *Journal) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	kept := j.attempts[:0]
	for _, a := range j.attempts {
		if a.StartedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, a)
	}
	removed := int64(len(j.attempts) - len(kept))
	clear(j.attempts[len(kept):])
	j.attempts = kept
	return removed, nil
}
