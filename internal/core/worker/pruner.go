package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/reactor/internal/infra/storage"
)

// Pruner deletes execution journal entries older than the retention period.
type Pruner struct {
	retention time.Duration
	journal   storage.JournalRepository
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker. A zero retention disables it.
func NewPruner(retention time.Duration, journal storage.JournalRepository) *Pruner {
	return &Pruner{
		retention: retention,
		journal:   journal,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop until ctx ends.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	// 10% of retention, between one minute and one hour.
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Prune(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.Prune(ctx, now)
		}
	}
}

// Prune removes entries that started before now minus the retention.
func (p *Pruner) Prune(ctx context.Context, now time.Time) int64 {
	cutoff := now.Add(-p.retention)
	n, err := p.journal.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.log.Error("Failed to prune execution journal", "error", err)
		return 0
	}
	if n > 0 {
		p.log.Info("Pruned execution journal", "removed", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n
}
