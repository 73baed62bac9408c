package payments

import (
	"context"
	"log/slog"
	"time"
)

// Reaper deletes pending intents that outlived their TTL without any gateway
// resolution. It only ever touches `pending` rows; paid and failed intents
// are permanent records.
type Reaper struct {
	store  *Store
	logger *slog.Logger
}

func NewReaper(store *Store, logger *slog.Logger) *Reaper {
	return &Reaper{store: store, logger: logger}
}

// Sweep removes pending intents older than olderThan. With dryRun it only
// counts what would be removed.
func (r *Reaper) Sweep(ctx context.Context, olderThan time.Duration, dryRun bool) (int64, error) {
	before := time.Now().Add(-olderThan)

	if dryRun {
		n, err := r.store.CountStalePending(ctx, before)
		if err != nil {
			return 0, err
		}
		r.logger.Info("stale pending sweep (dry run)", "would_delete", n, "older_than", olderThan.String())
		return n, nil
	}

	n, err := r.store.DeleteStalePending(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("stale pending intents deleted", "count", n, "older_than", olderThan.String())
	}
	return n, nil
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx, ttl, false); err != nil {
				r.logger.Error("stale pending sweep failed", "err", err)
			}
		}
	}
}
