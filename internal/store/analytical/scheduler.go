package analytical

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RefreshScheduler runs RefreshAll on a fixed interval, per design note
// "the scheduler for refreshable views is a periodic task per view with a
// configured interval" — collapsed here to one task over RefreshAll since
// the views refresh in a strict dependency order (heads → collaborators →
// permissions → contributors) and splitting them into independent tickers
// would let a downstream view run against a stale upstream one.
type RefreshScheduler struct {
	store    *Store
	log      *zap.Logger
	interval time.Duration
}

func NewRefreshScheduler(store *Store, log *zap.Logger, interval time.Duration) *RefreshScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RefreshScheduler{store: store, log: log, interval: interval}
}

// Run blocks until ctx is cancelled, refreshing every interval. Errors are
// logged and do not stop the scheduler — the next tick tries again.
func (r *RefreshScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.RefreshAll(ctx); err != nil && r.log != nil {
				r.log.Error("periodic view refresh failed", zap.Error(err))
			}
		}
	}
}
