package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const gcDiscardRatio = 0.5

// GCWorker runs badger's value-log garbage collection on a fixed
// interval. Badger never reclaims value-log space on its own; without
// this loop the store grows for every rewritten room row.
type GCWorker struct {
	db       *badger.DB
	log      *slog.Logger
	interval time.Duration
}

func NewGCWorker(db *badger.DB, log *slog.Logger, interval time.Duration) *GCWorker {
	return &GCWorker{db: db, log: log, interval: interval}
}

func (w *GCWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping value-log GC")
			return nil
		case <-ticker.C:
			// One GC call rewrites at most one log file; loop until
			// badger reports nothing left to rewrite.
			for {
				err := w.db.RunValueLogGC(gcDiscardRatio)
				if errors.Is(err, badger.ErrNoRewrite) {
					break
				}
				if err != nil {
					w.log.Warn("Value-log GC failed", "err", err)
					break
				}
			}
		}
	}
}
