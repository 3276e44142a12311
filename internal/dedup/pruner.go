package dedup

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Store is the slice of the repository the pruner drives.
type Store interface {
	PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error)
}

// Pruner drops processed-event markers older than the retention
// window. Pruning is advisory: the window must exceed the transport's
// maximum redelivery lag, so a pruned id is never one still in flight.
type Pruner struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	log       *zap.SugaredLogger
}

// NewPruner constructs the retention pruner.
func NewPruner(store Store, retention, interval time.Duration, logger *zap.SugaredLogger) *Pruner {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{store: store, retention: retention, interval: interval, log: logger}
}

// Run prunes on a timer until the context is cancelled.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.PruneProcessedEvents(ctx, time.Now().Add(-p.retention))
			if err != nil {
				p.log.Errorf("prune processed events: %v", err)
				continue
			}
			if n > 0 {
				p.log.Infof("pruned %d processed-event rows", n)
			}
		}
	}
}
