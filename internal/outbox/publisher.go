package outbox

import (
	"context"
	"time"

	"github.com/taxfiling/filing-saga/internal/model"
	"go.uber.org/zap"
)

// Store is the slice of the repository the publisher drives.
type Store interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id uint64) error
	RecordOutboxFailure(ctx context.Context, id uint64, attempts int, nextAttempt time.Time) error
	MarkOutboxDeadLettered(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
}

// Publisher drains staged outbox rows into Kafka. Rows are only
// marked published after transport ack, so a crash in between means
// a re-send on restart, never a lost event.
type Publisher struct {
	store          Store
	log            *zap.SugaredLogger
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	initialBackoff time.Duration
}

// Config tunes the publisher's poll loop and retry policy.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
}

// NewPublisher constructs the outbox publisher.
func NewPublisher(store Store, cfg Config, logger *zap.SugaredLogger) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Publisher{
		store:          store,
		log:            logger,
		pollInterval:   cfg.PollInterval,
		batchSize:      cfg.BatchSize,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
	}
}

// Run polls until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Drain(ctx); err != nil {
				p.log.Errorf("drain outbox: %v", err)
			}
		}
	}
}

// Drain performs one poll-and-publish pass.
func (p *Publisher) Drain(ctx context.Context) error {
	events, err := p.store.PollOutbox(ctx, p.batchSize)
	if err != nil {
		return err
	}
	for _, evt := range events {
		if err := p.store.PublishEvent(ctx, evt); err != nil {
			p.recordFailure(ctx, evt, err)
			continue
		}
		if err := p.store.MarkOutboxPublished(ctx, evt.ID); err != nil {
			p.log.Errorf("mark published id=%d: %v", evt.ID, err)
			continue
		}
		p.log.Infof("event %d (%s) sent", evt.ID, evt.EventType)
	}
	return nil
}

func (p *Publisher) recordFailure(ctx context.Context, evt model.OutboxEvent, cause error) {
	attempts := evt.Attempts + 1
	if attempts >= p.maxAttempts {
		p.log.Errorf("dead-lettering outbox id=%d after %d attempts: %v", evt.ID, attempts, cause)
		if err := p.store.MarkOutboxDeadLettered(ctx, evt.ID); err != nil {
			p.log.Errorf("mark dead-lettered id=%d: %v", evt.ID, err)
		}
		return
	}
	next := time.Now().Add(p.backoff(attempts))
	p.log.Warnf("publish id=%d failed (attempt %d): %v", evt.ID, attempts, cause)
	if err := p.store.RecordOutboxFailure(ctx, evt.ID, attempts, next); err != nil {
		p.log.Errorf("record failure id=%d: %v", evt.ID, err)
	}
}

// backoff doubles per attempt, capped at ten times the initial delay.
func (p *Publisher) backoff(attempts int) time.Duration {
	d := p.initialBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	if limit := 10 * p.initialBackoff; d > limit {
		d = limit
	}
	return d
}
