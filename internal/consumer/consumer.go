package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/taxfiling/filing-saga/internal/event"
	"github.com/taxfiling/filing-saga/internal/model"
	"github.com/taxfiling/filing-saga/internal/saga"
	"go.uber.org/zap"
)

// Handler is the orchestrator's entry point.
type Handler interface {
	Handle(ctx context.Context, env *event.Envelope) (*saga.Result, error)
}

// Parker stores events the orchestrator refused, for operator review.
type Parker interface {
	CreateParkedEvent(ctx context.Context, evt *model.ParkedEvent) error
}

// Config identifies the consumer group.
type Config struct {
	Brokers []string
	GroupID string
	Topic   string
}

// Consumer feeds the filing topic into the orchestrator. Offsets are
// committed only after the event's effects are durable (or the event
// is parked), so a crash mid-handle means redelivery, and the dedup
// table absorbs the duplicate.
type Consumer struct {
	reader  *kafka.Reader
	handler Handler
	parker  Parker
	log     *zap.SugaredLogger
}

// New constructs a consumer-group reader over the filing topic.
func New(cfg Config, handler Handler, parker Parker, logger *zap.SugaredLogger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, handler: handler, parker: parker, log: logger}
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Errorf("kafka fetch: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if !c.Process(ctx, msg.Value) {
			// Not acked: the transport will redeliver after the current
			// attempt's session; handling must succeed before commit.
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Errorf("commit offset: %v", err)
		}
	}
}

// Process handles one raw message and reports whether its offset may
// be committed.
func (c *Consumer) Process(ctx context.Context, raw []byte) bool {
	env, err := event.Decode(raw)
	if err != nil {
		c.log.Errorf("undecodable message parked: %v", err)
		return c.park(ctx, &event.Envelope{Payload: raw}, "undecodable message") == nil
	}

	res, err := c.handler.Handle(ctx, env)
	if err != nil {
		switch {
		case errors.Is(err, saga.ErrIllegalTransition),
			errors.Is(err, saga.ErrAggregateNotFound),
			errors.Is(err, saga.ErrInvalidPayload):
			c.log.Errorf("event %s parked: %v", env.EventID, err)
			// The parked row is the operator's only trace of the event;
			// if it cannot be written the offset stays uncommitted and
			// the transport redelivers.
			return c.park(ctx, env, err.Error()) == nil
		default:
			// Storage or retry-budget failure: leave the offset alone and
			// rely on redelivery.
			c.log.Errorf("event %s not acked: %v", env.EventID, err)
			return false
		}
	}

	switch res.Outcome {
	case saga.OutcomeDuplicate:
		c.log.Infof("duplicate event %s ignored", env.EventID)
	case saga.OutcomeStale:
		c.log.Infof("stale event %s (%s) absorbed in state %s", env.EventID, env.EventType, res.State)
	default:
		c.log.Infof("event %s applied, filing %s now %s v%d", env.EventID, env.CorrelationKey, res.State, res.Version)
	}
	return true
}

func (c *Consumer) park(ctx context.Context, env *event.Envelope, reason string) error {
	evt := &model.ParkedEvent{
		EventID:        env.EventID,
		CorrelationKey: env.CorrelationKey,
		EventType:      env.EventType,
		Payload:        string(env.Payload),
		Reason:         reason,
	}
	if err := c.parker.CreateParkedEvent(ctx, evt); err != nil {
		c.log.Errorf("park event %s: %v", env.EventID, err)
		return err
	}
	return nil
}
