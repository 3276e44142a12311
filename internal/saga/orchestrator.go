package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taxfiling/filing-saga/internal/event"
	"github.com/taxfiling/filing-saga/internal/model"
	"github.com/taxfiling/filing-saga/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrIllegalTransition means the event type is not one the
	// orchestrator understands at all.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrAggregateNotFound means a non-creating event referenced an
	// unknown filing id.
	ErrAggregateNotFound = errors.New("filing not found")
	// ErrInvalidPayload means the event body could not be decoded for
	// its declared type.
	ErrInvalidPayload = errors.New("invalid event payload")
	// ErrUnavailable is surfaced after the conflict-retry budget is
	// spent; the caller should redeliver later.
	ErrUnavailable = errors.New("filing temporarily unavailable")
)

// Outcome classifies how Handle disposed of an event.
type Outcome int

const (
	// OutcomeApplied: the transition committed.
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate: the event id was already processed.
	OutcomeDuplicate
	// OutcomeStale: known event type with no legal transition from the
	// current state; recorded and ignored.
	OutcomeStale
)

// Result reports the filing's state after Handle.
type Result struct {
	Outcome Outcome
	State   string
	Version uint64
}

// Orchestrator drives the filing saga. It is stateless; every Handle
// call works from a fresh read of the aggregate row.
type Orchestrator struct {
	repo         repo.RepositoryInterface
	consumerName string
	topic        string
	maxRetries   int
	log          *zap.SugaredLogger
}

// NewOrchestrator constructs the saga orchestrator.
func NewOrchestrator(r repo.RepositoryInterface, consumerName, topic string, maxRetries int, logger *zap.SugaredLogger) *Orchestrator {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Orchestrator{repo: r, consumerName: consumerName, topic: topic, maxRetries: maxRetries, log: logger}
}

// Handle applies one inbound event. The same event id delivered N
// times produces the same externally visible effects as delivered
// once. Version conflicts are retried from a fresh read, bounded by
// the retry budget.
func (o *Orchestrator) Handle(ctx context.Context, env *event.Envelope) (*Result, error) {
	if !event.Known(env.EventType) {
		return nil, fmt.Errorf("%w: event type %q", ErrIllegalTransition, env.EventType)
	}
	for i := 0; i < o.maxRetries; i++ {
		res, err := o.attempt(ctx, env)
		if errors.Is(err, repo.ErrVersionConflict) {
			o.log.Warnf("version conflict on %s, attempt %d", env.CorrelationKey, i+1)
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("%w: %s after %d conflict retries", ErrUnavailable, env.CorrelationKey, o.maxRetries)
}

// attempt runs one load-decide-commit cycle in a single transaction.
// The filing write, the dedup marker and the outbox rows all commit
// together or not at all.
func (o *Orchestrator) attempt(ctx context.Context, env *event.Envelope) (*Result, error) {
	var result *Result
	err := o.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := o.repo.GetFiling(ctx, tx, env.CorrelationKey)
		created := false
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if !createTriggers[env.EventType] {
				return fmt.Errorf("%w: %s", ErrAggregateNotFound, env.CorrelationKey)
			}
			f = &model.Filing{ID: env.CorrelationKey, State: model.StateDraft, Version: 0}
			created = true
		}

		processed, err := o.repo.EventProcessed(ctx, tx, env.EventID, o.consumerName)
		if err != nil {
			return err
		}
		if processed {
			result = &Result{Outcome: OutcomeDuplicate, State: f.State, Version: f.Version}
			return nil
		}

		tfn := transitions[f.State][env.EventType]
		if tfn == nil {
			// Stale or out-of-order delivery of a known type: absorb it,
			// but record the dedup marker so it is not retried.
			if err := o.repo.RecordProcessedEvent(ctx, tx, env.EventID, o.consumerName, time.Now()); err != nil {
				return err
			}
			result = &Result{Outcome: OutcomeStale, State: f.State, Version: f.Version}
			return nil
		}

		followUps, err := tfn(f, env)
		if err != nil {
			return err
		}

		readVersion := f.Version
		f.Version = readVersion + 1
		if created {
			if err := o.repo.CreateFiling(ctx, tx, f); err != nil {
				return err
			}
		} else {
			if err := o.repo.UpdateFilingIfVersion(ctx, tx, f, readVersion); err != nil {
				return err
			}
		}

		if err := o.repo.RecordProcessedEvent(ctx, tx, env.EventID, o.consumerName, time.Now()); err != nil {
			return err
		}

		for _, fu := range followUps {
			body, err := o.encodeFollowUp(f.ID, fu)
			if err != nil {
				return err
			}
			out := &model.OutboxEvent{
				Topic:         o.topic,
				PartitionKey:  f.ID,
				EventType:     fu.eventType,
				Payload:       body,
				NextAttemptAt: time.Now(),
			}
			if err := o.repo.CreateOutboxEvent(ctx, tx, out); err != nil {
				return err
			}
		}

		result = &Result{Outcome: OutcomeApplied, State: f.State, Version: f.Version}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) encodeFollowUp(filingID string, fu followUp) (string, error) {
	payload, err := json.Marshal(fu.payload)
	if err != nil {
		return "", err
	}
	out := event.Envelope{
		EventID:        uuid.NewString(),
		CorrelationKey: filingID,
		EventType:      fu.eventType,
		Payload:        payload,
	}
	body, err := out.Encode()
	if err != nil {
		return "", err
	}
	return string(body), nil
}
