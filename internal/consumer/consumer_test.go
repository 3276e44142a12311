package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/taxfiling/filing-saga/internal/event"
	"github.com/taxfiling/filing-saga/internal/logger"
	"github.com/taxfiling/filing-saga/internal/model"
	"github.com/taxfiling/filing-saga/internal/saga"
)

type fakeHandler struct {
	res *saga.Result
	err error
}

func (h *fakeHandler) Handle(ctx context.Context, env *event.Envelope) (*saga.Result, error) {
	return h.res, h.err
}

type fakeParker struct {
	parked []*model.ParkedEvent
	err    error
}

func (p *fakeParker) CreateParkedEvent(ctx context.Context, evt *model.ParkedEvent) error {
	if p.err != nil {
		return p.err
	}
	p.parked = append(p.parked, evt)
	return nil
}

func newTestConsumer(h Handler) (*Consumer, *fakeParker) {
	log, _ := logger.NewLogger("error")
	parker := &fakeParker{}
	return &Consumer{handler: h, parker: parker, log: log}, parker
}

func message(eventType string) []byte {
	raw, _ := json.Marshal(event.Envelope{
		EventID:        "e1",
		CorrelationKey: "F1",
		EventType:      eventType,
		Payload:        json.RawMessage(`{}`),
	})
	return raw
}

func TestProcessAppliedCommits(t *testing.T) {
	c, parker := newTestConsumer(&fakeHandler{
		res: &saga.Result{Outcome: saga.OutcomeApplied, State: model.StateSubmitted, Version: 1},
	})

	assert.True(t, c.Process(context.Background(), message(event.TypeSubmitFiling)))
	assert.Empty(t, parker.parked)
}

func TestProcessDuplicateCommits(t *testing.T) {
	c, parker := newTestConsumer(&fakeHandler{
		res: &saga.Result{Outcome: saga.OutcomeDuplicate, State: model.StateCompleted, Version: 3},
	})

	assert.True(t, c.Process(context.Background(), message(event.TypePaymentSucceeded)))
	assert.Empty(t, parker.parked)
}

func TestProcessIllegalTransitionParks(t *testing.T) {
	c, parker := newTestConsumer(&fakeHandler{err: saga.ErrIllegalTransition})

	assert.True(t, c.Process(context.Background(), message("NoSuchEvent")))
	assert.Len(t, parker.parked, 1)
	assert.Equal(t, "e1", parker.parked[0].EventID)
}

func TestProcessOrphanEventParks(t *testing.T) {
	c, parker := newTestConsumer(&fakeHandler{err: saga.ErrAggregateNotFound})

	assert.True(t, c.Process(context.Background(), message(event.TypePaymentSucceeded)))
	assert.Len(t, parker.parked, 1)
}

func TestProcessStorageFailureDoesNotCommit(t *testing.T) {
	c, parker := newTestConsumer(&fakeHandler{err: errors.New("db down")})

	// the offset stays put so the transport redelivers
	assert.False(t, c.Process(context.Background(), message(event.TypeSubmitFiling)))
	assert.Empty(t, parker.parked)
}

func TestProcessUnavailableDoesNotCommit(t *testing.T) {
	c, parker := newTestConsumer(&fakeHandler{err: saga.ErrUnavailable})

	assert.False(t, c.Process(context.Background(), message(event.TypeSubmitFiling)))
	assert.Empty(t, parker.parked)
}

func TestProcessParkFailureDoesNotCommit(t *testing.T) {
	c, parker := newTestConsumer(&fakeHandler{err: saga.ErrIllegalTransition})
	parker.err = errors.New("db down")

	// without the parked row there is no operator trace, so the offset
	// must stay put until parking succeeds
	assert.False(t, c.Process(context.Background(), message("NoSuchEvent")))
	assert.Empty(t, parker.parked)

	// once the store recovers, redelivery parks and commits
	parker.err = nil
	assert.True(t, c.Process(context.Background(), message("NoSuchEvent")))
	assert.Len(t, parker.parked, 1)
}

func TestProcessUndecodableParkFailureDoesNotCommit(t *testing.T) {
	c, parker := newTestConsumer(&fakeHandler{})
	parker.err = errors.New("db down")

	assert.False(t, c.Process(context.Background(), []byte("not json")))
	assert.Empty(t, parker.parked)
}

func TestProcessUndecodableParks(t *testing.T) {
	c, parker := newTestConsumer(&fakeHandler{})

	assert.True(t, c.Process(context.Background(), []byte("not json")))
	assert.Len(t, parker.parked, 1)
	assert.Equal(t, "undecodable message", parker.parked[0].Reason)
}
