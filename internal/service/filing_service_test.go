package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/taxfiling/filing-saga/internal/event"
	"github.com/taxfiling/filing-saga/internal/logger"
	"github.com/taxfiling/filing-saga/internal/model"
	"github.com/taxfiling/filing-saga/internal/repo"
	"github.com/taxfiling/filing-saga/internal/saga"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*FilingService, *saga.Orchestrator, context.Context) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Filing{}, &model.ProcessedEvent{}, &model.OutboxEvent{}, &model.ParkedEvent{}))

	// cache misses throughout; the service falls back to the database
	rdb, _ := redismock.NewClientMock()

	log, _ := logger.NewLogger("error")
	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, log)
	orc := saga.NewOrchestrator(repository, "filing-saga", "tax.filing.events", 3, log)
	svc := NewFilingService(repository, orc, log)
	return svc, orc, context.Background()
}

// drainFiled feeds the staged filed event back through the saga, the
// way the consumer would after the publisher round-trips it.
func drainFiled(t *testing.T, svc *FilingService, orc *saga.Orchestrator, ctx context.Context) {
	events, err := svc.Repo().PollOutbox(ctx, 100)
	assert.NoError(t, err)
	last := events[len(events)-1]
	env, err := event.Decode([]byte(last.Payload))
	assert.NoError(t, err)
	_, err = orc.Handle(ctx, env)
	assert.NoError(t, err)
}

func TestFilingService_FullFlow(t *testing.T) {
	svc, orc, ctx := newTestService(t)

	// submit
	res, err := svc.Submit(ctx, "F1", 2025, decimal.NewFromInt(120), "req-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StateSubmitted, res.State)
	assert.Equal(t, uint64(1), res.Version)

	// repeated request with the same request id dedups
	res2, err := svc.Submit(ctx, "F1", 2025, decimal.NewFromInt(120), "req-1")
	assert.NoError(t, err)
	assert.Equal(t, saga.OutcomeDuplicate, res2.Outcome)
	assert.Equal(t, res.Version, res2.Version)

	// the filed event drives the payment decision
	drainFiled(t, svc, orc, ctx)

	st, err := svc.Status(ctx, "F1")
	assert.NoError(t, err)
	assert.Equal(t, model.StateAwaitingPayment, st.State)
	assert.Equal(t, "120", st.AmountOwed.String())

	// payment fails; the filing parks in PAYMENT_FAILED
	payload, _ := json.Marshal(event.PaymentResultPayload{Reason: "card declined"})
	failRes, err := orc.Handle(ctx, &event.Envelope{
		EventID: "pay-1", CorrelationKey: "F1",
		EventType: event.TypePaymentFailed, Payload: payload,
	})
	assert.NoError(t, err)
	assert.Equal(t, model.StatePaymentFailed, failRes.State)

	st, err = svc.Status(ctx, "F1")
	assert.NoError(t, err)
	assert.Equal(t, "card declined", *st.FailureReason)

	// explicit resubmit returns to draft, version up by exactly one
	res, err = svc.Resubmit(ctx, "F1", "req-2")
	assert.NoError(t, err)
	assert.Equal(t, model.StateDraft, res.State)
	assert.Equal(t, failRes.Version+1, res.Version)
}

func TestFilingService_RejectsNegativeAmount(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.Submit(ctx, "F1", 2025, decimal.NewFromInt(-5), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFilingService_StatusUnknownFiling(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.Status(ctx, "nope")
	assert.ErrorIs(t, err, saga.ErrAggregateNotFound)
}

func TestFilingService_StatusServedFromCache(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Filing{}))

	cached, _ := json.Marshal(FilingStatus{
		ID: "F9", State: model.StateCompleted, Version: 3,
		TaxYear: 2025, AmountOwed: decimal.NewFromInt(80),
	})
	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet("filing:F9").SetVal(string(cached))

	log, _ := logger.NewLogger("error")
	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, log)
	orc := saga.NewOrchestrator(repository, "filing-saga", "tax.filing.events", 3, log)
	svc := NewFilingService(repository, orc, log)

	// no filing row exists: the answer must come from the cache
	st, err := svc.Status(context.Background(), "F9")
	assert.NoError(t, err)
	assert.Equal(t, model.StateCompleted, st.State)
	assert.Equal(t, uint64(3), st.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}
