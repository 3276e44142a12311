package repo

import (
	"context"
	"fmt"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/taxfiling/filing-saga/internal/logger"
	"github.com/taxfiling/filing-saga/internal/model"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Filing{}, &model.ProcessedEvent{}, &model.OutboxEvent{}, &model.ParkedEvent{}))
	return NewRepository(db, nil, &kafka.Writer{}, must(logger.NewLogger("error"))), db
}

func TestOptimisticLock_SecondWriterLoses(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	db.Create(&model.Filing{ID: "F1", State: model.StateSubmitted, Version: 1,
		TaxYear: 2025, AmountOwed: decimal.NewFromInt(100)})

	// two writers read the same version; exactly one commit wins
	f, err := r.GetFiling(ctx, db, "F1")
	assert.NoError(t, err)

	winner := *f
	winner.State = model.StateAwaitingPayment
	winner.Version = f.Version + 1
	assert.NoError(t, r.UpdateFilingIfVersion(ctx, db, &winner, f.Version))

	loser := *f
	loser.State = model.StateRejected
	loser.Version = f.Version + 1
	err = r.UpdateFilingIfVersion(ctx, db, &loser, f.Version)
	assert.ErrorIs(t, err, ErrVersionConflict)

	var final model.Filing
	assert.NoError(t, db.First(&final, "id = ?", "F1").Error)
	assert.Equal(t, model.StateAwaitingPayment, final.State)
	assert.Equal(t, uint64(2), final.Version)
}

func TestCreateFiling_DuplicateIDConflicts(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	f := &model.Filing{ID: "F1", State: model.StateDraft, Version: 1, AmountOwed: decimal.Zero}
	assert.NoError(t, r.CreateFiling(ctx, db, f))

	dup := &model.Filing{ID: "F1", State: model.StateDraft, Version: 1, AmountOwed: decimal.Zero}
	err := r.CreateFiling(ctx, db, dup)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func must(l *zap.SugaredLogger, err error) *zap.SugaredLogger {
	if err != nil {
		panic(err)
	}
	return l
}
