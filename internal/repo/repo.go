package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/taxfiling/filing-saga/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrVersionConflict is returned when the compare-and-swap on the
// filing's version fails: another writer committed first.
var ErrVersionConflict = errors.New("filing version conflict")

// RepositoryInterface restricts Repo methods (keeps callers mockable in unit tests)
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetFiling(ctx context.Context, tx *gorm.DB, id string) (*model.Filing, error)
	CreateFiling(ctx context.Context, tx *gorm.DB, f *model.Filing) error
	UpdateFilingIfVersion(ctx context.Context, tx *gorm.DB, f *model.Filing, expectedVersion uint64) error
	EventProcessed(ctx context.Context, tx *gorm.DB, eventID, consumerName string) (bool, error)
	RecordProcessedEvent(ctx context.Context, tx *gorm.DB, eventID, consumerName string, at time.Time) error
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	CreateParkedEvent(ctx context.Context, evt *model.ParkedEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id uint64) error
	RecordOutboxFailure(ctx context.Context, id uint64, attempts int, nextAttempt time.Time) error
	MarkOutboxDeadLettered(ctx context.Context, id uint64) error
	PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error)
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheStatus(ctx context.Context, filingID, status string) error
	GetCachedStatus(ctx context.Context, filingID string) (string, error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetFiling loads the filing row with its current version.
func (r *Repository) GetFiling(ctx context.Context, tx *gorm.DB, id string) (*model.Filing, error) {
	var f model.Filing
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFiling inserts a new filing. A duplicate-key failure means a
// concurrent creator won and is reported as ErrVersionConflict.
func (r *Repository) CreateFiling(ctx context.Context, tx *gorm.DB, f *model.Filing) error {
	err := tx.WithContext(ctx).Create(f).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrVersionConflict
	}
	return err
}

// UpdateFilingIfVersion writes the filing's mutable columns guarded by
// the version read earlier (optimistic lock).
func (r *Repository) UpdateFilingIfVersion(ctx context.Context, tx *gorm.DB, f *model.Filing, expectedVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Filing{}).
		Where("id = ? AND version = ?", f.ID, expectedVersion).
		Updates(map[string]interface{}{
			"state":          f.State,
			"version":        f.Version,
			"tax_year":       f.TaxYear,
			"amount_owed":    f.AmountOwed,
			"payment_ref":    f.PaymentRef,
			"failure_reason": f.FailureReason,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// EventProcessed checks the dedup table for (eventID, consumerName).
func (r *Repository) EventProcessed(ctx context.Context, tx *gorm.DB, eventID, consumerName string) (bool, error) {
	var rec model.ProcessedEvent
	err := tx.WithContext(ctx).
		Where("event_id = ? AND consumer_name = ?", eventID, consumerName).
		First(&rec).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

// RecordProcessedEvent inserts the dedup marker. Must run inside the
// same transaction as the filing write.
func (r *Repository) RecordProcessedEvent(ctx context.Context, tx *gorm.DB, eventID, consumerName string, at time.Time) error {
	return tx.WithContext(ctx).Create(&model.ProcessedEvent{
		EventID:      eventID,
		ConsumerName: consumerName,
		ProcessedAt:  at,
	}).Error
}

// CreateOutboxEvent stages an outbound event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// CreateParkedEvent stores an unprocessable inbound event for review.
func (r *Repository) CreateParkedEvent(ctx context.Context, evt *model.ParkedEvent) error {
	return r.db.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unpublished, non-dead rows due for an attempt, in
// insertion order.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("published = ? AND dead_lettered = ? AND next_attempt_at <= ?", false, false, time.Now()).
		Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxPublished sets the published flag after transport ack.
func (r *Repository) MarkOutboxPublished(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"published": true, "published_at": &now}).Error
}

// RecordOutboxFailure bumps the attempt counter and schedules the next try.
func (r *Repository) RecordOutboxFailure(ctx context.Context, id uint64, attempts int, nextAttempt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"attempts": attempts, "next_attempt_at": nextAttempt}).Error
}

// MarkOutboxDeadLettered parks the row after the attempt budget is spent.
func (r *Repository) MarkOutboxDeadLettered(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Update("dead_lettered", true).Error
}

// PruneProcessedEvents drops dedup rows older than the retention cutoff.
func (r *Repository) PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed_at < ?", before).
		Delete(&model.ProcessedEvent{})
	return res.RowsAffected, res.Error
}

// PublishEvent sends one outbox row to Kafka, keyed by partition key.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Topic: evt.Topic,
		Key:   []byte(evt.PartitionKey),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
		},
	}
	return r.writer.WriteMessages(ctx, msg)
}

// statusCacheTTL bounds how stale a cached status can get: only the
// server's command paths refresh the cache, so transitions applied by
// the consumer process become visible within this window at worst.
const statusCacheTTL = 5 * time.Minute

// CacheStatus writes the status document to Redis.
func (r *Repository) CacheStatus(ctx context.Context, filingID, status string) error {
	return r.rdb.Set(ctx, fmt.Sprintf("filing:%s", filingID), status, statusCacheTTL).Err()
}

// GetCachedStatus reads the status document from Redis.
func (r *Repository) GetCachedStatus(ctx context.Context, filingID string) (string, error) {
	return r.rdb.Get(ctx, fmt.Sprintf("filing:%s", filingID)).Result()
}
