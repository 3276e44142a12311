package model

import "time"

// ProcessedEvent marks an event id as durably applied by a consumer.
// The row is inserted in the same transaction as the aggregate write;
// its existence means the event must never be re-applied.
type ProcessedEvent struct {
	EventID      string    `gorm:"primaryKey;size:64"`
	ConsumerName string    `gorm:"primaryKey;size:64"`
	ProcessedAt  time.Time `gorm:"not null;index"`
}

func (ProcessedEvent) TableName() string { return "processed_event" }
