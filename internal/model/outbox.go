package model

import "time"

// OutboxEvent is a staged outbound event, inserted in the same
// transaction as the filing write and drained by the publisher.
type OutboxEvent struct {
	ID            uint64    `gorm:"primaryKey"`
	Topic         string    `gorm:"size:128;not null"`
	PartitionKey  string    `gorm:"size:64;not null"`
	EventType     string    `gorm:"size:64;not null"`
	Payload       string    `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	Published     bool      `gorm:"not null;default:false"`
	PublishedAt   *time.Time
	Attempts      int       `gorm:"not null;default:0"`
	NextAttemptAt time.Time `gorm:"not null;index"`
	DeadLettered  bool      `gorm:"not null;default:false"`
}

func (OutboxEvent) TableName() string { return "event_outbox" }
