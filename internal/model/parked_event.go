package model

import "time"

// ParkedEvent holds an inbound event the orchestrator refused
// (unknown type or orphan correlation key), kept for operator review
// instead of being retried forever.
type ParkedEvent struct {
	ID             uint64    `gorm:"primaryKey"`
	EventID        string    `gorm:"size:64;not null;index"`
	CorrelationKey string    `gorm:"size:64;not null"`
	EventType      string    `gorm:"size:64;not null"`
	Payload        string    `gorm:"type:jsonb;not null"`
	Reason         string    `gorm:"size:256;not null"`
	ParkedAt       time.Time `gorm:"autoCreateTime"`
}

func (ParkedEvent) TableName() string { return "parked_event" }
