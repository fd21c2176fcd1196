package model

import (
	"time"

	"gorm.io/datatypes"
)

// Outbox record lifecycle states.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusProcessed = "processed"
	OutboxStatusFailed    = "failed"
)

// OutboxRecord is written in the same transaction as the business mutation
// it describes and later shipped to the bus by the publisher.
type OutboxRecord struct {
	ID            string         `gorm:"primaryKey;size:36"`
	TenantID      string         `gorm:"size:36;not null;index"`
	AggregateType string         `gorm:"size:64;not null"`
	AggregateID   string         `gorm:"size:64;not null"`
	EventType     string         `gorm:"size:96;not null"`
	EventData     datatypes.JSON `gorm:"not null"`
	Status        string         `gorm:"size:16;not null;default:'pending';index"`
	CreatedAt     time.Time      `gorm:"autoCreateTime;index"`
	ProcessedAt   *time.Time
	LastError     string `gorm:"size:512"`
}

func (OutboxRecord) TableName() string { return "esb_outbox" }
