package model

import "time"

// EsbDomain is the control-plane catalog entry for a participating domain.
// Not on the hot path; read by operators and tooling.
type EsbDomain struct {
	ID               uint64    `gorm:"primaryKey"`
	DomainName       string    `gorm:"size:64;not null;uniqueIndex"`
	DisplayName      string    `gorm:"size:128"`
	ServiceURL       string    `gorm:"size:256"`
	KafkaTopicPrefix string    `gorm:"size:64;not null"`
	SchemaName       string    `gorm:"size:64;not null"`
	PublishesEvents  bool      `gorm:"not null;default:false"`
	ConsumesEvents   bool      `gorm:"not null;default:false"`
	IsActive         bool      `gorm:"not null"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (EsbDomain) TableName() string { return "esb_domain" }
