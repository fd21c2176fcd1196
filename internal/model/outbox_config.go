package model

import "time"

// OutboxConfig decides which operations on a table are captured into the
// outbox. No active row for a table means capture nothing.
type OutboxConfig struct {
	ID            uint64    `gorm:"primaryKey"`
	SchemaName    string    `gorm:"size:64;not null;uniqueIndex:ux_outbox_cfg_table"`
	TargetTable   string    `gorm:"column:table_name;size:64;not null;uniqueIndex:ux_outbox_cfg_table"`
	CaptureInsert bool      `gorm:"not null;default:false"`
	CaptureUpdate bool      `gorm:"not null;default:false"`
	CaptureDelete bool      `gorm:"not null;default:false"`
	IsActive      bool      `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (OutboxConfig) TableName() string { return "esb_outbox_config" }
