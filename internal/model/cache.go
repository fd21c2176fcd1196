package model

import (
	"time"

	"gorm.io/datatypes"
)

// CacheEntry is the locally materialized copy of a foreign entity. Rows are
// soft-deleted (tombstoned) so ordering metadata survives a delete, and
// optionally expire via ExpiresAt.
type CacheEntry struct {
	ID              uint64         `gorm:"primaryKey"`
	SourceDomain    string         `gorm:"size:64;not null;uniqueIndex:ux_cache_key;index:idx_cache_lookup,priority:1"`
	SourceTable     string         `gorm:"size:64;not null;uniqueIndex:ux_cache_key;index:idx_cache_lookup,priority:2"`
	AggregateID     string         `gorm:"size:64;not null;uniqueIndex:ux_cache_key"`
	TenantID        string         `gorm:"size:36;not null;index;index:idx_cache_lookup,priority:3"`
	EventType       string         `gorm:"size:96;not null"`
	Payload         datatypes.JSON `gorm:"not null"`
	Version         uint64         `gorm:"not null;default:1"`
	IsDeleted       bool           `gorm:"not null;default:false;index;index:idx_cache_lookup,priority:4"`
	SourceEventID   string         `gorm:"size:36"`
	SourceEventTime time.Time      `gorm:"not null"`
	CachedAt        time.Time      `gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime"`
	ExpiresAt       *time.Time     `gorm:"index"`
}

func (CacheEntry) TableName() string { return "esb_cache" }

// CacheConfig decides which upstream domain/table events this domain
// subscribes to and materializes.
type CacheConfig struct {
	ID              uint64    `gorm:"primaryKey"`
	SourceDomain    string    `gorm:"size:64;not null;uniqueIndex:ux_cache_cfg"`
	SourceSchema    string    `gorm:"size:64;not null;uniqueIndex:ux_cache_cfg"`
	SourceTable     string    `gorm:"size:64;not null;uniqueIndex:ux_cache_cfg"`
	ListenCreate    bool      `gorm:"not null;default:false"`
	ListenUpdate    bool      `gorm:"not null;default:false"`
	ListenDelete    bool      `gorm:"not null;default:false"`
	IsActive        bool      `gorm:"not null"`
	CacheTTLSeconds *int      `gorm:"column:cache_ttl_seconds"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (CacheConfig) TableName() string { return "esb_cache_config" }
