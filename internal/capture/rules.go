package capture

import (
	"context"
	"sync"
	"time"

	"github.com/fabrica-platform/esb-relay/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Op is the kind of mutation being captured.
type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

// EventSuffix returns the event-type suffix for the operation.
func (o Op) EventSuffix() string {
	switch o {
	case OpInsert:
		return "created"
	case OpUpdate:
		return "updated"
	case OpDelete:
		return "deleted"
	}
	return "unknown"
}

// TableKey identifies a captured table.
type TableKey struct {
	Schema string
	Table  string
}

// Rule holds the per-operation capture switches of one OutboxConfig row.
type Rule struct {
	Insert bool
	Update bool
	Delete bool
}

func (r Rule) allows(op Op) bool {
	switch op {
	case OpInsert:
		return r.Insert
	case OpUpdate:
		return r.Update
	case OpDelete:
		return r.Delete
	}
	return false
}

// DefaultRefreshInterval bounds how often the rule snapshot is reloaded.
const DefaultRefreshInterval = 5 * time.Minute

// RuleCache is a read-mostly snapshot of active OutboxConfig rows. Readers
// never see a partially loaded map; the snapshot is replaced whole. A failed
// reload clears the snapshot so capture fails closed instead of running on
// stale rules.
type RuleCache struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	interval time.Duration

	mu          sync.RWMutex
	rules       map[TableKey]Rule
	lastRefresh time.Time
}

// NewRuleCache builds an empty cache; the first lookup triggers a load.
func NewRuleCache(db *gorm.DB, interval time.Duration, log *zap.SugaredLogger) *RuleCache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &RuleCache{
		db:       db,
		log:      log,
		interval: interval,
		rules:    make(map[TableKey]Rule),
	}
}

// ShouldCapture reports whether op on schema.table is captured. No active
// config row means no capture.
func (c *RuleCache) ShouldCapture(ctx context.Context, schema, table string, op Op) bool {
	c.refreshIfStale(ctx)

	c.mu.RLock()
	rule, ok := c.rules[TableKey{Schema: schema, Table: table}]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return rule.allows(op)
}

// ForceRefresh reloads the snapshot immediately, bypassing the interval
// guard. Called after administrative config writes.
func (c *RuleCache) ForceRefresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloadLocked(ctx)
}

func (c *RuleCache) refreshIfStale(ctx context.Context) {
	c.mu.RLock()
	fresh := time.Since(c.lastRefresh) < c.interval
	c.mu.RUnlock()
	if fresh {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// re-check under the write lock: another caller may have refreshed
	if time.Since(c.lastRefresh) < c.interval {
		return
	}
	if err := c.reloadLocked(ctx); err != nil {
		c.log.Errorw("capture rule refresh failed, capture disabled", "err", err)
	}
}

// reloadLocked replaces the snapshot. On query failure the snapshot is
// cleared (fail closed) and the next attempt waits out the interval.
func (c *RuleCache) reloadLocked(ctx context.Context) error {
	var rows []model.OutboxConfig
	err := c.db.WithContext(ctx).Where("is_active = ?", true).Find(&rows).Error
	c.lastRefresh = time.Now()
	if err != nil {
		c.rules = make(map[TableKey]Rule)
		return err
	}

	next := make(map[TableKey]Rule, len(rows))
	for _, row := range rows {
		next[TableKey{Schema: row.SchemaName, Table: row.TargetTable}] = Rule{
			Insert: row.CaptureInsert,
			Update: row.CaptureUpdate,
			Delete: row.CaptureDelete,
		}
	}
	c.rules = next
	return nil
}
