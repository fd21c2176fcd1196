package cache

import (
	"context"
	"sync"
	"time"

	"github.com/fabrica-platform/esb-relay/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Event actions carried in the event-type suffix.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// ListenKey identifies an upstream table this domain may consume.
type ListenKey struct {
	Domain string
	Table  string
}

// ListenRule holds one CacheConfig row's switches.
type ListenRule struct {
	Create     bool
	Update     bool
	Delete     bool
	TTLSeconds *int
}

func (r ListenRule) allows(action string) bool {
	switch action {
	case ActionCreated:
		return r.Create
	case ActionUpdated:
		return r.Update
	case ActionDeleted:
		return r.Delete
	}
	return false
}

// ListenRuleCache mirrors the capture-side rule cache for the consuming
// side: a whole-map snapshot of active CacheConfig rows, refreshed at most
// once per interval, cleared on refresh failure so consumption fails closed.
type ListenRuleCache struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	interval time.Duration

	mu          sync.RWMutex
	rules       map[ListenKey]ListenRule
	lastRefresh time.Time
}

func NewListenRuleCache(db *gorm.DB, interval time.Duration, log *zap.SugaredLogger) *ListenRuleCache {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ListenRuleCache{
		db:       db,
		log:      log,
		interval: interval,
		rules:    make(map[ListenKey]ListenRule),
	}
}

// Accepts reports whether action events from domain.table are consumed, and
// returns the matching rule for its TTL.
func (c *ListenRuleCache) Accepts(ctx context.Context, domain, table, action string) (ListenRule, bool) {
	c.refreshIfStale(ctx)

	c.mu.RLock()
	rule, ok := c.rules[ListenKey{Domain: domain, Table: table}]
	c.mu.RUnlock()
	if !ok || !rule.allows(action) {
		return ListenRule{}, false
	}
	return rule, true
}

// ForceRefresh reloads immediately after administrative config writes.
func (c *ListenRuleCache) ForceRefresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloadLocked(ctx)
}

func (c *ListenRuleCache) refreshIfStale(ctx context.Context) {
	c.mu.RLock()
	fresh := time.Since(c.lastRefresh) < c.interval
	c.mu.RUnlock()
	if fresh {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastRefresh) < c.interval {
		return
	}
	if err := c.reloadLocked(ctx); err != nil {
		c.log.Errorw("listen rule refresh failed, consumption disabled", "err", err)
	}
}

func (c *ListenRuleCache) reloadLocked(ctx context.Context) error {
	var rows []model.CacheConfig
	err := c.db.WithContext(ctx).Where("is_active = ?", true).Find(&rows).Error
	c.lastRefresh = time.Now()
	if err != nil {
		c.rules = make(map[ListenKey]ListenRule)
		return err
	}

	next := make(map[ListenKey]ListenRule, len(rows))
	for _, row := range rows {
		next[ListenKey{Domain: row.SourceDomain, Table: row.SourceTable}] = ListenRule{
			Create:     row.ListenCreate,
			Update:     row.ListenUpdate,
			Delete:     row.ListenDelete,
			TTLSeconds: row.CacheTTLSeconds,
		}
	}
	c.rules = next
	return nil
}
