package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fabrica-platform/esb-relay/internal/model"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// defaultLookasideTTL bounds redis entries for rows without their own TTL.
const defaultLookasideTTL = 5 * time.Minute

// ApplyEvent is one bus event normalized for the cache store.
type ApplyEvent struct {
	SourceDomain string
	SourceTable  string
	AggregateID  string
	TenantID     string
	EventType    string
	Action       string
	Payload      json.RawMessage
	EventID      string
	EventTime    time.Time
	TTLSeconds   *int
}

// Store materializes foreign entities in the local cache table. Upserts use
// compare-and-set on the source event time so concurrent or replayed
// deliveries cannot roll an entry backwards.
type Store struct {
	db  *gorm.DB
	rdb *redis.Client
	log *zap.SugaredLogger
}

// NewStore constructs the cache store; rdb may be nil to skip the redis
// lookaside.
func NewStore(db *gorm.DB, rdb *redis.Client, log *zap.SugaredLogger) *Store {
	return &Store{db: db, rdb: rdb, log: log}
}

// Apply upserts one event. Returns false when the event is stale (its token
// is at or before the stored one) or lost a concurrent race; staleness is
// expected under at-least-once delivery and is not an error.
func (s *Store) Apply(ctx context.Context, evt ApplyEvent) (bool, error) {
	entry := model.CacheEntry{
		SourceDomain:    evt.SourceDomain,
		SourceTable:     evt.SourceTable,
		AggregateID:     evt.AggregateID,
		TenantID:        evt.TenantID,
		EventType:       evt.EventType,
		Payload:         datatypes.JSON(evt.Payload),
		Version:         1,
		IsDeleted:       evt.Action == ActionDeleted,
		SourceEventID:   evt.EventID,
		SourceEventTime: evt.EventTime,
		ExpiresAt:       expiry(evt.TTLSeconds),
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_domain"}, {Name: "source_table"}, {Name: "aggregate_id"}},
		DoNothing: true,
	}).Create(&entry)
	if res.Error != nil {
		return false, fmt.Errorf("insert cache entry: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.invalidateLookaside(ctx, evt.SourceDomain, evt.SourceTable, evt.AggregateID)
		return true, nil
	}

	// existing key: advance only past the stored ordering token
	upd := s.db.WithContext(ctx).Model(&model.CacheEntry{}).
		Where("source_domain = ? AND source_table = ? AND aggregate_id = ? AND source_event_time < ?",
			evt.SourceDomain, evt.SourceTable, evt.AggregateID, evt.EventTime).
		Updates(map[string]interface{}{
			"tenant_id":         evt.TenantID,
			"event_type":        evt.EventType,
			"payload":           datatypes.JSON(evt.Payload),
			"version":           gorm.Expr("version + 1"),
			"is_deleted":        evt.Action == ActionDeleted,
			"source_event_id":   evt.EventID,
			"source_event_time": evt.EventTime,
			"updated_at":        time.Now(),
			"expires_at":        expiry(evt.TTLSeconds),
		})
	if upd.Error != nil {
		return false, fmt.Errorf("update cache entry: %w", upd.Error)
	}
	if upd.RowsAffected == 0 {
		// stale or lost a concurrent CAS; discard
		return false, nil
	}
	s.invalidateLookaside(ctx, evt.SourceDomain, evt.SourceTable, evt.AggregateID)
	return true, nil
}

// Lookup returns the active (not deleted, not expired) entry for a key,
// reading through the redis lookaside when available.
func (s *Store) Lookup(ctx context.Context, domain, table, aggregateID string) (*model.CacheEntry, error) {
	key := lookasideKey(domain, table, aggregateID)
	if s.rdb != nil {
		if raw, err := s.rdb.Get(ctx, key).Result(); err == nil {
			var entry model.CacheEntry
			if err := json.Unmarshal([]byte(raw), &entry); err == nil {
				return &entry, nil
			}
		}
	}

	var entry model.CacheEntry
	err := s.db.WithContext(ctx).
		Where("source_domain = ? AND source_table = ? AND aggregate_id = ? AND is_deleted = ?",
			domain, table, aggregateID, false).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		First(&entry).Error
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		ttl := defaultLookasideTTL
		if entry.ExpiresAt != nil {
			if left := time.Until(*entry.ExpiresAt); left < ttl {
				ttl = left
			}
		}
		if ttl > 0 {
			if raw, err := json.Marshal(entry); err == nil {
				if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
					s.log.Warnw("lookaside set failed", "key", key, "err", err)
				}
			}
		}
	}
	return &entry, nil
}

// ListActive returns a tenant's live entries for one upstream table.
func (s *Store) ListActive(ctx context.Context, domain, table, tenantID string) ([]model.CacheEntry, error) {
	var entries []model.CacheEntry
	err := s.db.WithContext(ctx).
		Where("source_domain = ? AND source_table = ? AND tenant_id = ? AND is_deleted = ?",
			domain, table, tenantID, false).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Find(&entries).Error
	return entries, err
}

// PurgeExpired removes entries (tombstones included) past their expiry.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now()).
		Delete(&model.CacheEntry{})
	return res.RowsAffected, res.Error
}

// RunReaper purges expired entries on a ticker until the context ends.
func (s *Store) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				s.log.Errorw("cache reaper failed", "err", err)
			} else if n > 0 {
				s.log.Infow("expired cache entries purged", "count", n)
			}
		}
	}
}

func (s *Store) invalidateLookaside(ctx context.Context, domain, table, aggregateID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, lookasideKey(domain, table, aggregateID)).Err(); err != nil {
		s.log.Warnw("lookaside invalidation failed", "err", err)
	}
}

func lookasideKey(domain, table, aggregateID string) string {
	return fmt.Sprintf("esbcache:%s:%s:%s", domain, table, aggregateID)
}

func expiry(ttlSeconds *int) *time.Time {
	if ttlSeconds == nil || *ttlSeconds <= 0 {
		return nil
	}
	t := time.Now().Add(time.Duration(*ttlSeconds) * time.Second)
	return &t
}
