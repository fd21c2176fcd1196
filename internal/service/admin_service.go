package service

import (
	"context"

	"github.com/fabrica-platform/esb-relay/internal/cache"
	"github.com/fabrica-platform/esb-relay/internal/capture"
	"github.com/fabrica-platform/esb-relay/internal/model"
	"github.com/fabrica-platform/esb-relay/internal/outbox"
	"github.com/fabrica-platform/esb-relay/internal/registry"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AdminService is the thin control plane over the relay's config tables.
// Config writes invalidate the in-process rule caches so the interceptor and
// subscriber observe new rules without a restart.
type AdminService struct {
	db           *gorm.DB
	outboxRepo   *outbox.Repository
	store        *cache.Store
	domains      *registry.Repository
	captureRules *capture.RuleCache
	listenRules  *cache.ListenRuleCache
	log          *zap.SugaredLogger
}

func NewAdminService(db *gorm.DB, outboxRepo *outbox.Repository, store *cache.Store,
	domains *registry.Repository, captureRules *capture.RuleCache,
	listenRules *cache.ListenRuleCache, log *zap.SugaredLogger) *AdminService {
	return &AdminService{
		db:           db,
		outboxRepo:   outboxRepo,
		store:        store,
		domains:      domains,
		captureRules: captureRules,
		listenRules:  listenRules,
		log:          log,
	}
}

// InvalidateConfigCache forces an immediate reload of both rule caches.
func (s *AdminService) InvalidateConfigCache(ctx context.Context) error {
	if s.captureRules != nil {
		if err := s.captureRules.ForceRefresh(ctx); err != nil {
			return err
		}
	}
	if s.listenRules != nil {
		if err := s.listenRules.ForceRefresh(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *AdminService) ListOutboxConfigs(ctx context.Context) ([]model.OutboxConfig, error) {
	var cfgs []model.OutboxConfig
	err := s.db.WithContext(ctx).Order("schema_name, table_name").Find(&cfgs).Error
	return cfgs, err
}

// SaveOutboxConfig upserts a capture rule and refreshes the rule cache.
func (s *AdminService) SaveOutboxConfig(ctx context.Context, cfg *model.OutboxConfig) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "schema_name"}, {Name: "table_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"capture_insert", "capture_update", "capture_delete", "is_active", "updated_at",
		}),
	}).Create(cfg).Error
	if err != nil {
		return err
	}
	return s.InvalidateConfigCache(ctx)
}

func (s *AdminService) DeleteOutboxConfig(ctx context.Context, schema, table string) error {
	err := s.db.WithContext(ctx).
		Where("schema_name = ? AND table_name = ?", schema, table).
		Delete(&model.OutboxConfig{}).Error
	if err != nil {
		return err
	}
	return s.InvalidateConfigCache(ctx)
}

func (s *AdminService) ListCacheConfigs(ctx context.Context) ([]model.CacheConfig, error) {
	var cfgs []model.CacheConfig
	err := s.db.WithContext(ctx).Order("source_domain, source_schema, source_table").Find(&cfgs).Error
	return cfgs, err
}

// SaveCacheConfig upserts a listen rule and refreshes the rule cache.
func (s *AdminService) SaveCacheConfig(ctx context.Context, cfg *model.CacheConfig) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_domain"}, {Name: "source_schema"}, {Name: "source_table"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"listen_create", "listen_update", "listen_delete", "is_active",
			"cache_ttl_seconds", "updated_at",
		}),
	}).Create(cfg).Error
	if err != nil {
		return err
	}
	return s.InvalidateConfigCache(ctx)
}

func (s *AdminService) DeleteCacheConfig(ctx context.Context, domain, schema, table string) error {
	err := s.db.WithContext(ctx).
		Where("source_domain = ? AND source_schema = ? AND source_table = ?", domain, schema, table).
		Delete(&model.CacheConfig{}).Error
	if err != nil {
		return err
	}
	return s.InvalidateConfigCache(ctx)
}

func (s *AdminService) ListDomains(ctx context.Context) ([]model.EsbDomain, error) {
	return s.domains.List(ctx)
}

func (s *AdminService) SaveDomain(ctx context.Context, dom *model.EsbDomain) error {
	return s.domains.Save(ctx, dom)
}

func (s *AdminService) DeleteDomain(ctx context.Context, name string) error {
	return s.domains.Delete(ctx, name)
}

// PendingOutbox reports the current publish backlog for operators.
func (s *AdminService) PendingOutbox(ctx context.Context) (int64, error) {
	return s.outboxRepo.CountPending(ctx)
}

// LookupCacheEntry fetches one active materialized entry.
func (s *AdminService) LookupCacheEntry(ctx context.Context, domain, table, aggregateID string) (*model.CacheEntry, error) {
	return s.store.Lookup(ctx, domain, table, aggregateID)
}

// ListCacheEntries lists a tenant's live entries for one upstream table.
func (s *AdminService) ListCacheEntries(ctx context.Context, domain, table, tenantID string) ([]model.CacheEntry, error) {
	return s.store.ListActive(ctx, domain, table, tenantID)
}
