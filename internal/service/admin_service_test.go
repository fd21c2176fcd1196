package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fabrica-platform/esb-relay/internal/cache"
	"github.com/fabrica-platform/esb-relay/internal/capture"
	"github.com/fabrica-platform/esb-relay/internal/logger"
	"github.com/fabrica-platform/esb-relay/internal/model"
	"github.com/fabrica-platform/esb-relay/internal/outbox"
	"github.com/fabrica-platform/esb-relay/internal/registry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type relayFixture struct {
	db    *gorm.DB
	svc   *AdminService
	sink  *outbox.MockSink
	pub   *outbox.Publisher
	sub   *cache.Subscriber
	store *cache.Store
}

var relayDBSeq int

func newRelayFixture(t *testing.T) *relayFixture {
	relayDBSeq++
	dsn := fmt.Sprintf("file:relay%d?mode=memory&cache=shared", relayDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.OutboxRecord{}, &model.OutboxConfig{},
		&model.CacheEntry{}, &model.CacheConfig{}, &model.EsbDomain{},
		&model.Product{},
	))

	log, _ := logger.NewLogger()
	captureRules := capture.NewRuleCache(db, time.Hour, log)
	listenRules := cache.NewListenRuleCache(db, time.Hour, log)

	ic := capture.NewInterceptor(captureRules, log)
	ic.RegisterAggregate(model.Product{}, "fabrica", "product")
	assert.NoError(t, db.Use(ic))

	outboxRepo := outbox.NewRepository(db)
	store := cache.NewStore(db, nil, log)
	domains := registry.NewRepository(db)
	svc := NewAdminService(db, outboxRepo, store, domains, captureRules, listenRules, log)

	sink := outbox.NewMockSink()
	pub := outbox.NewPublisher(outboxRepo, sink, outbox.PublisherOptions{
		Domain:      "product",
		TopicPrefix: "product",
	}, log)
	sub := cache.NewSubscriber(db, store, listenRules, domains,
		cache.SubscriberOptions{GroupID: "test-cache"}, log)

	return &relayFixture{db: db, svc: svc, sink: sink, pub: pub, sub: sub, store: store}
}

// TestRelay_EndToEnd drives one product insert through capture, publish, and
// cache materialization.
func TestRelay_EndToEnd(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	// control plane: the interceptor observes new config without a restart
	assert.NoError(t, f.svc.SaveDomain(ctx, &model.EsbDomain{
		DomainName: "product", DisplayName: "Product Domain",
		KafkaTopicPrefix: "product", SchemaName: "fabrica",
		PublishesEvents: true, IsActive: true,
	}))
	assert.NoError(t, f.svc.SaveOutboxConfig(ctx, &model.OutboxConfig{
		SchemaName: "fabrica", TargetTable: "product",
		CaptureInsert: true, IsActive: true,
	}))
	assert.NoError(t, f.svc.SaveCacheConfig(ctx, &model.CacheConfig{
		SourceDomain: "product", SourceSchema: "fabrica", SourceTable: "product",
		ListenCreate: true, ListenUpdate: true, ListenDelete: true, IsActive: true,
	}))

	// business mutation commits together with its outbox record
	p := model.Product{
		ID: "p-1", TenantID: "t-1", Name: "Anvil", SKU: "SKU-1",
		Price: decimal.NewFromInt(100), Stock: 5,
	}
	assert.NoError(t, f.db.Create(&p).Error)

	pending, err := f.svc.PendingOutbox(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	// publisher ships it to the bus
	assert.NoError(t, f.pub.ProcessOnce(ctx))
	msgs := f.sink.Messages()
	assert.Len(t, msgs, 1)
	assert.Equal(t, "product.product", msgs[0].Topic)
	assert.Equal(t, "p-1", msgs[0].Key)

	env, err := outbox.DecodeEnvelope(msgs[0].Value)
	assert.NoError(t, err)
	assert.Equal(t, "product.created", env.EventType)
	var payload map[string]interface{}
	assert.NoError(t, json.Unmarshal(env.EventData, &payload))
	assert.Equal(t, "Anvil", payload["name"])

	pending, err = f.svc.PendingOutbox(ctx)
	assert.NoError(t, err)
	assert.Zero(t, pending)

	// consuming side materializes the entry at version 1
	assert.NoError(t, f.sub.HandleMessage(ctx, "product", msgs[0].Value))
	entry, err := f.svc.LookupCacheEntry(ctx, "product", "product", "p-1")
	assert.NoError(t, err)
	assert.EqualValues(t, 1, entry.Version)
	assert.False(t, entry.IsDeleted)
	assert.Equal(t, "t-1", entry.TenantID)

	// redelivery of the same message leaves the entry untouched
	assert.NoError(t, f.sub.HandleMessage(ctx, "product", msgs[0].Value))
	entry, err = f.svc.LookupCacheEntry(ctx, "product", "product", "p-1")
	assert.NoError(t, err)
	assert.EqualValues(t, 1, entry.Version)

	entries, err := f.svc.ListCacheEntries(ctx, "product", "product", "t-1")
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestAdminService_DeactivateConfig flips rules and a domain to inactive
// through the upsert path and checks the false actually lands: capture stops,
// and re-reads report the row inactive.
func TestAdminService_DeactivateConfig(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.svc.SaveOutboxConfig(ctx, &model.OutboxConfig{
		SchemaName: "fabrica", TargetTable: "product",
		CaptureInsert: true, IsActive: true,
	}))
	assert.NoError(t, f.db.Create(&model.Product{
		ID: "p-1", TenantID: "t-1", Name: "Anvil", SKU: "SKU-1",
		Price: decimal.NewFromInt(100),
	}).Error)
	pending, err := f.svc.PendingOutbox(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	assert.NoError(t, f.svc.SaveOutboxConfig(ctx, &model.OutboxConfig{
		SchemaName: "fabrica", TargetTable: "product",
		CaptureInsert: true, IsActive: false,
	}))
	cfgs, err := f.svc.ListOutboxConfigs(ctx)
	assert.NoError(t, err)
	assert.Len(t, cfgs, 1)
	assert.False(t, cfgs[0].IsActive)

	// the deactivated rule stops capture immediately
	assert.NoError(t, f.db.Create(&model.Product{
		ID: "p-2", TenantID: "t-1", Name: "Hammer", SKU: "SKU-2",
		Price: decimal.NewFromInt(20),
	}).Error)
	pending, err = f.svc.PendingOutbox(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	assert.NoError(t, f.svc.SaveCacheConfig(ctx, &model.CacheConfig{
		SourceDomain: "product", SourceSchema: "fabrica", SourceTable: "product",
		ListenCreate: true, IsActive: true,
	}))
	assert.NoError(t, f.svc.SaveCacheConfig(ctx, &model.CacheConfig{
		SourceDomain: "product", SourceSchema: "fabrica", SourceTable: "product",
		ListenCreate: true, IsActive: false,
	}))
	ccfgs, err := f.svc.ListCacheConfigs(ctx)
	assert.NoError(t, err)
	assert.Len(t, ccfgs, 1)
	assert.False(t, ccfgs[0].IsActive)

	assert.NoError(t, f.svc.SaveDomain(ctx, &model.EsbDomain{
		DomainName: "product", KafkaTopicPrefix: "product", SchemaName: "fabrica",
		PublishesEvents: true, IsActive: true,
	}))
	assert.NoError(t, f.svc.SaveDomain(ctx, &model.EsbDomain{
		DomainName: "product", KafkaTopicPrefix: "product", SchemaName: "fabrica",
		PublishesEvents: true, IsActive: false,
	}))
	doms, err := f.svc.ListDomains(ctx)
	assert.NoError(t, err)
	assert.Len(t, doms, 1)
	assert.False(t, doms[0].IsActive)
}

func TestAdminService_ConfigLifecycle(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.svc.SaveOutboxConfig(ctx, &model.OutboxConfig{
		SchemaName: "fabrica", TargetTable: "customer",
		CaptureInsert: true, IsActive: true,
	}))
	// upsert flips the same row instead of duplicating it
	assert.NoError(t, f.svc.SaveOutboxConfig(ctx, &model.OutboxConfig{
		SchemaName: "fabrica", TargetTable: "customer",
		CaptureInsert: true, CaptureUpdate: true, IsActive: true,
	}))
	cfgs, err := f.svc.ListOutboxConfigs(ctx)
	assert.NoError(t, err)
	count := 0
	for _, cfg := range cfgs {
		if cfg.TargetTable == "customer" {
			count++
			assert.True(t, cfg.CaptureUpdate)
		}
	}
	assert.Equal(t, 1, count)

	assert.NoError(t, f.svc.DeleteOutboxConfig(ctx, "fabrica", "customer"))
	cfgs, err = f.svc.ListOutboxConfigs(ctx)
	assert.NoError(t, err)
	for _, cfg := range cfgs {
		assert.NotEqual(t, "customer", cfg.TargetTable)
	}
}
