package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fabrica-platform/esb-relay/internal/cache"
	"github.com/fabrica-platform/esb-relay/internal/capture"
	"github.com/fabrica-platform/esb-relay/internal/config"
	"github.com/fabrica-platform/esb-relay/internal/logger"
	"github.com/fabrica-platform/esb-relay/internal/model"
	"github.com/fabrica-platform/esb-relay/internal/outbox"
	"github.com/fabrica-platform/esb-relay/internal/registry"
	"github.com/fabrica-platform/esb-relay/internal/service"
	httptransport "github.com/fabrica-platform/esb-relay/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.OutboxRecord{}, &model.OutboxConfig{},
		&model.CacheEntry{}, &model.CacheConfig{}, &model.EsbDomain{},
		&model.Product{}, &model.Customer{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. rule caches + change interceptor
	captureRules := capture.NewRuleCache(gdb, cfg.RuleCache.RefreshInterval(), log)
	listenRules := cache.NewListenRuleCache(gdb, cfg.RuleCache.RefreshInterval(), log)

	interceptor := capture.NewInterceptor(captureRules, log)
	interceptor.RegisterAggregate(model.Product{}, cfg.Domain.SchemaName, "product")
	interceptor.RegisterAggregate(model.Customer{}, cfg.Domain.SchemaName, "customer")
	if err := gdb.Use(interceptor); err != nil {
		log.Fatalf("register interceptor: %v", err)
	}

	// 6. repos & service
	outboxRepo := outbox.NewRepository(gdb)
	store := cache.NewStore(gdb, rdb, log)
	domains := registry.NewRepository(gdb)
	svc := service.NewAdminService(gdb, outboxRepo, store, domains, captureRules, listenRules, log)

	// 7. gin router
	router := httptransport.NewRouter(svc, cfg.RateLimit, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("esb-relay server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
