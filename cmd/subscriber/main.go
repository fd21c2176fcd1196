package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fabrica-platform/esb-relay/internal/cache"
	"github.com/fabrica-platform/esb-relay/internal/config"
	"github.com/fabrica-platform/esb-relay/internal/logger"
	"github.com/fabrica-platform/esb-relay/internal/registry"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	store := cache.NewStore(gdb, rdb, log)
	rules := cache.NewListenRuleCache(gdb, cfg.RuleCache.RefreshInterval(), log)
	domains := registry.NewRepository(gdb)

	sub := cache.NewSubscriber(gdb, store, rules, domains, cache.SubscriberOptions{
		Brokers:             cfg.Kafka.Brokers,
		GroupID:             cfg.Subscriber.GroupID,
		ResubscribeInterval: cfg.Subscriber.ResubscribeInterval(),
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go store.RunReaper(ctx, cfg.Subscriber.ReapInterval())

	if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("subscriber: %v", err)
	}
}
