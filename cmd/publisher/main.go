package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fabrica-platform/esb-relay/internal/config"
	"github.com/fabrica-platform/esb-relay/internal/logger"
	"github.com/fabrica-platform/esb-relay/internal/outbox"
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

	sink, err := outbox.NewKafkaSink(cfg.Kafka.Brokers)
	if err != nil {
		log.Fatalf("kafka sink: %v", err)
	}
	defer sink.Close()

	pub := outbox.NewPublisher(outbox.NewRepository(gdb), sink, outbox.PublisherOptions{
		Domain:       cfg.Domain.Name,
		TopicPrefix:  cfg.Domain.TopicPrefix,
		PollInterval: cfg.Publisher.PollInterval(),
		BatchSize:    cfg.Publisher.BatchSize,
		RetryInitial: cfg.Publisher.RetryInitial(),
		RetryMax:     cfg.Publisher.RetryMax(),
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("publisher: %v", err)
	}
}
