package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fabrica-platform/esb-relay/internal/model"
	"github.com/fabrica-platform/esb-relay/internal/outbox"
	"github.com/fabrica-platform/esb-relay/internal/registry"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reader is the read side of one bus subscription; satisfied by
// *kafka.Reader and by test fakes.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// SubscriberOptions tunes the consume loops.
type SubscriberOptions struct {
	Brokers []string
	GroupID string
	// ResubscribeInterval is how often an idle subscriber re-resolves its
	// subscriptions while no active CacheConfig row exists yet.
	ResubscribeInterval time.Duration
}

const defaultResubscribeInterval = 30 * time.Second

// Subscriber consumes upstream domains' topics per the local CacheConfig and
// materializes entries through the Store.
type Subscriber struct {
	db      *gorm.DB
	store   *Store
	rules   *ListenRuleCache
	domains *registry.Repository
	log     *zap.SugaredLogger
	opts    SubscriberOptions

	newReader func(topic string) Reader
}

// NewSubscriber wires the consume side. The kafka reader factory can be
// overridden in tests.
func NewSubscriber(db *gorm.DB, store *Store, rules *ListenRuleCache, domains *registry.Repository, opts SubscriberOptions, log *zap.SugaredLogger) *Subscriber {
	s := &Subscriber{
		db:      db,
		store:   store,
		rules:   rules,
		domains: domains,
		log:     log,
		opts:    opts,
	}
	s.newReader = func(topic string) Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  opts.Brokers,
			GroupID:  opts.GroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	return s
}

type subscription struct {
	SourceDomain string
	Topic        string
}

// subscriptions resolves active CacheConfig rows to bus topics via the
// domain registry's topic prefixes.
func (s *Subscriber) subscriptions(ctx context.Context) ([]subscription, error) {
	var cfgs []model.CacheConfig
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&cfgs).Error; err != nil {
		return nil, fmt.Errorf("load cache configs: %w", err)
	}

	seen := make(map[string]struct{})
	var subs []subscription
	for _, cfg := range cfgs {
		dom, err := s.domains.GetByName(ctx, cfg.SourceDomain)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.log.Warnw("cache config references unknown domain, skipping",
					"source_domain", cfg.SourceDomain, "source_table", cfg.SourceTable)
				continue
			}
			return nil, err
		}
		if !dom.IsActive || !dom.PublishesEvents {
			continue
		}
		topic := fmt.Sprintf("%s.%s", dom.KafkaTopicPrefix, cfg.SourceTable)
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		subs = append(subs, subscription{SourceDomain: cfg.SourceDomain, Topic: topic})
	}
	return subs, nil
}

// Run opens one consume loop per subscribed topic and blocks until the
// context is cancelled and all loops have drained. A freshly provisioned
// domain may have no CacheConfig rows yet; the subscriber idles and
// re-resolves instead of dying under its supervisor.
func (s *Subscriber) Run(ctx context.Context) error {
	interval := s.opts.ResubscribeInterval
	if interval <= 0 {
		interval = defaultResubscribeInterval
	}

	var subs []subscription
	for {
		var err error
		subs, err = s.subscriptions(ctx)
		if err != nil {
			return err
		}
		if len(subs) > 0 {
			break
		}
		s.log.Infow("no active cache subscriptions, idling", "retry_in", interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub subscription) {
			defer wg.Done()
			s.consume(ctx, sub, s.newReader(sub.Topic))
		}(sub)
	}
	wg.Wait()
	return ctx.Err()
}

// consume reads one topic until cancellation. Malformed messages are logged
// and skipped; the loop never dies on a single bad event.
func (s *Subscriber) consume(ctx context.Context, sub subscription, r Reader) {
	defer r.Close()
	s.log.Infow("cache subscription started", "source_domain", sub.SourceDomain, "topic", sub.Topic)

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Infow("cache subscription stopped", "topic", sub.Topic)
				return
			}
			s.log.Errorw("bus read error", "topic", sub.Topic, "err", err)
			time.Sleep(time.Second)
			continue
		}
		if err := s.HandleMessage(ctx, sub.SourceDomain, msg.Value); err != nil {
			s.log.Errorw("event handling failed", "topic", sub.Topic, "err", err)
		}
	}
}

// HandleMessage applies one raw bus message for the given source domain.
// Unlistened and stale events are discarded silently.
func (s *Subscriber) HandleMessage(ctx context.Context, sourceDomain string, value []byte) error {
	env, err := outbox.DecodeEnvelope(value)
	if err != nil {
		s.log.Warnw("malformed message skipped", "source_domain", sourceDomain, "err", err)
		return nil
	}

	action := env.Action()
	rule, ok := s.rules.Accepts(ctx, sourceDomain, env.AggregateType, action)
	if !ok {
		return nil
	}

	applied, err := s.store.Apply(ctx, ApplyEvent{
		SourceDomain: sourceDomain,
		SourceTable:  env.AggregateType,
		AggregateID:  env.AggregateID,
		TenantID:     env.TenantID,
		EventType:    env.EventType,
		Action:       action,
		Payload:      env.EventData,
		EventID:      env.ID,
		EventTime:    env.CreatedAt,
		TTLSeconds:   rule.TTLSeconds,
	})
	if err != nil {
		return err
	}
	if !applied {
		s.log.Debugw("stale event discarded",
			"source_domain", sourceDomain, "event_id", env.ID, "event_type", env.EventType)
	}
	return nil
}
