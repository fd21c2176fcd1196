package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fabrica-platform/esb-relay/internal/model"
	"go.uber.org/zap"
)

const (
	// DefaultPollInterval between poll cycles when the outbox is drained.
	DefaultPollInterval = time.Second
	// DefaultBatchSize bounds how many pending records one cycle loads.
	DefaultBatchSize = 100
	// DefaultRetryInitial is the first backoff delay after a publish failure.
	DefaultRetryInitial = 100 * time.Millisecond
	// DefaultRetryMax caps the exponential backoff.
	DefaultRetryMax = 30 * time.Second
	// maxAttemptsPerCycle bounds retries within one cycle; the record stays
	// pending and is retried on the next cycle.
	maxAttemptsPerCycle = 5
)

// PublisherOptions tunes the publish loop.
type PublisherOptions struct {
	Domain       string
	TopicPrefix  string
	PollInterval time.Duration
	BatchSize    int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// Publisher tails committed pending records and forwards them to the bus,
// marking each processed only after the bus acknowledged it. A crash between
// ack and mark republishes the record on restart: at-least-once, consumers
// dedup.
type Publisher struct {
	repo *Repository
	sink Sink
	log  *zap.SugaredLogger
	opts PublisherOptions
}

// NewPublisher applies defaults and builds the loop.
func NewPublisher(repo *Repository, sink Sink, opts PublisherOptions, log *zap.SugaredLogger) *Publisher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = DefaultRetryInitial
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = DefaultRetryMax
	}
	return &Publisher{repo: repo, sink: sink, log: log, opts: opts}
}

// Run executes the poll/publish loop until the context is cancelled. The
// in-flight batch is finished before returning so restarts reprocess as
// little as possible.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	p.log.Infow("outbox publisher started", "domain", p.opts.Domain, "poll_interval", p.opts.PollInterval)
	for {
		if err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Errorw("outbox publish cycle failed", "domain", p.opts.Domain, "err", err)
		}
		select {
		case <-ctx.Done():
			p.log.Infow("outbox publisher stopped", "domain", p.opts.Domain)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce publishes one batch in creation order. A record that cannot be
// published stops the batch: skipping it would reorder its aggregate's
// stream.
func (p *Publisher) ProcessOnce(ctx context.Context) error {
	recs, err := p.repo.PollPending(ctx, p.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("poll outbox: %w", err)
	}
	for _, rec := range recs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.publishOne(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishOne(ctx context.Context, rec model.OutboxRecord) error {
	value, err := json.Marshal(NewEnvelope(rec))
	if err != nil {
		// unpublishable record: park it so it does not wedge the stream
		p.log.Errorw("outbox record unmarshalable, marking failed",
			"domain", p.opts.Domain, "record", rec.ID, "err", err)
		return p.repo.MarkFailed(ctx, rec.ID, err.Error())
	}

	topic := p.Topic(rec.AggregateType)
	start := time.Now()
	if err := p.publishWithRetry(ctx, topic, rec.AggregateID, value); err != nil {
		p.log.Errorw("event publish failed",
			"domain", p.opts.Domain, "event_type", rec.EventType,
			"success", false, "duration", time.Since(start), "err", err)
		return err
	}
	p.log.Infow("event published",
		"domain", p.opts.Domain, "event_type", rec.EventType,
		"topic", topic, "success", true, "duration", time.Since(start))

	if err := p.repo.MarkProcessed(ctx, rec.ID); err != nil {
		// record stays pending and will be republished; consumers dedup
		return fmt.Errorf("mark processed %s: %w", rec.ID, err)
	}
	return nil
}

// Topic derives the bus topic for an aggregate type.
func (p *Publisher) Topic(aggregateType string) string {
	if p.opts.TopicPrefix == "" {
		return aggregateType
	}
	return fmt.Sprintf("%s.%s", p.opts.TopicPrefix, aggregateType)
}

func (p *Publisher) publishWithRetry(ctx context.Context, topic, key string, value []byte) error {
	delay := p.opts.RetryInitial
	var lastErr error
	for attempt := 1; attempt <= maxAttemptsPerCycle; attempt++ {
		lastErr = p.sink.Publish(ctx, topic, key, value)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttemptsPerCycle {
			break
		}
		p.log.Warnw("publish failed, retrying",
			"domain", p.opts.Domain, "topic", topic, "attempt", attempt,
			"retry_delay", delay, "err", lastErr)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > p.opts.RetryMax {
			delay = p.opts.RetryMax
		}
	}
	return lastErr
}
