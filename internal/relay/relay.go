// Package relay drains the durable event outbox into the broker. Delivery is
// at-least-once: an event is acknowledged only after the broker confirmed the
// publish, and failed attempts are retried with bounded exponential backoff
// until a dead-letter cap.
package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/formworks/formworks/internal/forms/domain"
	"github.com/formworks/formworks/internal/forms/storage"
)

// Publisher is the broker surface the relay needs: a confirmed publish of one
// message with a dedupe id.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, msgID string) error
}

// Config tunes the drain loop.
type Config struct {
	// Consumer names this relay instance for lease ownership.
	Consumer string
	// BatchSize caps the events leased per drain pass.
	BatchSize int
	// PollInterval is the pause between drain passes.
	PollInterval time.Duration
	// LeaseTTL bounds how long a leased event stays invisible to other
	// consumers before a crash is assumed.
	LeaseTTL time.Duration
	// MaxAttempts is the dead-letter cap.
	MaxAttempts int
	// RetryBaseDelay seeds the exponential backoff.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff.
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Consumer == "" {
		c.Consumer = "relay"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
	return c
}

// Relay is the background outbox drainer.
type Relay struct {
	outbox    storage.OutboxStore
	publisher Publisher
	logger    *zap.Logger
	config    Config
	clock     func() time.Time
}

// Option customizes a Relay.
type Option func(*Relay)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Relay) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New builds a Relay over the given outbox store and publisher.
func New(outbox storage.OutboxStore, publisher Publisher, config Config, opts ...Option) *Relay {
	r := &Relay{
		outbox:    outbox,
		publisher: publisher,
		logger:    zap.NewNop(),
		config:    config.withDefaults(),
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run drains the outbox until the context is canceled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started",
		zap.String("consumer", r.config.Consumer),
		zap.Duration("poll_interval", r.config.PollInterval),
	)
	for {
		if _, err := r.Drain(ctx); err != nil {
			r.logger.Warn("outbox drain pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain runs one lease-publish-resolve pass and reports how many events were
// delivered.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	now := r.clock().UTC()
	events, err := r.outbox.LeaseOutboxEvents(ctx, r.config.Consumer, r.config.BatchSize, now, r.config.LeaseTTL)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, event := range events {
		if err := r.deliver(ctx, event); err != nil {
			r.resolveFailure(ctx, event, err)
			continue
		}
		if err := r.outbox.MarkOutboxSucceeded(ctx, event.ID, r.config.Consumer, r.clock().UTC()); err != nil {
			r.logger.Warn("outbox ack failed",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// deliver publishes the event on each stream its subscription snapshot opted
// into. The PUBLIC subject carries the identifier-only meta body; the PRIVATE
// subject carries the full payload. Each carries its own dedupe id so broker
// deduplication works per stream.
func (r *Relay) deliver(ctx context.Context, event storage.OutboxEvent) error {
	if event.PublicStream {
		subject := domain.PublicSubject(event.EventType)
		if err := r.publisher.Publish(ctx, subject, []byte(event.MetaJSON), event.ID+":public"); err != nil {
			return err
		}
	}
	if event.PrivateStream {
		subject := domain.PrivateSubject(event.EventType)
		if err := r.publisher.Publish(ctx, subject, []byte(event.PayloadJSON), event.ID+":private"); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) resolveFailure(ctx context.Context, event storage.OutboxEvent, cause error) {
	if event.AttemptCount >= r.config.MaxAttempts {
		// Exhaustion is logged, never fatal: the row stays parked for
		// operator inspection and the drain loop keeps going.
		r.logger.Warn("outbox event dead-lettered",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.EventType)),
			zap.Int("attempts", event.AttemptCount),
			zap.Error(cause),
		)
		if err := r.outbox.MarkOutboxDead(ctx, event.ID, r.config.Consumer, cause.Error(), r.clock().UTC()); err != nil {
			r.logger.Warn("outbox dead-letter mark failed",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
		}
		return
	}

	delay := r.backoff(event.AttemptCount)
	r.logger.Warn("outbox publish failed, will retry",
		zap.String("event_id", event.ID),
		zap.Int("attempt", event.AttemptCount),
		zap.Duration("retry_in", delay),
		zap.Error(cause),
	)
	if err := r.outbox.MarkOutboxRetry(ctx, event.ID, r.config.Consumer, r.clock().UTC().Add(delay), cause.Error()); err != nil {
		r.logger.Warn("outbox retry mark failed",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

// backoff doubles the base delay per completed attempt, capped at the
// configured maximum.
func (r *Relay) backoff(attempts int) time.Duration {
	delay := r.config.RetryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= r.config.RetryMaxDelay {
			return r.config.RetryMaxDelay
		}
	}
	if delay > r.config.RetryMaxDelay {
		return r.config.RetryMaxDelay
	}
	return delay
}
