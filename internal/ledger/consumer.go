package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fjod/storefront/internal/outbox"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Recorder is the write side of the ledger.
type Recorder interface {
	Record(ctx context.Context, oc outbox.OrderCompleted) error
}

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaReader(topic, groupID string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

// Consumer records order.completed events into the ledger. Offsets are committed
// after the event is recorded, or when it can never be recorded. A message that
// fails to record is retried in place, so no later offset is committed past it.
type Consumer struct {
	repo   Recorder
	reader MessageReader
	logger *zap.Logger

	initialInterval time.Duration
	maxInterval     time.Duration
}

type ConsumerOption func(*Consumer)

// WithRetryInterval bounds the backoff between failed fetches and failed records.
func WithRetryInterval(initial, ceiling time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.initialInterval = initial
		c.maxInterval = ceiling
	}
}

func NewConsumer(repo Recorder, reader MessageReader, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Consumer{
		repo:            repo,
		reader:          reader,
		logger:          logger,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Consumer) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = c.maxInterval
	b.Reset()
	return b
}

func (c *Consumer) Run(ctx context.Context) {
	fetchBackOff := c.newBackOff()
	for {
		if ctx.Err() != nil {
			return
		}

		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			wait := fetchBackOff.NextBackOff()
			c.logger.Error("error reading message", zap.Duration("retry_in", wait), zap.Error(err))
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		fetchBackOff.Reset()

		if !c.record(ctx, m) {
			return
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// record handles m until it succeeds. It returns false when ctx ends first.
func (c *Consumer) record(ctx context.Context, m kafka.Message) bool {
	b := c.newBackOff()
	for attempt := 1; ; attempt++ {
		err := c.Handle(ctx, m)
		if err == nil {
			return true
		}
		wait := b.NextBackOff()
		c.logger.Error("failed to record message",
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
		if !sleep(ctx, wait) {
			return false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}

// Handle records one message. Messages that are not order.completed or cannot be
// decoded are skipped without error; only store failures are returned.
func (c *Consumer) Handle(ctx context.Context, m kafka.Message) error {
	if t := eventType(m); t != outbox.EventOrderCompleted {
		c.logger.Debug("skipping event", zap.String("event_type", t))
		return nil
	}

	oc, err := outbox.DecodeOrderCompleted(m.Value)
	if err != nil {
		c.logger.Warn("error parsing message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	if err := c.repo.Record(ctx, oc); err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			c.logger.Info("order already recorded, skipping", zap.String("order_id", oc.OrderID))
			return nil
		}
		return err
	}

	c.logger.Info("order recorded", zap.String("order_id", oc.OrderID), zap.String("total", oc.Total.StringFixed(2)))
	return nil
}
