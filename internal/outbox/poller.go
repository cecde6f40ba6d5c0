package outbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fjod/storefront/internal/docstore"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const DefaultTopic = "storefront-orders"

// MessageWriter is the part of *kafka.Writer the poller needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Poller drains the outbox collection into Kafka. An event is deleted only after
// the broker acknowledged it, so delivery is at least once.
type Poller struct {
	store     docstore.Store
	writer    MessageWriter
	breaker   *gobreaker.CircuitBreaker[struct{}]
	logger    *zap.Logger
	tick      time.Duration
	timeout   time.Duration
	batchSize int
}

type PollerOption func(*Poller)

func WithTick(d time.Duration) PollerOption {
	return func(p *Poller) { p.tick = d }
}

func WithBatchSize(n int) PollerOption {
	return func(p *Poller) { p.batchSize = n }
}

func WithBreakerSettings(st gobreaker.Settings) PollerOption {
	return func(p *Poller) { p.breaker = gobreaker.NewCircuitBreaker[struct{}](st) }
}

func NewPoller(store docstore.Store, writer MessageWriter, logger *zap.Logger, opts ...PollerOption) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		store:     store,
		writer:    writer,
		logger:    logger,
		tick:      time.Second,
		timeout:   5 * time.Second,
		batchSize: 100,
	}
	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "outbox-kafka",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := p.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("outbox round failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending publishes the oldest pending events and returns how many were published.
func (p *Poller) ProcessPending(ctx context.Context) (int, error) {
	events, err := docstore.ListAs[Event](ctx, p.store, Collection)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch events: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	if len(events) > p.batchSize {
		events = events[:p.batchSize]
	}

	published := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return published, err
			}
			p.logger.Error("failed to publish event", zap.String("event_id", event.ID), zap.Error(err))
			continue
		}

		if err := p.store.Delete(ctx, Collection, event.ID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			// published again next round; consumers ignore duplicates
			p.logger.Error("failed to delete published event", zap.String("event_id", event.ID), zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}

func (p *Poller) publish(ctx context.Context, event Event) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return struct{}{}, p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(event.AggregateID),
			Value: []byte(event.Payload),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "event_id", Value: []byte(event.ID)},
			},
		})
	})
	return err
}
