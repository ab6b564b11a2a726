package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/pkg/jobs"
	"github.com/noah-isme/sma-portal-api/pkg/middleware/requestid"
)

// EventPublisher receives domain events after the state change has been committed.
// Publishing never fails the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event models.DomainEvent)
}

// EventSubscriber consumes domain events. Each subscriber is delivered and retried
// independently.
type EventSubscriber struct {
	Name   string
	Handle func(ctx context.Context, event models.DomainEvent) error
}

// EventBusConfig configures the asynchronous delivery queue.
type EventBusConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// EventBus fans domain events out to subscribers through a job queue.
type EventBus struct {
	subscribers []EventSubscriber
	queue       *jobs.Queue
	metrics     *MetricsService
	logger      *zap.Logger
	clock       Clock
}

// NewEventBus constructs an EventBus. Call Start before publishing to enable async delivery.
func NewEventBus(cfg EventBusConfig, metrics *MetricsService, logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := &EventBus{metrics: metrics, logger: logger, clock: SystemClock}
	bus.queue = jobs.NewQueue("domain-events", bus.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return bus
}

// Subscribe registers a subscriber. It must be called before Start.
func (b *EventBus) Subscribe(sub EventSubscriber) {
	if sub.Name == "" || sub.Handle == nil {
		return
	}
	b.subscribers = append(b.subscribers, sub)
}

// Start launches the delivery workers.
func (b *EventBus) Start(ctx context.Context) {
	b.queue.Start(ctx)
}

// Stop drains pending deliveries and stops the workers.
func (b *EventBus) Stop() {
	b.queue.Stop()
}

// Publish stamps the event and enqueues one delivery per subscriber. When the queue
// is not running the delivery happens inline. When the buffer is full the delivery is
// dropped and counted, so a slow subscriber never holds up the request.
func (b *EventBus) Publish(ctx context.Context, event models.DomainEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = b.clock()
	}
	if event.RequestID == "" {
		event.RequestID = requestid.FromContext(ctx)
	}
	b.metrics.RecordTransition(event.Type)

	for _, sub := range b.subscribers {
		job := jobs.Job{ID: event.ID + ":" + sub.Name, Type: sub.Name, Payload: event}
		err := b.queue.Enqueue(context.WithoutCancel(ctx), job)
		if err == nil {
			continue
		}
		if errors.Is(err, jobs.ErrQueueFull) {
			b.metrics.RecordEventDelivery(sub.Name, false)
			b.logger.Error("event delivery dropped", zap.String("event", string(event.Type)), zap.String("subscriber", sub.Name), zap.Error(err))
			continue
		}
		if err := b.deliver(context.WithoutCancel(ctx), job); err != nil {
			b.logger.Warn("inline event delivery failed", zap.String("event", string(event.Type)), zap.String("subscriber", sub.Name), zap.Error(err))
		}
	}
}

func (b *EventBus) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.DomainEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	for _, sub := range b.subscribers {
		if sub.Name != job.Type {
			continue
		}
		err := sub.Handle(ctx, event)
		b.metrics.RecordEventDelivery(sub.Name, err == nil)
		return err
	}
	return fmt.Errorf("no subscriber named %s", job.Type)
}

// AuditWriter persists audit log entries.
type AuditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AuditSubscriber records every event as an audit log entry.
func AuditSubscriber(writer AuditWriter) EventSubscriber {
	return EventSubscriber{
		Name: "audit",
		Handle: func(ctx context.Context, event models.DomainEvent) error {
			values, err := json.Marshal(event.Payload)
			if err != nil {
				return fmt.Errorf("marshal audit payload: %w", err)
			}
			entry := &models.AuditLog{
				Action:    string(event.Type),
				Resource:  event.Resource,
				NewValues: values,
				CreatedAt: event.OccurredAt,
			}
			if event.ActorID != "" {
				entry.UserID = &event.ActorID
			}
			if event.ResourceID != "" {
				entry.ResourceID = &event.ResourceID
			}
			if event.RequestID != "" {
				entry.RequestID = &event.RequestID
			}
			return writer.Create(ctx, entry)
		},
	}
}

// ChannelPublisher broadcasts a payload on a named channel.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, value interface{}) error
}

// BroadcastSubscriber forwards every event to a Redis Pub/Sub channel.
func BroadcastSubscriber(publisher ChannelPublisher, channel string) EventSubscriber {
	return EventSubscriber{
		Name: "broadcast",
		Handle: func(ctx context.Context, event models.DomainEvent) error {
			return publisher.Publish(ctx, channel, event)
		},
	}
}

// CacheInvalidationSubscriber drops cached activity listings whenever enrollments
// or activity schedules change.
func CacheInvalidationSubscriber(cache *CacheService) EventSubscriber {
	return EventSubscriber{
		Name: "cache-invalidation",
		Handle: func(ctx context.Context, event models.DomainEvent) error {
			switch event.Type {
			case models.EventActivityCreated, models.EventActivitySlotsReplaced:
				return cache.Invalidate(ctx, ActivityCachePattern)
			}
			return nil
		},
	}
}
