package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"outpost-sync/internal/models"
	"outpost-sync/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing sync lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// pairKey partitions events by node pair so per-pair ordering is preserved
func pairKey(source, target string) string {
	return fmt.Sprintf("sync-%s-%s", source, target)
}

// PublishSyncRequested publishes SyncRequested event
func (ep *EventPublisher) PublishSyncRequested(ctx context.Context, event *models.SyncRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, pairKey(event.SourceName, event.TargetName), event)
}

// PublishSyncCompleted publishes SyncCompleted event
func (ep *EventPublisher) PublishSyncCompleted(ctx context.Context, event *models.SyncCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, pairKey(event.SourceName, event.TargetName), event)
}

// PublishSyncFailed publishes SyncFailed event
func (ep *EventPublisher) PublishSyncFailed(ctx context.Context, event *models.SyncFailedEvent) error {
	return ep.producer.PublishEvent(ctx, pairKey(event.SourceName, event.TargetName), event)
}

// EventHandler routes incoming sync events to registered handlers
type EventHandler struct {
	onSyncRequested func(context.Context, *models.SyncRequestedEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnSyncRequested registers a handler for SyncRequested events
func (eh *EventHandler) OnSyncRequested(handler func(context.Context, *models.SyncRequestedEvent) error) {
	eh.onSyncRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeSyncRequested:
		if eh.onSyncRequested != nil {
			var event models.SyncRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SyncRequested event: %w", err)
			}
			return eh.onSyncRequested(ctx, &event)
		}

	case models.EventTypeSyncCompleted, models.EventTypeSyncFailed:
		// Terminal lifecycle events are informational for downstream consumers.

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
