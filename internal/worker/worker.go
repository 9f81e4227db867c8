package worker

import (
	"context"

	"outpost-sync/internal/broker"
	"outpost-sync/internal/models"
	"outpost-sync/internal/service"
	"outpost-sync/internal/util"

	"go.uber.org/zap"
)

// SyncWorker executes queued sync requests in the background
type SyncWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	syncService  *service.SyncService
	logger       *zap.Logger
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(consumer *broker.Consumer, syncService *service.SyncService) *SyncWorker {
	w := &SyncWorker{
		consumer:    consumer,
		syncService: syncService,
		logger:      util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnSyncRequested(w.handleSyncRequested)
	w.eventHandler = eventHandler

	return w
}

// handleSyncRequested runs one queued sync. Failures are already reflected in
// the audit log by the service; the error is logged and the message committed
// so a permanently failing pair does not wedge the consumer group.
func (w *SyncWorker) handleSyncRequested(ctx context.Context, event *models.SyncRequestedEvent) error {
	w.logger.Info("Processing queued sync",
		zap.String("event_id", event.EventID),
		zap.String("source", event.SourceName),
		zap.String("target", event.TargetName),
		zap.String("strategy", event.Strategy))

	record, err := w.syncService.TriggerSync(ctx, event.SourceName, event.TargetName, event.Strategy)
	if err != nil {
		w.logger.Error("Queued sync failed",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return nil
	}

	w.logger.Info("Queued sync finished",
		zap.String("event_id", event.EventID),
		zap.String("record_id", record.ID),
		zap.String("status", record.Status))
	return nil
}

// Start starts the worker
func (w *SyncWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting sync worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SyncWorker) Stop() error {
	w.logger.Info("Stopping sync worker")
	return w.consumer.Close()
}
