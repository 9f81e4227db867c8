package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"outpost-sync/internal/models"
	"outpost-sync/internal/outpost"
	"outpost-sync/internal/util"

	"go.uber.org/zap"
)

// State tracks the orchestrator through one source→target reconciliation.
type State string

const (
	StateIdle      State = "IDLE"
	StateExporting State = "EXPORTING"
	StateImporting State = "IMPORTING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// Source produces export envelopes. Satisfied by *outpost.Client.
type Source interface {
	Name() string
	ExportInventory(ctx context.Context) (*models.ExportEnvelope, error)
}

// Target is the subset of outpost operations the orchestrator issues imports
// against. Satisfied by *outpost.Client.
type Target interface {
	Name() string
	ListInventory(ctx context.Context, category string) ([]models.InventoryItem, error)
	CreateInventoryItem(ctx context.Context, create models.InventoryItemCreate) (*models.InventoryItem, error)
	UpdateInventoryItem(ctx context.Context, itemID int64, update models.InventoryItemUpdate) (*models.InventoryItem, error)
	DeleteInventoryItem(ctx context.Context, itemID int64) error
	ImportInventory(ctx context.Context, envelope *models.ExportEnvelope, strategy models.MergeStrategy) (*models.SyncStatistics, error)
}

// Orchestrator drives one export→transform→import pipeline. Create a fresh
// orchestrator per sync operation; independent operations against different
// node pairs share no state and may run concurrently.
type Orchestrator struct {
	mu     sync.Mutex
	state  State
	logger *zap.Logger
	now    func() time.Time
}

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		state:  StateIdle,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// State returns the current pipeline state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run exports the source inventory and applies it to the target with the
// given strategy. Per-item failures are recorded in the returned statistics
// and do not abort the batch; a non-nil error means the sync failed before
// any item was attempted.
func (o *Orchestrator) Run(ctx context.Context, source Source, target Target, strategy models.MergeStrategy) (*models.SyncStatistics, error) {
	ctx, span := util.StartSpan(ctx, "SyncOrchestrator.Run")
	defer span.End()

	util.SyncsStartedTotal.Inc()
	started := o.now()
	defer func() {
		util.SyncDuration.Observe(o.now().Sub(started).Seconds())
	}()

	o.logger.Info("Starting sync",
		zap.String("source", source.Name()),
		zap.String("target", target.Name()),
		zap.String("strategy", string(strategy)))

	o.setState(StateExporting)
	exportStart := o.now()
	envelope, err := source.ExportInventory(ctx)
	if err != nil {
		o.setState(StateFailed)
		util.SyncsFailedTotal.WithLabelValues("export").Inc()
		return nil, fmt.Errorf("export from %s failed: %w", source.Name(), err)
	}
	util.ExportDuration.Observe(o.now().Sub(exportStart).Seconds())

	if err := envelope.Validate(); err != nil {
		o.setState(StateFailed)
		util.SyncsFailedTotal.WithLabelValues("malformed_envelope").Inc()
		return nil, &outpost.APIError{Class: outpost.ClassFatal, Message: fmt.Sprintf("malformed envelope: %v", err), Err: err}
	}

	o.logger.Info("Export completed",
		zap.String("source", source.Name()),
		zap.Int("items", len(envelope.Items)))

	o.setState(StateImporting)
	stats, err := o.importEnvelope(ctx, target, envelope, strategy, started)
	if err != nil {
		o.setState(StateFailed)
		return nil, err
	}

	o.setState(StateCompleted)
	o.observeOutcome(stats)
	o.logger.Info("Sync completed",
		zap.String("source", source.Name()),
		zap.String("target", target.Name()),
		zap.Int("added", stats.ItemsAdded),
		zap.Int("updated", stats.ItemsUpdated),
		zap.Int("skipped", stats.ItemsSkipped),
		zap.Int("failed", stats.ItemsFailed))
	return stats, nil
}

// importEnvelope applies the envelope via the target's bulk endpoint, falling
// back to one operation per item when the target does not expose one.
func (o *Orchestrator) importEnvelope(ctx context.Context, target Target, envelope *models.ExportEnvelope, strategy models.MergeStrategy, started time.Time) (*models.SyncStatistics, error) {
	stats, err := target.ImportInventory(ctx, envelope, strategy)
	if err == nil {
		stats.Strategy = strategy
		if stats.StartedAt.IsZero() {
			stats.StartedAt = started
		}
		if stats.CompletedAt.IsZero() {
			stats.CompletedAt = o.now()
		}
		return stats, nil
	}
	if !outpost.IsNotFound(err) {
		util.SyncsFailedTotal.WithLabelValues("import").Inc()
		return nil, fmt.Errorf("import to %s failed: %w", target.Name(), err)
	}

	o.logger.Debug("Target has no bulk import endpoint, applying per item",
		zap.String("target", target.Name()))
	return o.importItemByItem(ctx, target, envelope, strategy, started)
}

// importItemByItem reconciles the envelope one item at a time. The target's
// current inventory is fetched once and indexed by (name, category); the
// index is kept current as items are written so that duplicate keys within
// one envelope reconcile deterministically.
func (o *Orchestrator) importItemByItem(ctx context.Context, target Target, envelope *models.ExportEnvelope, strategy models.MergeStrategy, started time.Time) (*models.SyncStatistics, error) {
	existing, err := target.ListInventory(ctx, "")
	if err != nil {
		util.SyncsFailedTotal.WithLabelValues("target_unreachable").Inc()
		return nil, fmt.Errorf("list inventory on %s failed: %w", target.Name(), err)
	}

	index := make(map[models.ItemKey]models.InventoryItem, len(existing))
	for _, item := range existing {
		index[item.Key()] = item
	}

	stats := &models.SyncStatistics{
		Strategy:  strategy,
		StartedAt: started,
	}

	if strategy == models.StrategyReplace {
		for _, item := range existing {
			if err := ctx.Err(); err != nil {
				stats.CompletedAt = o.now()
				return stats, fmt.Errorf("sync cancelled: %w", err)
			}
			if err := target.DeleteInventoryItem(ctx, item.ItemID); err != nil {
				stats.ItemsFailed++
				stats.Errors = append(stats.Errors, fmt.Sprintf("delete %q (%s): %v", item.Name, item.Category, err))
				continue
			}
			delete(index, item.Key())
		}
	}

	for _, item := range envelope.Items {
		if err := ctx.Err(); err != nil {
			stats.CompletedAt = o.now()
			return stats, fmt.Errorf("sync cancelled: %w", err)
		}
		o.applyItem(ctx, target, strategy, item, index, stats)
	}

	stats.CompletedAt = o.now()
	return stats, nil
}

// applyItem applies one envelope item under the strategy's rule, mutating the
// statistics in place. Failures are recorded and never abort the batch.
func (o *Orchestrator) applyItem(ctx context.Context, target Target, strategy models.MergeStrategy, item models.InventoryItem, index map[models.ItemKey]models.InventoryItem, stats *models.SyncStatistics) {
	current, exists := index[item.Key()]

	switch strategy {
	case models.StrategyAdd:
		if exists {
			stats.ItemsSkipped++
			return
		}
		o.createItem(ctx, target, item, index, stats)

	case models.StrategyMerge:
		if !exists {
			o.createItem(ctx, target, item, index, stats)
			return
		}
		newQuantity := current.Quantity + item.Quantity
		if newQuantity < 0 {
			stats.ItemsFailed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("merge %q (%s): computed negative quantity %d", item.Name, item.Category, newQuantity))
			return
		}
		updated, err := target.UpdateInventoryItem(ctx, current.ItemID, models.InventoryItemUpdate{Quantity: &newQuantity})
		if err != nil {
			stats.ItemsFailed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("update %q (%s): %v", item.Name, item.Category, err))
			return
		}
		stats.ItemsUpdated++
		if updated != nil {
			index[updated.Key()] = *updated
		} else {
			current.Quantity = newQuantity
			index[current.Key()] = current
		}

	case models.StrategyReplace:
		if exists {
			// A failed delete left the old copy in place; creating a second
			// row with the same (name, category) is never acceptable.
			stats.ItemsSkipped++
			return
		}
		o.createItem(ctx, target, item, index, stats)
	}
}

// createItem inserts the envelope item at the target with a new node-local
// identity.
func (o *Orchestrator) createItem(ctx context.Context, target Target, item models.InventoryItem, index map[models.ItemKey]models.InventoryItem, stats *models.SyncStatistics) {
	created, err := target.CreateInventoryItem(ctx, models.InventoryItemCreate{
		Name:        item.Name,
		Category:    item.Category,
		Quantity:    item.Quantity,
		Unit:        item.Unit,
		Value:       item.Value,
		Description: item.Description,
	})
	if err != nil {
		stats.ItemsFailed++
		stats.Errors = append(stats.Errors, fmt.Sprintf("create %q (%s): %v", item.Name, item.Category, err))
		return
	}
	stats.ItemsAdded++
	if created != nil {
		index[created.Key()] = *created
	} else {
		index[item.Key()] = item
	}
}

func (o *Orchestrator) observeOutcome(stats *models.SyncStatistics) {
	util.SyncItemsTotal.WithLabelValues("added").Add(float64(stats.ItemsAdded))
	util.SyncItemsTotal.WithLabelValues("updated").Add(float64(stats.ItemsUpdated))
	util.SyncItemsTotal.WithLabelValues("skipped").Add(float64(stats.ItemsSkipped))
	util.SyncItemsTotal.WithLabelValues("failed").Add(float64(stats.ItemsFailed))

	status := models.SyncStatusCompleted
	if stats.ItemsFailed > 0 || len(stats.Errors) > 0 {
		status = models.SyncStatusCompletedWithErrors
	}
	util.SyncsCompletedTotal.WithLabelValues(status, string(stats.Strategy)).Inc()
}
