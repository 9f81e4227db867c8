package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outpost-sync/internal/models"
	"outpost-sync/internal/outpost"
)

type fakeSource struct {
	name     string
	envelope *models.ExportEnvelope
	err      error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) ExportInventory(ctx context.Context) (*models.ExportEnvelope, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.envelope, nil
}

// fakeTarget keeps inventory in memory and answers 404 on bulk import by
// default, so syncs exercise the per-item path. bulkStats switches the bulk
// endpoint on.
type fakeTarget struct {
	name   string
	nextID int64
	items  map[int64]models.InventoryItem

	bulkStats *fakeBulk
	listErr   error
	createErr map[models.ItemKey]error
	updateErr map[models.ItemKey]error
	deleteErr map[int64]error

	creates int
	updates int
	deletes int
}

type fakeBulk struct {
	stats models.SyncStatistics
	calls int
}

func newFakeTarget(items ...models.InventoryItem) *fakeTarget {
	t := &fakeTarget{name: "beta", items: map[int64]models.InventoryItem{}}
	for _, item := range items {
		t.nextID++
		item.ItemID = t.nextID
		t.items[item.ItemID] = item
	}
	return t
}

func (f *fakeTarget) Name() string { return f.name }

func (f *fakeTarget) ListInventory(ctx context.Context, category string) ([]models.InventoryItem, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var items []models.InventoryItem
	for _, item := range f.items {
		if category == "" || item.Category == category {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeTarget) CreateInventoryItem(ctx context.Context, create models.InventoryItemCreate) (*models.InventoryItem, error) {
	f.creates++
	key := models.ItemKey{Name: create.Name, Category: create.Category}
	if err := f.createErr[key]; err != nil {
		return nil, err
	}
	f.nextID++
	item := models.InventoryItem{
		ItemID:      f.nextID,
		Name:        create.Name,
		Category:    create.Category,
		Quantity:    create.Quantity,
		Unit:        create.Unit,
		Value:       create.Value,
		Description: create.Description,
	}
	f.items[item.ItemID] = item
	return &item, nil
}

func (f *fakeTarget) UpdateInventoryItem(ctx context.Context, itemID int64, update models.InventoryItemUpdate) (*models.InventoryItem, error) {
	f.updates++
	item, ok := f.items[itemID]
	if !ok {
		return nil, &outpost.APIError{Class: outpost.ClassNotFound, Status: 404, Message: "item not found"}
	}
	if err := f.updateErr[item.Key()]; err != nil {
		return nil, err
	}
	if update.Quantity != nil {
		item.Quantity = *update.Quantity
	}
	f.items[itemID] = item
	return &item, nil
}

func (f *fakeTarget) DeleteInventoryItem(ctx context.Context, itemID int64) error {
	f.deletes++
	if err := f.deleteErr[itemID]; err != nil {
		return err
	}
	delete(f.items, itemID)
	return nil
}

func (f *fakeTarget) ImportInventory(ctx context.Context, envelope *models.ExportEnvelope, strategy models.MergeStrategy) (*models.SyncStatistics, error) {
	if f.bulkStats == nil {
		return nil, &outpost.APIError{Class: outpost.ClassNotFound, Status: 404, Message: "Not Found"}
	}
	f.bulkStats.calls++
	stats := f.bulkStats.stats
	return &stats, nil
}

func (f *fakeTarget) byKey(name, category string) (models.InventoryItem, bool) {
	for _, item := range f.items {
		if item.Name == name && item.Category == category {
			return item, true
		}
	}
	return models.InventoryItem{}, false
}

func envelopeOf(items ...models.InventoryItem) *models.ExportEnvelope {
	return &models.ExportEnvelope{
		Source:     "alpha",
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		ItemCount:  len(items),
		Items:      items,
	}
}

func TestRunAddCreatesMissingAndSkipsExisting(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: envelopeOf(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 150, Unit: "barrel"},
		models.InventoryItem{Name: "Powder Keg", Category: "munitions", Quantity: 12, Unit: "keg"},
	)}
	target := newFakeTarget(
		models.InventoryItem{Name: "Powder Keg", Category: "munitions", Quantity: 3, Unit: "keg"},
	)

	orch := NewOrchestrator()
	stats, err := orch.Run(context.Background(), source, target, models.StrategyAdd)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ItemsAdded)
	assert.Equal(t, 1, stats.ItemsSkipped)
	assert.Equal(t, 0, stats.ItemsUpdated)
	assert.Equal(t, 0, stats.ItemsFailed)
	assert.Equal(t, StateCompleted, orch.State())

	// Add never touches the existing item's quantity.
	keg, ok := target.byKey("Powder Keg", "munitions")
	require.True(t, ok)
	assert.Equal(t, 3, keg.Quantity)
}

func TestRunAddIsIdempotent(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: envelopeOf(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 150, Unit: "barrel"},
	)}
	target := newFakeTarget()

	stats, err := NewOrchestrator().Run(context.Background(), source, target, models.StrategyAdd)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsAdded)

	stats, err = NewOrchestrator().Run(context.Background(), source, target, models.StrategyAdd)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ItemsAdded)
	assert.Equal(t, 1, stats.ItemsSkipped)

	fish, ok := target.byKey("Salted Fish", "provisions")
	require.True(t, ok)
	assert.Equal(t, 150, fish.Quantity)
}

func TestRunMergeSumsQuantities(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: envelopeOf(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 150, Unit: "barrel"},
	)}
	target := newFakeTarget(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 50, Unit: "barrel"},
	)

	stats, err := NewOrchestrator().Run(context.Background(), source, target, models.StrategyMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsUpdated)
	assert.Equal(t, 0, stats.ItemsAdded)

	fish, ok := target.byKey("Salted Fish", "provisions")
	require.True(t, ok)
	assert.Equal(t, 200, fish.Quantity)
}

func TestRunMergeReplayDoublesQuantities(t *testing.T) {
	envelope := envelopeOf(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 150, Unit: "barrel"},
	)
	source := &fakeSource{name: "alpha", envelope: envelope}
	target := newFakeTarget(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 50, Unit: "barrel"},
	)

	_, err := NewOrchestrator().Run(context.Background(), source, target, models.StrategyMerge)
	require.NoError(t, err)
	_, err = NewOrchestrator().Run(context.Background(), source, target, models.StrategyMerge)
	require.NoError(t, err)

	// Merge is not replay-safe: each pass adds the envelope quantity again.
	fish, ok := target.byKey("Salted Fish", "provisions")
	require.True(t, ok)
	assert.Equal(t, 350, fish.Quantity)
}

func TestRunMergeCreatesMissingItems(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: envelopeOf(
		models.InventoryItem{Name: "Bandages", Category: "medical", Quantity: 80, Unit: "roll"},
	)}
	target := newFakeTarget()

	stats, err := NewOrchestrator().Run(context.Background(), source, target, models.StrategyMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsAdded)
	assert.Equal(t, 0, stats.ItemsUpdated)
}

func TestRunMergeRejectsNegativeComputedQuantity(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: envelopeOf(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: -100, Unit: "barrel"},
	)}
	target := newFakeTarget(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 30, Unit: "barrel"},
	)

	stats, err := NewOrchestrator().Run(context.Background(), source, target, models.StrategyMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsFailed)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "computed negative quantity")

	// The rejected item is left untouched.
	fish, ok := target.byKey("Salted Fish", "provisions")
	require.True(t, ok)
	assert.Equal(t, 30, fish.Quantity)
	assert.Equal(t, 0, target.updates)
}

func TestRunReplaceLeavesOnlyEnvelopeItems(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: envelopeOf(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 150, Unit: "barrel"},
	)}
	target := newFakeTarget(
		models.InventoryItem{Name: "Powder Keg", Category: "munitions", Quantity: 3, Unit: "keg"},
		models.InventoryItem{Name: "Bandages", Category: "medical", Quantity: 80, Unit: "roll"},
	)

	stats, err := NewOrchestrator().Run(context.Background(), source, target, models.StrategyReplace)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsAdded)
	assert.Equal(t, 2, target.deletes)

	require.Len(t, target.items, 1)
	_, ok := target.byKey("Salted Fish", "provisions")
	assert.True(t, ok)
}

func TestRunReplaceCountsDeleteFailuresAndContinues(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: envelopeOf(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 150, Unit: "barrel"},
	)}
	target := newFakeTarget(
		models.InventoryItem{Name: "Powder Keg", Category: "munitions", Quantity: 3, Unit: "keg"},
	)
	target.deleteErr = map[int64]error{1: &outpost.APIError{Class: outpost.ClassTransient, Status: 503, Message: "node busy"}}

	stats, err := NewOrchestrator().Run(context.Background(), source, target, models.StrategyReplace)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsAdded)

	// The surviving old item is a failed reconciliation, not a footnote.
	assert.Equal(t, 1, stats.ItemsFailed)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "delete")
}

func TestRunReplaceFailedDeleteDoesNotDuplicateKey(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: envelopeOf(
		models.InventoryItem{Name: "Powder Keg", Category: "munitions", Quantity: 12, Unit: "keg"},
	)}
	target := newFakeTarget(
		models.InventoryItem{Name: "Powder Keg", Category: "munitions", Quantity: 3, Unit: "keg"},
	)
	target.deleteErr = map[int64]error{1: &outpost.APIError{Class: outpost.ClassTransient, Status: 503, Message: "node busy"}}

	stats, err := NewOrchestrator().Run(context.Background(), source, target, models.StrategyReplace)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsFailed)
	assert.Equal(t, 1, stats.ItemsSkipped)
	assert.Equal(t, 0, stats.ItemsAdded)

	// The old copy survives; a twin row with the same key must not appear.
	require.Len(t, target.items, 1)
	keg, ok := target.byKey("Powder Keg", "munitions")
	require.True(t, ok)
	assert.Equal(t, 3, keg.Quantity)
	assert.Equal(t, 0, target.creates)
}

func TestRunReplaceIsIdempotent(t *testing.T) {
	envelope := envelopeOf(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 150, Unit: "barrel"},
		models.InventoryItem{Name: "Bandages", Category: "medical", Quantity: 80, Unit: "roll"},
	)
	source := &fakeSource{name: "alpha", envelope: envelope}
	target := newFakeTarget(
		models.InventoryItem{Name: "Powder Keg", Category: "munitions", Quantity: 3, Unit: "keg"},
	)

	verify := func() {
		require.Len(t, target.items, 2)
		fish, ok := target.byKey("Salted Fish", "provisions")
		require.True(t, ok)
		assert.Equal(t, 150, fish.Quantity)
		bandages, ok := target.byKey("Bandages", "medical")
		require.True(t, ok)
		assert.Equal(t, 80, bandages.Quantity)
	}

	stats, err := NewOrchestrator().Run(context.Background(), source, target, models.StrategyReplace)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ItemsAdded)
	verify()

	// A replay deletes the copies it created and recreates them: the target
	// content stays identical to the envelope.
	stats, err = NewOrchestrator().Run(context.Background(), source, target, models.StrategyReplace)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ItemsAdded)
	assert.Equal(t, 0, stats.ItemsFailed)
	verify()
}

func TestRunPerItemFailureDoesNotAbortBatch(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: envelopeOf(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 150, Unit: "barrel"},
		models.InventoryItem{Name: "Powder Keg", Category: "munitions", Quantity: 12, Unit: "keg"},
		models.InventoryItem{Name: "Bandages", Category: "medical", Quantity: 80, Unit: "roll"},
	)}
	target := newFakeTarget()
	target.createErr = map[models.ItemKey]error{
		{Name: "Powder Keg", Category: "munitions"}: &outpost.APIError{Class: outpost.ClassValidation, Status: 422, Message: "quantity out of range"},
	}

	orch := NewOrchestrator()
	stats, err := orch.Run(context.Background(), source, target, models.StrategyAdd)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ItemsAdded)
	assert.Equal(t, 1, stats.ItemsFailed)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "Powder Keg")
	assert.Equal(t, StateCompleted, orch.State())
}

func TestRunExportFailureFailsTheSync(t *testing.T) {
	source := &fakeSource{name: "alpha", err: &outpost.APIError{Class: outpost.ClassTransient, Status: 503, Message: "node busy", Attempts: 4}}
	target := newFakeTarget()

	orch := NewOrchestrator()
	stats, err := orch.Run(context.Background(), source, target, models.StrategyAdd)
	require.Error(t, err)
	assert.Nil(t, stats)
	assert.Equal(t, StateFailed, orch.State())
	assert.Contains(t, err.Error(), "export from alpha failed")
	assert.Equal(t, 0, target.creates)
}

func TestRunMalformedEnvelopeFailsBeforeImport(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: &models.ExportEnvelope{
		Source: "alpha",
		Items:  []models.InventoryItem{{Name: "", Category: "provisions", Quantity: 1}},
	}}
	target := newFakeTarget()

	orch := NewOrchestrator()
	_, err := orch.Run(context.Background(), source, target, models.StrategyAdd)
	require.Error(t, err)
	assert.Equal(t, outpost.ClassFatal, outpost.ClassOf(err))
	assert.Equal(t, StateFailed, orch.State())
	assert.Equal(t, 0, target.creates)
}

func TestRunUsesBulkImportWhenAvailable(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: envelopeOf(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 150, Unit: "barrel"},
	)}
	target := newFakeTarget()
	target.bulkStats = &fakeBulk{stats: models.SyncStatistics{ItemsAdded: 1}}

	stats, err := NewOrchestrator().Run(context.Background(), source, target, models.StrategyAdd)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsAdded)
	assert.Equal(t, models.StrategyAdd, stats.Strategy)
	assert.Equal(t, 1, target.bulkStats.calls)
	assert.Equal(t, 0, target.creates)
	assert.False(t, stats.StartedAt.IsZero())
	assert.False(t, stats.CompletedAt.IsZero())
}

func TestRunBulkImportHardFailureAborts(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: envelopeOf(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 150, Unit: "barrel"},
	)}
	target := &bulkFailTarget{fakeTarget: newFakeTarget()}

	orch := NewOrchestrator()
	_, err := orch.Run(context.Background(), source, target, models.StrategyAdd)
	require.Error(t, err)
	assert.Equal(t, StateFailed, orch.State())
	assert.Contains(t, err.Error(), "import to beta failed")
	assert.Equal(t, 0, target.creates)
}

type bulkFailTarget struct {
	*fakeTarget
}

func (b *bulkFailTarget) ImportInventory(ctx context.Context, envelope *models.ExportEnvelope, strategy models.MergeStrategy) (*models.SyncStatistics, error) {
	return nil, &outpost.APIError{Class: outpost.ClassTransient, Status: 503, Message: "node busy"}
}

func TestRunDuplicateKeysInEnvelopeReconcileInOrder(t *testing.T) {
	source := &fakeSource{name: "alpha", envelope: envelopeOf(
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 100, Unit: "barrel"},
		models.InventoryItem{Name: "Salted Fish", Category: "provisions", Quantity: 50, Unit: "barrel"},
	)}
	target := newFakeTarget()

	stats, err := NewOrchestrator().Run(context.Background(), source, target, models.StrategyMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsAdded)
	assert.Equal(t, 1, stats.ItemsUpdated)

	// The second occurrence merges into the first one's freshly created row.
	fish, ok := target.byKey("Salted Fish", "provisions")
	require.True(t, ok)
	assert.Equal(t, 150, fish.Quantity)
}

func TestRunCancelledContextStopsBetweenItems(t *testing.T) {
	var items []models.InventoryItem
	for i := 0; i < 5; i++ {
		items = append(items, models.InventoryItem{
			Name:     fmt.Sprintf("Crate %d", i),
			Category: "provisions",
			Quantity: 1,
		})
	}
	source := &fakeSource{name: "alpha", envelope: envelopeOf(items...)}
	target := newFakeTarget()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := NewOrchestrator()
	_, err := orch.Run(ctx, source, target, models.StrategyAdd)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, target.creates)
	assert.Equal(t, StateFailed, orch.State())
}
