package models

import (
	"fmt"
	"time"
)

// InventoryItem represents a single inventory record at an outpost.
// ItemID is node-local; cross-node identity is (Name, Category).
type InventoryItem struct {
	ItemID      int64   `json:"item_id,omitempty"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Quantity    int     `json:"quantity"`
	Unit        string  `json:"unit"`
	Value       float64 `json:"value"`
	Description string  `json:"description,omitempty"`
	LastUpdated string  `json:"last_updated,omitempty"`
}

// Key returns the cross-node identity of an item.
func (i InventoryItem) Key() ItemKey {
	return ItemKey{Name: i.Name, Category: i.Category}
}

// ItemKey identifies an item across outposts.
type ItemKey struct {
	Name     string
	Category string
}

// InventoryItemCreate is the payload for creating a new item.
type InventoryItemCreate struct {
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Quantity    int     `json:"quantity"`
	Unit        string  `json:"unit"`
	Value       float64 `json:"value"`
	Description string  `json:"description,omitempty"`
}

// InventoryItemUpdate is a partial update; nil fields are left unchanged.
type InventoryItemUpdate struct {
	Name        *string  `json:"name,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Quantity    *int     `json:"quantity,omitempty"`
	Unit        *string  `json:"unit,omitempty"`
	Value       *float64 `json:"value,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// ExportEnvelope is the snapshot produced by an export and consumed by an import.
type ExportEnvelope struct {
	Source     string          `json:"source"`
	ExportedAt string          `json:"exported_at"`
	ExportedBy string          `json:"exported_by,omitempty"`
	ItemCount  int             `json:"item_count"`
	Items      []InventoryItem `json:"items"`
}

// Validate checks the envelope shape before any import attempt.
func (e *ExportEnvelope) Validate() error {
	if e == nil {
		return fmt.Errorf("envelope is nil")
	}
	if e.Source == "" {
		return fmt.Errorf("envelope missing source")
	}
	for idx, item := range e.Items {
		if item.Name == "" {
			return fmt.Errorf("envelope item %d missing name", idx)
		}
		if item.Category == "" {
			return fmt.Errorf("envelope item %d missing category", idx)
		}
	}
	return nil
}

// MergeStrategy names the rule set for reconciling an envelope into a target.
type MergeStrategy string

const (
	StrategyAdd     MergeStrategy = "add"
	StrategyMerge   MergeStrategy = "merge"
	StrategyReplace MergeStrategy = "replace"
)

// ParseMergeStrategy validates a wire-level strategy string.
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch MergeStrategy(s) {
	case StrategyAdd, StrategyMerge, StrategyReplace:
		return MergeStrategy(s), nil
	default:
		return "", fmt.Errorf("unknown merge strategy: %q", s)
	}
}

// SyncStatistics summarizes one sync attempt. Created once per attempt,
// appended to the audit log, never mutated afterwards.
type SyncStatistics struct {
	ItemsAdded   int           `json:"items_added"`
	ItemsUpdated int           `json:"items_updated"`
	ItemsSkipped int           `json:"items_skipped"`
	ItemsFailed  int           `json:"items_failed"`
	Strategy     MergeStrategy `json:"strategy_used"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
	Errors       []string      `json:"errors,omitempty"`
}

// AuthToken is a short-lived bearer token for one outpost. Never persisted.
type AuthToken struct {
	Value     string
	TokenType string
	Principal string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the token is usable at the given instant.
func (t *AuthToken) Valid(now time.Time) bool {
	return t != nil && t.Value != "" && now.Before(t.ExpiresAt)
}

// Sync record statuses
const (
	SyncStatusCompleted           = "COMPLETED"
	SyncStatusCompletedWithErrors = "COMPLETED_WITH_ERRORS"
	SyncStatusFailed              = "FAILED"
)

// SyncRecord is one append-only row in the sync audit log.
type SyncRecord struct {
	ID           string    `db:"id" json:"id"`
	SourceName   string    `db:"source_name" json:"source_name"`
	TargetName   string    `db:"target_name" json:"target_name"`
	Strategy     string    `db:"strategy" json:"strategy"`
	Status       string    `db:"status" json:"status"`
	ItemsAdded   int       `db:"items_added" json:"items_added"`
	ItemsUpdated int       `db:"items_updated" json:"items_updated"`
	ItemsSkipped int       `db:"items_skipped" json:"items_skipped"`
	ItemsFailed  int       `db:"items_failed" json:"items_failed"`
	Errors       string    `db:"errors" json:"errors,omitempty"`
	StartedAt    time.Time `db:"started_at" json:"started_at"`
	CompletedAt  time.Time `db:"completed_at" json:"completed_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// StatusResponse mirrors an outpost's GET /status payload.
type StatusResponse struct {
	OutpostName         string  `json:"outpost_name"`
	OutpostType         string  `json:"outpost_type"`
	Status              string  `json:"status"`
	TotalInventoryItems int     `json:"total_inventory_items"`
	TotalInventoryValue float64 `json:"total_inventory_value"`
	LastUpdated         string  `json:"last_updated"`
}
