package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"outpost-sync/internal/models"
	"outpost-sync/internal/outpost"
	"outpost-sync/internal/sync"
	"outpost-sync/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OutpostClient is the full typed surface of one node, satisfied by
// *outpost.Client. It covers sync.Source and sync.Target plus the session
// operations the service drives itself.
type OutpostClient interface {
	Name() string
	Login(ctx context.Context, username, password string) (bool, error)
	Logout()
	Health(ctx context.Context) error
	Status(ctx context.Context) (*models.StatusResponse, error)
	ListInventory(ctx context.Context, category string) ([]models.InventoryItem, error)
	GetInventoryItem(ctx context.Context, itemID int64) (*models.InventoryItem, error)
	CreateInventoryItem(ctx context.Context, create models.InventoryItemCreate) (*models.InventoryItem, error)
	UpdateInventoryItem(ctx context.Context, itemID int64, update models.InventoryItemUpdate) (*models.InventoryItem, error)
	DeleteInventoryItem(ctx context.Context, itemID int64) error
	ExportInventory(ctx context.Context) (*models.ExportEnvelope, error)
	ImportInventory(ctx context.Context, envelope *models.ExportEnvelope, strategy models.MergeStrategy) (*models.SyncStatistics, error)
}

// Recorder is the audit-log contract
type Recorder interface {
	AppendRecord(ctx context.Context, record *models.SyncRecord) error
	GetRecordByID(ctx context.Context, id string) (*models.SyncRecord, error)
	ListRecords(ctx context.Context, limit int) ([]models.SyncRecord, error)
	ListRecordsByPair(ctx context.Context, source, target string, limit int) ([]models.SyncRecord, error)
	CountRecordsByStatus(ctx context.Context, status string) (int64, error)
}

// Locker serializes syncs against one target node and caches per-pair and
// per-node sync state
type Locker interface {
	AcquireSyncLock(ctx context.Context, targetName string, ttl time.Duration) (bool, error)
	ReleaseSyncLock(ctx context.Context, targetName string) error
	SetLastSync(ctx context.Context, source, target string, at time.Time) error
	GetLastSync(ctx context.Context, source, target string) (time.Time, error)
	SetOutpostStatus(ctx context.Context, name, status string, ttl time.Duration) error
	GetOutpostStatus(ctx context.Context, name string) (string, error)
}

// Publisher emits sync lifecycle events
type Publisher interface {
	PublishSyncRequested(ctx context.Context, event *models.SyncRequestedEvent) error
	PublishSyncCompleted(ctx context.Context, event *models.SyncCompletedEvent) error
	PublishSyncFailed(ctx context.Context, event *models.SyncFailedEvent) error
}

var (
	// ErrUnknownOutpost is returned for outpost names missing from the registry.
	ErrUnknownOutpost = errors.New("unknown outpost")
	// ErrSameNode is returned when source and target name the same outpost.
	ErrSameNode = errors.New("source and target must differ")
	// ErrSyncInProgress is returned when the target's sync lock is held.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// node pairs a client with its configured credentials. One node (and so one
// shared Session) exists per outpost per process.
type node struct {
	client   OutpostClient
	baseURL  string
	username string
	password string

	mu       gosync.Mutex
	loggedIn bool
}

// SyncService owns the outpost registry and drives sync operations end to end:
// lock, orchestrate, audit, publish.
type SyncService struct {
	nodes    map[string]*node
	recorder Recorder
	locks    Locker
	events   Publisher
	lockTTL  time.Duration
	logger   *zap.Logger
}

// NewSyncService creates a sync service. Register outposts before use.
func NewSyncService(recorder Recorder, locks Locker, events Publisher) *SyncService {
	return &SyncService{
		nodes:    make(map[string]*node),
		recorder: recorder,
		locks:    locks,
		events:   events,
		lockTTL:  5 * time.Minute,
		logger:   util.GetLogger(),
	}
}

// SetLockTTL overrides the default per-target sync lock TTL.
func (s *SyncService) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		s.lockTTL = ttl
	}
}

// Register adds one outpost to the registry.
func (s *SyncService) Register(cfg outpost.Config, client OutpostClient) {
	s.nodes[cfg.Name] = &node{
		client:   client,
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
	}
}

// OutpostNames returns the registered outposts in stable order.
func (s *SyncService) OutpostNames() []string {
	names := make([]string, 0, len(s.nodes))
	for name := range s.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *SyncService) lookup(name string) (*node, error) {
	n, ok := s.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutpost, name)
	}
	return n, nil
}

// ensureAuthenticated performs the initial login for nodes with configured
// credentials. Later token expiry is handled by the client's single
// transparent re-authentication.
func (s *SyncService) ensureAuthenticated(ctx context.Context, n *node) error {
	if n.username == "" {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.loggedIn {
		return nil
	}

	ok, err := n.client.Login(ctx, n.username, n.password)
	if err != nil {
		return fmt.Errorf("login to %s failed: %w", n.client.Name(), err)
	}
	if !ok {
		util.AuthenticationsTotal.WithLabelValues("rejected").Inc()
		return &outpost.APIError{Class: outpost.ClassAuth, Message: fmt.Sprintf("credentials rejected by %s", n.client.Name())}
	}
	n.loggedIn = true
	return nil
}

// TriggerSync runs one source→target sync and appends the outcome to the
// audit log. The returned record carries the per-item statistics; a non-nil
// error means the sync failed before any item was attempted.
func (s *SyncService) TriggerSync(ctx context.Context, sourceName, targetName, strategyName string) (*models.SyncRecord, error) {
	ctx, span := util.StartSpan(ctx, "SyncService.TriggerSync")
	defer span.End()

	if sourceName == targetName {
		return nil, fmt.Errorf("%w: %q", ErrSameNode, sourceName)
	}

	strategy, err := models.ParseMergeStrategy(strategyName)
	if err != nil {
		return nil, err
	}

	source, err := s.lookup(sourceName)
	if err != nil {
		return nil, err
	}
	target, err := s.lookup(targetName)
	if err != nil {
		return nil, err
	}

	acquired, err := s.locks.AcquireSyncLock(ctx, targetName, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock for %s: %w", targetName, err)
	}
	if !acquired {
		util.SyncLockContentionTotal.Inc()
		return nil, fmt.Errorf("%w: target %s", ErrSyncInProgress, targetName)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locks.ReleaseSyncLock(releaseCtx, targetName); err != nil {
			s.logger.Error("Failed to release sync lock",
				zap.String("target", targetName),
				zap.Error(err))
		}
	}()

	if err := s.ensureAuthenticated(ctx, source); err != nil {
		return nil, err
	}
	if err := s.ensureAuthenticated(ctx, target); err != nil {
		return nil, err
	}

	started := time.Now()
	orchestrator := sync.NewOrchestrator()
	stats, runErr := orchestrator.Run(ctx, source.client, target.client, strategy)
	if runErr != nil {
		s.recordFailure(ctx, sourceName, targetName, strategy, started, runErr)
		return nil, runErr
	}

	record := recordFromStats(sourceName, targetName, stats)
	if err := s.recorder.AppendRecord(ctx, record); err != nil {
		s.logger.Error("Failed to append sync record", zap.Error(err))
	}

	if err := s.locks.SetLastSync(ctx, sourceName, targetName, record.CompletedAt); err != nil {
		s.logger.Error("Failed to store last sync time", zap.Error(err))
	}

	event := &models.SyncCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSyncCompleted,
			Timestamp: time.Now(),
		},
		RecordID:   record.ID,
		SourceName: sourceName,
		TargetName: targetName,
		Strategy:   string(strategy),
		Statistics: *stats,
	}
	if err := s.events.PublishSyncCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish SyncCompleted event", zap.Error(err))
	}

	if record.Status == models.SyncStatusCompletedWithErrors {
		s.logger.Warn("Sync completed with errors",
			zap.String("record_id", record.ID),
			zap.Int("failed", record.ItemsFailed))
	}

	return record, nil
}

// recordFailure appends a zero-statistics audit record for a sync that failed
// before any item was attempted, and publishes the failure event.
func (s *SyncService) recordFailure(ctx context.Context, sourceName, targetName string, strategy models.MergeStrategy, started time.Time, cause error) {
	errsJSON, _ := json.Marshal([]string{cause.Error()})
	record := &models.SyncRecord{
		ID:          uuid.New().String(),
		SourceName:  sourceName,
		TargetName:  targetName,
		Strategy:    string(strategy),
		Status:      models.SyncStatusFailed,
		Errors:      string(errsJSON),
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	if err := s.recorder.AppendRecord(ctx, record); err != nil {
		s.logger.Error("Failed to append failed-sync record", zap.Error(err))
	}

	event := &models.SyncFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSyncFailed,
			Timestamp: time.Now(),
		},
		SourceName: sourceName,
		TargetName: targetName,
		Strategy:   string(strategy),
		Reason:     cause.Error(),
	}
	if err := s.events.PublishSyncFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish SyncFailed event", zap.Error(err))
	}
}

// RequestSync queues an asynchronous sync, executed by the worker.
func (s *SyncService) RequestSync(ctx context.Context, sourceName, targetName, strategyName string) (string, error) {
	if sourceName == targetName {
		return "", fmt.Errorf("%w: %q", ErrSameNode, sourceName)
	}
	if _, err := models.ParseMergeStrategy(strategyName); err != nil {
		return "", err
	}
	if _, err := s.lookup(sourceName); err != nil {
		return "", err
	}
	if _, err := s.lookup(targetName); err != nil {
		return "", err
	}

	event := &models.SyncRequestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSyncRequested,
			Timestamp: time.Now(),
		},
		SourceName: sourceName,
		TargetName: targetName,
		Strategy:   strategyName,
	}
	if err := s.events.PublishSyncRequested(ctx, event); err != nil {
		return "", fmt.Errorf("failed to queue sync: %w", err)
	}
	return event.EventID, nil
}

// GetRecord returns one audit record by ID.
func (s *SyncService) GetRecord(ctx context.Context, id string) (*models.SyncRecord, error) {
	return s.recorder.GetRecordByID(ctx, id)
}

// ListRecords returns the most recent audit records.
func (s *SyncService) ListRecords(ctx context.Context, limit int) ([]models.SyncRecord, error) {
	return s.recorder.ListRecords(ctx, limit)
}

// ListRecordsForPair returns the most recent audit records for one
// source→target pair.
func (s *SyncService) ListRecordsForPair(ctx context.Context, source, target string, limit int) ([]models.SyncRecord, error) {
	return s.recorder.ListRecordsByPair(ctx, source, target, limit)
}

// SyncSummary aggregates the audit log by outcome.
type SyncSummary struct {
	Completed           int64 `json:"completed"`
	CompletedWithErrors int64 `json:"completed_with_errors"`
	Failed              int64 `json:"failed"`
}

// Summary counts audit records per status.
func (s *SyncService) Summary(ctx context.Context) (*SyncSummary, error) {
	summary := &SyncSummary{}
	var err error
	if summary.Completed, err = s.recorder.CountRecordsByStatus(ctx, models.SyncStatusCompleted); err != nil {
		return nil, err
	}
	if summary.CompletedWithErrors, err = s.recorder.CountRecordsByStatus(ctx, models.SyncStatusCompletedWithErrors); err != nil {
		return nil, err
	}
	if summary.Failed, err = s.recorder.CountRecordsByStatus(ctx, models.SyncStatusFailed); err != nil {
		return nil, err
	}
	return summary, nil
}

// recordFromStats reduces orchestrator statistics into one audit row.
func recordFromStats(sourceName, targetName string, stats *models.SyncStatistics) *models.SyncRecord {
	status := models.SyncStatusCompleted
	if stats.ItemsFailed > 0 || len(stats.Errors) > 0 {
		status = models.SyncStatusCompletedWithErrors
	}

	errsJSON := "[]"
	if len(stats.Errors) > 0 {
		if b, err := json.Marshal(stats.Errors); err == nil {
			errsJSON = string(b)
		}
	}

	return &models.SyncRecord{
		ID:           uuid.New().String(),
		SourceName:   sourceName,
		TargetName:   targetName,
		Strategy:     string(stats.Strategy),
		Status:       status,
		ItemsAdded:   stats.ItemsAdded,
		ItemsUpdated: stats.ItemsUpdated,
		ItemsSkipped: stats.ItemsSkipped,
		ItemsFailed:  stats.ItemsFailed,
		Errors:       errsJSON,
		StartedAt:    stats.StartedAt,
		CompletedAt:  stats.CompletedAt,
	}
}
