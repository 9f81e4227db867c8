package service

import (
	"context"
	"time"

	"outpost-sync/internal/models"
	"outpost-sync/internal/util"

	"go.uber.org/zap"
)

// OutpostView is one row of the fleet overview.
type OutpostView struct {
	Name            string                 `json:"name"`
	BaseURL         string                 `json:"base_url"`
	Reachable       bool                   `json:"reachable"`
	Status          *models.StatusResponse `json:"status,omitempty"`
	LastKnownStatus string                 `json:"last_known_status,omitempty"`
	LastSyncs       map[string]time.Time   `json:"last_syncs,omitempty"`
}

// outpostStatusTTL bounds how stale a cached node status may get.
const outpostStatusTTL = time.Minute

// ListOutposts polls each registered node's status endpoint and combines it
// with the last-sync timestamps for pairs where the node was the target.
func (s *SyncService) ListOutposts(ctx context.Context) []OutpostView {
	ctx, span := util.StartSpan(ctx, "SyncService.ListOutposts")
	defer span.End()

	names := s.OutpostNames()
	views := make([]OutpostView, 0, len(names))

	for _, name := range names {
		n := s.nodes[name]
		view := OutpostView{Name: name, BaseURL: n.baseURL}

		statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := n.client.Status(statusCtx)
		cancel()
		if err != nil {
			s.logger.Warn("Outpost unreachable",
				zap.String("outpost", name),
				zap.Error(err))
			if cached, cacheErr := s.locks.GetOutpostStatus(ctx, name); cacheErr == nil && cached != "" {
				view.LastKnownStatus = cached
			}
		} else {
			view.Reachable = true
			view.Status = status
			if err := s.locks.SetOutpostStatus(ctx, name, status.Status, outpostStatusTTL); err != nil {
				s.logger.Debug("Failed to cache outpost status",
					zap.String("outpost", name),
					zap.Error(err))
			}
		}

		view.LastSyncs = make(map[string]time.Time)
		for _, sourceName := range names {
			if sourceName == name {
				continue
			}
			at, err := s.locks.GetLastSync(ctx, sourceName, name)
			if err != nil || at.IsZero() {
				continue
			}
			view.LastSyncs[sourceName] = at
		}

		views = append(views, view)
	}

	return views
}
