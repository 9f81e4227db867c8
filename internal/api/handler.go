package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"outpost-sync/internal/models"
	"outpost-sync/internal/outpost"
	"outpost-sync/internal/service"
	"outpost-sync/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	syncService *service.SyncService
}

// NewHandler creates a new HTTP handler
func NewHandler(syncService *service.SyncService) *Handler {
	return &Handler{
		syncService: syncService,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/syncs", h.triggerSync)
		v1.GET("/syncs", h.listSyncs)
		v1.GET("/syncs/summary", h.syncSummary)
		v1.GET("/syncs/:id", h.getSync)
		v1.GET("/outposts", h.listOutposts)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// SyncRequest is the body of POST /api/v1/syncs.
type SyncRequest struct {
	Source   string `json:"source" binding:"required"`
	Target   string `json:"target" binding:"required"`
	Strategy string `json:"strategy" binding:"required"`
	Async    bool   `json:"async,omitempty"`
}

// triggerSync runs a sync synchronously, or queues it when async is set
func (h *Handler) triggerSync(c *gin.Context) {
	var req SyncRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if _, err := models.ParseMergeStrategy(req.Strategy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Async {
		eventID, err := h.syncService.RequestSync(c.Request.Context(), req.Source, req.Target, req.Strategy)
		if err != nil {
			h.renderSyncError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true, "event_id": eventID})
		return
	}

	record, err := h.syncService.TriggerSync(c.Request.Context(), req.Source, req.Target, req.Strategy)
	if err != nil {
		h.renderSyncError(c, err)
		return
	}

	// Partial success is still reported as completed, never as full success.
	completedWithErrors := record.Status == models.SyncStatusCompletedWithErrors
	c.JSON(http.StatusOK, gin.H{
		"record":                record,
		"completed_with_errors": completedWithErrors,
	})
}

// renderSyncError maps service and outpost failures to HTTP status codes
func (h *Handler) renderSyncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownOutpost):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSameNode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
			"class": string(outpost.ClassOf(err)),
		})
	}
}

// listSyncs returns recent audit records, optionally filtered to one
// source/target pair
func (h *Handler) listSyncs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	source := c.Query("source")
	target := c.Query("target")
	if (source == "") != (target == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source and target must be given together"})
		return
	}

	var records []models.SyncRecord
	if source != "" {
		records, err = h.syncService.ListRecordsForPair(c.Request.Context(), source, target, limit)
	} else {
		records, err = h.syncService.ListRecords(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list sync records",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records})
}

// syncSummary returns audit record counts per outcome
func (h *Handler) syncSummary(c *gin.Context) {
	summary, err := h.syncService.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to summarize sync records",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// getSync returns one audit record by ID
func (h *Handler) getSync(c *gin.Context) {
	record, err := h.syncService.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Sync record not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"record": record})
}

// listOutposts returns the fleet overview
func (h *Handler) listOutposts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"outposts": h.syncService.ListOutposts(c.Request.Context()),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
