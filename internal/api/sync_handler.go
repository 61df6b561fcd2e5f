package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pglemos/ml-bling-sync/infrastructure/sse"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/orchestrator"
)

// QueueSyncRequest is the body of POST /sync/jobs.
type QueueSyncRequest struct {
	IntegrationID string             `binding:"required" json:"integration_id"`
	SyncType      domain.SyncType    `binding:"required" json:"sync_type"`
	Priority      domain.Priority    `json:"priority"`
	Options       domain.SyncOptions `json:"options"`
	ScheduledAt   *time.Time         `json:"scheduled_at,omitempty"`
}

// BulkSyncRequest is the body of POST /sync/jobs/bulk.
type BulkSyncRequest struct {
	IntegrationIDs []string           `binding:"required,min=1" json:"integration_ids"`
	SyncType       domain.SyncType    `binding:"required"       json:"sync_type"`
	Priority       domain.Priority    `json:"priority"`
	Options        domain.SyncOptions `json:"options"`
}

func priorityOrDefault(p domain.Priority) domain.Priority {
	if p == "" {
		return domain.PriorityNormal
	}
	return p
}

// QueueSync handles POST /api/v1/sync/jobs
func (h *Handler) QueueSync(c *gin.Context) {
	var req QueueSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request: "+err.Error())
		return
	}

	job, err := h.deps.Sync.QueueSync(c.Request.Context(), domain.SyncRequest{
		IntegrationID: req.IntegrationID,
		SyncType:      req.SyncType,
		Priority:      priorityOrDefault(req.Priority),
		Options:       req.Options,
		ScheduledAt:   req.ScheduledAt,
		UserID:        userID(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":       job.ID,
		"status":       job.Status,
		"scheduled_at": job.ScheduledAt,
	})
}

// ScheduleBulkSync handles POST /api/v1/sync/jobs/bulk
func (h *Handler) ScheduleBulkSync(c *gin.Context) {
	var req BulkSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.deps.Sync.ScheduleBulkSync(c.Request.Context(), orchestrator.BulkRequest{
		IntegrationIDs: req.IntegrationIDs,
		SyncType:       req.SyncType,
		Priority:       priorityOrDefault(req.Priority),
		Options:        req.Options,
		UserID:         userID(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusAccepted
	if res.Succeeded == 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{
		"job_ids":   res.JobIDs(),
		"entries":   res.Entries,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
	})
}

// GetSyncStatus handles GET /api/v1/sync/jobs/:id
func (h *Handler) GetSyncStatus(c *gin.Context) {
	snap, err := h.deps.Sync.GetSyncStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CancelSync handles POST /api/v1/sync/jobs/:id/cancel
func (h *Handler) CancelSync(c *gin.Context) {
	jobID := c.Param("id")
	ok, err := h.deps.Sync.CancelSync(c.Request.Context(), jobID, userID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !ok {
		h.respondError(c, domain.NewInvalidStateError("job %s is already finished", jobID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "cancelled": true})
}

// GetQueueStats handles GET /api/v1/sync/queue/stats
func (h *Handler) GetQueueStats(c *gin.Context) {
	stats, err := h.deps.Sync.GetQueueStats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// StreamEvents handles GET /api/v1/sync/events. Callers with a tenant see
// only that tenant's events.
func (h *Handler) StreamEvents(c *gin.Context) {
	var opts []sse.ClientOption
	if t := c.GetHeader(TenantHeader); t != "" {
		opts = append(opts, sse.WithTenant(t))
	}
	if types := c.QueryArray("type"); len(types) > 0 {
		opts = append(opts, sse.WithEventTypes(types...))
	}
	sse.Handler(h.deps.Broker, h.log, opts...)(c)
}
