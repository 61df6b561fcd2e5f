package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pglemos/ml-bling-sync/internal/dashboard"
	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// CreateReplayRequest is the body of POST /replays.
type CreateReplayRequest struct {
	OriginalJobID  string              `binding:"required" json:"original_job_id"`
	ConfigOverride *domain.SyncOptions `json:"config_override,omitempty"`
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, domain.NewValidationError("%s must be an RFC3339 timestamp", name)
	}
	return &t, nil
}

// GetOverview handles GET /api/v1/dashboard/overview
func (h *Handler) GetOverview(c *gin.Context) {
	start, err := parseTimeParam(c, "start")
	if err != nil {
		h.respondError(c, err)
		return
	}
	end, err := parseTimeParam(c, "end")
	if err != nil {
		h.respondError(c, err)
		return
	}

	w, err := dashboard.ResolveWindow(dashboard.TimeRange(c.Query("range")), start, end, time.Now())
	if err != nil {
		h.respondError(c, err)
		return
	}

	ov, err := h.deps.Dashboard.GetOverview(c.Request.Context(), tenantID(c), w)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

// CreateReplay handles POST /api/v1/replays
func (h *Handler) CreateReplay(c *gin.Context) {
	var req CreateReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request: "+err.Error())
		return
	}

	r, err := h.deps.Replays.CreateReplay(c.Request.Context(), req.OriginalJobID, userID(c), req.ConfigOverride)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// ExecuteReplay handles POST /api/v1/replays/:id/execute
func (h *Handler) ExecuteReplay(c *gin.Context) {
	r, err := h.deps.Replays.ExecuteReplay(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, r)
}

// CancelReplay handles POST /api/v1/replays/:id/cancel
func (h *Handler) CancelReplay(c *gin.Context) {
	id := c.Param("id")
	ok, err := h.deps.Replays.CancelReplay(c.Request.Context(), id, userID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !ok {
		h.respondError(c, domain.NewInvalidStateError("replay %s is not running", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"replay_id": id, "cancelled": true})
}

// GetReplayStatus handles GET /api/v1/replays/:id
func (h *Handler) GetReplayStatus(c *gin.Context) {
	r, err := h.deps.Replays.GetReplayStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// GetReplayHistory handles GET /api/v1/replays
func (h *Handler) GetReplayHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	replays, err := h.deps.Replays.GetReplayHistory(c.Request.Context(), tenantID(c), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"replays": replays, "count": len(replays)})
}
