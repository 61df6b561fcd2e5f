package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/ratelimit"
)

// ListBreakers handles GET /api/v1/circuit-breakers
func (h *Handler) ListBreakers(c *gin.Context) {
	stats, err := h.deps.Breakers.AllStats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"circuit_breakers": stats, "count": len(stats)})
}

// ResetBreaker handles POST /api/v1/circuit-breakers/:name/reset
func (h *Handler) ResetBreaker(c *gin.Context) {
	name := c.Param("name")
	if err := h.deps.Breakers.Reset(c.Request.Context(), name); err != nil {
		h.respondError(c, err)
		return
	}
	h.requestLog(c).Info("Circuit breaker reset",
		infralogger.String("name", name),
		infralogger.String("user_id", userID(c)),
	)
	c.JSON(http.StatusOK, gin.H{"name": name, "reset": true})
}

// ResetAllBreakers handles POST /api/v1/circuit-breakers/reset
func (h *Handler) ResetAllBreakers(c *gin.Context) {
	if err := h.deps.Breakers.ResetAll(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	h.requestLog(c).Info("All circuit breakers reset", infralogger.String("user_id", userID(c)))
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// GetRateLimits handles GET /api/v1/rate-limits/:tenant_id
func (h *Handler) GetRateLimits(c *gin.Context) {
	tenant := c.Param("tenant_id")
	plan, err := h.deps.Plans.TenantPlan(c.Request.Context(), tenant)
	if err != nil {
		h.respondError(c, err)
		return
	}

	usage, err := h.deps.Quota.TenantUsage(c.Request.Context(), tenant, plan)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenant, "plan": plan, "limits": usage})
}

// ResetRateLimits handles DELETE /api/v1/rate-limits/:tenant_id[?class=]
func (h *Handler) ResetRateLimits(c *gin.Context) {
	tenant := c.Param("tenant_id")
	class := ratelimit.Class(c.Query("class"))

	var err error
	if class == "" {
		err = h.deps.Quota.ResetTenant(c.Request.Context(), tenant)
	} else if !class.IsValid() {
		err = domain.NewValidationError("invalid class %q", class)
	} else {
		err = h.deps.Quota.Reset(c.Request.Context(), tenant, class)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.requestLog(c).Info("Rate limits reset",
		infralogger.String("tenant_id", tenant),
		infralogger.String("class", string(class)),
		infralogger.String("user_id", userID(c)),
	)
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenant, "class": class, "reset": true})
}
