package api

import (
	"context"

	"github.com/gin-gonic/gin"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/infrastructure/sse"
	"github.com/pglemos/ml-bling-sync/internal/circuitbreaker"
	"github.com/pglemos/ml-bling-sync/internal/dashboard"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/orchestrator"
	"github.com/pglemos/ml-bling-sync/internal/ratelimit"
)

// Request headers carrying caller identity. Authentication happens upstream.
const (
	UserHeader   = "X-User-ID"
	TenantHeader = ratelimit.TenantHeader
)

// SyncService queues and controls sync jobs.
type SyncService interface {
	QueueSync(ctx context.Context, req domain.SyncRequest) (*domain.SyncJob, error)
	ScheduleBulkSync(ctx context.Context, req orchestrator.BulkRequest) (*orchestrator.BulkResult, error)
	GetSyncStatus(ctx context.Context, jobID string) (*orchestrator.StatusSnapshot, error)
	CancelSync(ctx context.Context, jobID, cancelledBy string) (bool, error)
	GetQueueStats(ctx context.Context) (*orchestrator.QueueStats, error)
}

// OverviewService builds dashboard overviews.
type OverviewService interface {
	GetOverview(ctx context.Context, tenantID string, w dashboard.Window) (*dashboard.Overview, error)
}

// ReplayService manages replays.
type ReplayService interface {
	CreateReplay(ctx context.Context, originalJobID, requestedBy string, override *domain.SyncOptions) (*domain.ReplayRequest, error)
	ExecuteReplay(ctx context.Context, replayID string) (*domain.ReplayRequest, error)
	CancelReplay(ctx context.Context, replayID, cancelledBy string) (bool, error)
	GetReplayStatus(ctx context.Context, replayID string) (*domain.ReplayRequest, error)
	GetReplayHistory(ctx context.Context, tenantID string, limit int) ([]*domain.ReplayRequest, error)
}

// BreakerAdmin inspects and resets circuit breakers.
type BreakerAdmin interface {
	AllStats(ctx context.Context) ([]circuitbreaker.Stats, error)
	Reset(ctx context.Context, name string) error
	ResetAll(ctx context.Context) error
}

// QuotaAdmin inspects and resets rate-limit windows.
type QuotaAdmin interface {
	TenantUsage(ctx context.Context, tenantID string, plan domain.Plan) ([]ratelimit.Usage, error)
	Reset(ctx context.Context, tenantID string, class ratelimit.Class) error
	ResetTenant(ctx context.Context, tenantID string) error
}

// Deps wires a Handler.
type Deps struct {
	Sync      SyncService
	Dashboard OverviewService
	Replays   ReplayService
	Breakers  BreakerAdmin
	Quota     QuotaAdmin
	Plans     ratelimit.PlanResolver
	Broker    sse.Broker
	Logger    infralogger.Logger
}

// Handler serves the /api/v1 routes.
type Handler struct {
	deps Deps
	log  infralogger.Logger
}

// NewHandler creates a handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps: deps,
		log:  deps.Logger.With(infralogger.String("component", "api")),
	}
}

// AdmissionRoutes lists the routes whose handlers run sync admission and so
// charge the tenant's quota themselves.
func AdmissionRoutes() []string {
	return []string{
		"POST /api/v1/sync/jobs",
		"POST /api/v1/sync/jobs/bulk",
		"POST /api/v1/replays/:id/execute",
	}
}

// RegisterRoutes mounts the API on router. Middleware applies to /api/v1
// only, so health and metrics stay unthrottled.
func (h *Handler) RegisterRoutes(router *gin.Engine, middleware ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1", middleware...)

	jobs := v1.Group("/sync")
	jobs.POST("/jobs", h.QueueSync)
	jobs.POST("/jobs/bulk", h.ScheduleBulkSync)
	jobs.GET("/jobs/:id", h.GetSyncStatus)
	jobs.POST("/jobs/:id/cancel", h.CancelSync)
	jobs.GET("/queue/stats", h.GetQueueStats)
	if h.deps.Broker != nil {
		jobs.GET("/events", h.StreamEvents)
	}

	v1.GET("/dashboard/overview", h.GetOverview)

	replays := v1.Group("/replays")
	replays.POST("", h.CreateReplay)
	replays.GET("", h.GetReplayHistory)
	replays.GET("/:id", h.GetReplayStatus)
	replays.POST("/:id/execute", h.ExecuteReplay)
	replays.POST("/:id/cancel", h.CancelReplay)

	breakers := v1.Group("/circuit-breakers")
	breakers.GET("", h.ListBreakers)
	breakers.POST("/reset", h.ResetAllBreakers)
	breakers.POST("/:name/reset", h.ResetBreaker)

	limits := v1.Group("/rate-limits")
	limits.GET("/:tenant_id", h.GetRateLimits)
	limits.DELETE("/:tenant_id", h.ResetRateLimits)
}

func userID(c *gin.Context) string {
	return c.GetHeader(UserHeader)
}

func tenantID(c *gin.Context) string {
	if t := c.Query("tenant_id"); t != "" {
		return t
	}
	return c.GetHeader(TenantHeader)
}

// requestLog prefers the request-scoped logger so entries carry the request id.
func (h *Handler) requestLog(c *gin.Context) infralogger.Logger {
	if l, ok := infralogger.Lookup(c.Request.Context()); ok {
		return l.With(infralogger.String("component", "api"))
	}
	return h.log
}
