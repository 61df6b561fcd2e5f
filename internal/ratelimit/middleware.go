package ratelimit

import (
	"context"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// TenantHeader carries the caller's tenant id.
const TenantHeader = "X-Tenant-ID"

const anonymousTenant = "anonymous"

// PlanResolver looks up a tenant's plan.
type PlanResolver interface {
	TenantPlan(ctx context.Context, tenantID string) (domain.Plan, error)
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

type middlewareOptions struct {
	admissionRoutes map[string]struct{}
}

// WithAdmissionRoutes exempts routes whose handlers charge the tenant through
// sync admission. Routes are "METHOD /full/path" using gin route patterns,
// e.g. "POST /api/v1/sync/jobs".
func WithAdmissionRoutes(routes ...string) MiddlewareOption {
	return func(o *middlewareOptions) {
		for _, r := range routes {
			o.admissionRoutes[r] = struct{}{}
		}
	}
}

// Middleware enforces the tenant quota for the request's class and sets the
// X-RateLimit-* headers.
func Middleware(l *Limiter, plans PlanResolver, log infralogger.Logger, opts ...MiddlewareOption) gin.HandlerFunc {
	cfg := l.Config()
	o := middlewareOptions{admissionRoutes: make(map[string]struct{})}
	for _, opt := range opts {
		opt(&o)
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if slices.ContainsFunc(cfg.SkipPaths, func(p string) bool { return strings.HasPrefix(path, p) }) {
			c.Next()
			return
		}
		if _, ok := o.admissionRoutes[c.Request.Method+" "+c.FullPath()]; ok {
			c.Next()
			return
		}

		tenantID := c.GetHeader(TenantHeader)
		plan := domain.PlanStarter
		if tenantID == "" {
			tenantID = anonymousTenant
		} else if plans != nil {
			resolved, err := plans.TenantPlan(c.Request.Context(), tenantID)
			if err != nil {
				log.Debug("Tenant plan lookup failed, using starter",
					infralogger.String("tenant_id", tenantID),
					infralogger.Error(err),
				)
			} else {
				plan = resolved
			}
		}

		class := ClassifyRequest(c.Request.Method, path)
		d := l.Check(c.Request.Context(), tenantID, plan, class)

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"kind":                domain.KindQuotaExceeded,
					"message":             "rate limit exceeded for " + string(class),
					"retry_after_seconds": retryAfter,
				},
			})
			return
		}

		c.Next()
	}
}
