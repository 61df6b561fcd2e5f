// Package ratelimit implements per-tenant sliding-window admission control
// backed by Redis sorted sets.
package ratelimit

import (
	"strings"
	"time"

	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// Class groups endpoints that share a quota.
type Class string

const (
	ClassAPICalls Class = "api_calls"
	ClassAuth     Class = "auth"
	ClassSync     Class = "sync"
	ClassWebhook  Class = "webhook"
	ClassUpload   Class = "upload"
)

// DefaultWindow is the sliding window length for every class.
const DefaultWindow = 60 * time.Second

// baseLimits are requests per window for a starter tenant.
var baseLimits = map[Class]int{
	ClassAPICalls: 1000,
	ClassAuth:     60,
	ClassSync:     100,
	ClassWebhook:  500,
	ClassUpload:   50,
}

// AllClasses returns every known class.
func AllClasses() []Class {
	return []Class{ClassAPICalls, ClassAuth, ClassSync, ClassWebhook, ClassUpload}
}

// IsValid reports whether c is a known class.
func (c Class) IsValid() bool {
	_, ok := baseLimits[c]
	return ok
}

// BaseLimit returns the starter-plan limit for c. Unknown classes fall back
// to the api_calls limit.
func (c Class) BaseLimit() int {
	if limit, ok := baseLimits[c]; ok {
		return limit
	}
	return baseLimits[ClassAPICalls]
}

// Config holds rate limiter settings.
type Config struct {
	Window time.Duration `yaml:"window"`
	// AdmissionClass is the quota consumed by sync admission.
	AdmissionClass Class `yaml:"admission_class"`
	// CustomLimits maps tenant id to absolute per-class limits.
	CustomLimits map[string]map[Class]int `yaml:"custom_limits"`
	// SkipPaths are not rate limited by the HTTP middleware.
	SkipPaths []string `yaml:"skip_paths"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.AdmissionClass == "" {
		c.AdmissionClass = ClassSync
	}
	if len(c.SkipPaths) == 0 {
		c.SkipPaths = []string{"/health", "/metrics"}
	}
}

// Limit returns the effective limit for a tenant. A custom limit configured
// for the tenant and class wins over plan math.
func (c *Config) Limit(tenantID string, plan domain.Plan, class Class) int {
	if custom, ok := c.CustomLimits[tenantID][class]; ok && custom > 0 {
		return custom
	}
	return class.BaseLimit() * plan.Multiplier()
}

// Key returns the window key for a tenant and class.
func Key(tenantID string, class Class) string {
	return "rate_limit:" + tenantID + ":" + string(class)
}

// ClassifyRequest maps an HTTP request to its quota class. Reads on sync
// paths count as api_calls so polling never drains the sync window.
func ClassifyRequest(method, path string) Class {
	p := strings.ToLower(path)

	switch {
	case strings.Contains(p, "/auth/") || strings.Contains(p, "/login") || strings.Contains(p, "/register"):
		return ClassAuth
	case isSyncPath(p) && !isReadMethod(method):
		return ClassSync
	case strings.Contains(p, "/webhook"):
		return ClassWebhook
	case isWriteMethod(method) && (strings.Contains(p, "/upload") || strings.Contains(p, "/import")):
		return ClassUpload
	default:
		return ClassAPICalls
	}
}

func isSyncPath(p string) bool {
	return strings.Contains(p, "/sync/") || strings.HasSuffix(p, "/sync") || strings.Contains(p, "/synchronization")
}

func isReadMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS":
		return true
	default:
		return false
	}
}

func isWriteMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH":
		return true
	default:
		return false
	}
}
