package domain

// Plan is a tenant's subscription tier. It scales rate limits.
type Plan string

const (
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// Multiplier scales base rate limits. Unknown plans get the starter factor.
func (p Plan) Multiplier() int {
	switch p {
	case PlanProfessional:
		return 3
	case PlanEnterprise:
		return 10
	default:
		return 1
	}
}

// IntegrationStatusActive marks integrations eligible for sync.
const IntegrationStatusActive = "active"

// Integration is a tenant's connection to an external system, read from the
// relational store owned by the surrounding application.
type Integration struct {
	ID         string `db:"id"          json:"id"`
	TenantID   string `db:"tenant_id"   json:"tenant_id"`
	TenantName string `db:"tenant_name" json:"tenant_name"`
	Name       string `db:"name"        json:"name"`
	Type       string `db:"type"        json:"type"`
	Status     string `db:"status"      json:"status"`
	Plan       Plan   `db:"plan"        json:"plan"`
}

// IsActive reports whether the integration accepts sync jobs.
func (i *Integration) IsActive() bool {
	return i.Status == IntegrationStatusActive
}

// BreakerName is the circuit breaker resource name guarding the integration.
func (i *Integration) BreakerName() string {
	return IntegrationBreakerName(i.ID)
}

// IntegrationBreakerName returns the breaker name for an integration id.
func IntegrationBreakerName(integrationID string) string {
	return "integration:" + integrationID
}
