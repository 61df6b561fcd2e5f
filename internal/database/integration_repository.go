package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pglemos/ml-bling-sync/internal/domain"
)

const integrationSelect = `
	SELECT i.id, i.tenant_id, t.name AS tenant_name, i.name, i.type, i.status, t.plan
	FROM integrations i
	JOIN tenants t ON t.id = i.tenant_id
`

// IntegrationRepository reads the integration directory owned by the
// surrounding application.
type IntegrationRepository struct {
	db *sqlx.DB
}

// NewIntegrationRepository creates a new integration repository.
func NewIntegrationRepository(db *sqlx.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

// Get returns one integration with its tenant's plan.
func (r *IntegrationRepository) Get(ctx context.Context, id string) (*domain.Integration, error) {
	var in domain.Integration
	err := r.db.GetContext(ctx, &in, integrationSelect+` WHERE i.id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("integration", id)
		}
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return &in, nil
}

// ListActive returns every active integration.
func (r *IntegrationRepository) ListActive(ctx context.Context) ([]*domain.Integration, error) {
	var out []*domain.Integration
	err := r.db.SelectContext(ctx, &out, integrationSelect+` WHERE i.status = $1 ORDER BY i.id`, domain.IntegrationStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active integrations: %w", err)
	}
	return out, nil
}

// TenantPlan returns the plan of a tenant.
func (r *IntegrationRepository) TenantPlan(ctx context.Context, tenantID string) (domain.Plan, error) {
	var plan domain.Plan
	err := r.db.GetContext(ctx, &plan, `SELECT plan FROM tenants WHERE id = $1`, tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.NewNotFoundError("tenant", tenantID)
		}
		return "", fmt.Errorf("failed to get tenant plan: %w", err)
	}
	return plan, nil
}

// ActiveCountByTenant returns the number of active integrations per tenant.
func (r *IntegrationRepository) ActiveCountByTenant(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		TenantID string `db:"tenant_id"`
		Count    int    `db:"count"`
	}
	query := `SELECT tenant_id, COUNT(*) AS count FROM integrations WHERE status = $1 GROUP BY tenant_id`
	if err := r.db.SelectContext(ctx, &rows, query, domain.IntegrationStatusActive); err != nil {
		return nil, fmt.Errorf("failed to count integrations: %w", err)
	}

	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.TenantID] = row.Count
	}
	return out, nil
}
