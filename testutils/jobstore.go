// Package testutils provides shared test doubles for the sync service.
package testutils

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/pglemos/ml-bling-sync/internal/database"
	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// MockJobStore is a testify mock of the sync job repository.
type MockJobStore struct {
	mock.Mock
}

// Create mocks job creation. The job is stamped with timestamps like the
// real repository does.
func (m *MockJobStore) Create(ctx context.Context, job *domain.SyncJob) error {
	args := m.Called(ctx, job)
	if args.Error(0) == nil {
		now := time.Now().UTC()
		job.CreatedAt, job.UpdatedAt = now, now
	}
	return args.Error(0)
}

func (m *MockJobStore) GetByID(ctx context.Context, id string) (*domain.SyncJob, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*domain.SyncJob)
	return job, args.Error(1)
}

func (m *MockJobStore) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockJobStore) SetTaskID(ctx context.Context, id, taskID string) error {
	return m.Called(ctx, id, taskID).Error(0)
}

func (m *MockJobStore) MarkRunning(ctx context.Context, id, taskID string, startedAt time.Time) error {
	return m.Called(ctx, id, taskID, startedAt).Error(0)
}

func (m *MockJobStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	return m.Called(ctx, id, progress).Error(0)
}

func (m *MockJobStore) Complete(ctx context.Context, id string, result *domain.SyncResult, completedAt time.Time) error {
	return m.Called(ctx, id, result, completedAt).Error(0)
}

func (m *MockJobStore) Fail(ctx context.Context, id, message string, completedAt time.Time) error {
	return m.Called(ctx, id, message, completedAt).Error(0)
}

func (m *MockJobStore) Cancel(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	args := m.Called(ctx, id, completedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	args := m.Called(ctx)
	counts, _ := args.Get(0).(map[domain.JobStatus]int)
	return counts, args.Error(1)
}

func (m *MockJobStore) ListDueQueued(ctx context.Context, now time.Time, limit int) ([]*domain.SyncJob, error) {
	args := m.Called(ctx, now, limit)
	jobs, _ := args.Get(0).([]*domain.SyncJob)
	return jobs, args.Error(1)
}

func (m *MockJobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

func (m *MockJobStore) ListViews(ctx context.Context, f database.ViewFilter) ([]*domain.SyncJobView, error) {
	args := m.Called(ctx, f)
	views, _ := args.Get(0).([]*domain.SyncJobView)
	return views, args.Error(1)
}

// MockIntegrationStore is a testify mock of the integration directory.
type MockIntegrationStore struct {
	mock.Mock
}

func (m *MockIntegrationStore) Get(ctx context.Context, id string) (*domain.Integration, error) {
	args := m.Called(ctx, id)
	integration, _ := args.Get(0).(*domain.Integration)
	return integration, args.Error(1)
}

func (m *MockIntegrationStore) ListActive(ctx context.Context) ([]*domain.Integration, error) {
	args := m.Called(ctx)
	integrations, _ := args.Get(0).([]*domain.Integration)
	return integrations, args.Error(1)
}

func (m *MockIntegrationStore) TenantPlan(ctx context.Context, tenantID string) (domain.Plan, error) {
	args := m.Called(ctx, tenantID)
	plan, _ := args.Get(0).(domain.Plan)
	return plan, args.Error(1)
}

func (m *MockIntegrationStore) ActiveCountByTenant(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	counts, _ := args.Get(0).(map[string]int)
	return counts, args.Error(1)
}
