package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pglemos/ml-bling-sync/internal/database"
	"github.com/pglemos/ml-bling-sync/internal/domain"
)

var jobColumns = []string{
	"id", "integration_id", "sync_type", "status", "priority", "progress", "options", "result",
	"error_message", "task_id", "user_id", "scheduled_at", "started_at", "completed_at",
	"created_at", "updated_at",
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = mockDB.Close()
	})

	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestSyncJobRepository_Create(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSyncJobRepository(db)

	now := time.Now()
	user := "user-1"
	job := &domain.SyncJob{
		ID:            "job-1",
		IntegrationID: "I1",
		SyncType:      domain.SyncTypeProducts,
		Status:        domain.JobStatusQueued,
		Priority:      domain.PriorityNormal,
		Options:       domain.SyncOptions{Limit: 50},
		UserID:        &user,
		ScheduledAt:   now,
	}

	mock.ExpectQuery("INSERT INTO sync_jobs").
		WithArgs("job-1", "I1", domain.SyncTypeProducts, domain.JobStatusQueued, domain.PriorityNormal, 0,
			sqlmock.AnyArg(), &user, now).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, repo.Create(context.Background(), job))
	assert.Equal(t, now, job.CreatedAt)
}

func TestSyncJobRepository_GetByID(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSyncJobRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM sync_jobs WHERE id = \\$1").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			"job-1", "I1", "orders", "completed", "high", 100, []byte(`{"limit":50}`),
			[]byte(`{"items_processed":7,"items_failed":1}`), nil, "1-0", nil, now, now, now, now, now,
		))

	job, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 50, job.Options.Limit)
	require.NotNil(t, job.Result)
	assert.Equal(t, 7, job.Result.ItemsProcessed)
	require.NotNil(t, job.TaskID)
	assert.Equal(t, "1-0", *job.TaskID)
	assert.Nil(t, job.UserID)
}

func TestSyncJobRepository_GetByID_NotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSyncJobRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM sync_jobs").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(jobColumns))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncJobRepository_MarkRunning_StaleWhenNotQueued(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSyncJobRepository(db)

	mock.ExpectExec("UPDATE sync_jobs (.+) WHERE id = \\$1 AND status = 'queued'").
		WithArgs("job-1", "1-0", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRunning(context.Background(), "job-1", "1-0", time.Now())
	assert.ErrorIs(t, err, database.ErrStaleTransition)
}

func TestSyncJobRepository_UpdateProgress_IsMonotonic(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSyncJobRepository(db)

	mock.ExpectExec("AND progress <= \\$2").
		WithArgs("job-1", 80).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("AND progress <= \\$2").
		WithArgs("job-1", 20).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.UpdateProgress(context.Background(), "job-1", 80))
	assert.ErrorIs(t, repo.UpdateProgress(context.Background(), "job-1", 20), database.ErrStaleTransition)
}

func TestSyncJobRepository_CompleteAndFail_RequireRunning(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSyncJobRepository(db)
	now := time.Now()

	mock.ExpectExec("SET status = 'completed'").
		WithArgs("job-1", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET status = 'failed'").
		WithArgs("job-2", "boom", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Complete(context.Background(), "job-1", &domain.SyncResult{ItemsProcessed: 3}, now))
	assert.ErrorIs(t, repo.Fail(context.Background(), "job-2", "boom", now), database.ErrStaleTransition)
}

func TestSyncJobRepository_Cancel(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSyncJobRepository(db)
	now := time.Now()

	mock.ExpectExec("SET status = 'cancelled'").
		WithArgs("job-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET status = 'cancelled'").
		WithArgs("job-2", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Cancel(context.Background(), "job-1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Cancel(context.Background(), "job-2", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncJobRepository_CountByStatus(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSyncJobRepository(db)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("queued", 3).
			AddRow("failed", 1))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.JobStatusQueued])
	assert.Equal(t, 1, counts[domain.JobStatusFailed])
	assert.Equal(t, 0, counts[domain.JobStatusRunning])
	assert.Len(t, counts, len(domain.AllJobStatuses()))
}

func TestSyncJobRepository_DeleteOlderThan(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSyncJobRepository(db)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	mock.ExpectExec("DELETE FROM sync_jobs WHERE created_at < \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := repo.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestSyncJobRepository_ListViews(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSyncJobRepository(db)
	now := time.Now().UTC()

	cols := append(append([]string{}, jobColumns...), "tenant_id", "tenant_name", "integration_type")
	mock.ExpectQuery("FROM sync_jobs j").
		WithArgs("tenant-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 20).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"job-1", "I1", "products", "running", "normal", 20, []byte(`{}`), nil, nil, nil, nil,
			now, now, nil, now, now, "tenant-1", "Acme", "bling",
		))

	views, err := repo.ListViews(context.Background(), database.ViewFilter{TenantID: "tenant-1", From: now.Add(-time.Hour), Limit: 20})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "bling", views[0].IntegrationType)
	assert.Equal(t, "Acme", views[0].TenantName)
	assert.Equal(t, domain.JobStatusRunning, views[0].Status)
}
