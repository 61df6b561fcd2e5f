package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pglemos/ml-bling-sync/internal/domain"
)

const syncJobColumns = `id, integration_id, sync_type, status, priority, progress, options, result,
	error_message, task_id, user_id, scheduled_at, started_at, completed_at, created_at, updated_at`

// SyncJobRepository is the durable JobStore. Worker-side writes are
// conditional on the job still being running, so a cancelled job rejects
// stale writes with ErrStaleTransition.
type SyncJobRepository struct {
	db *sqlx.DB
}

// NewSyncJobRepository creates a new sync job repository.
func NewSyncJobRepository(db *sqlx.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Create inserts a queued job and fills its timestamps.
func (r *SyncJobRepository) Create(ctx context.Context, job *domain.SyncJob) error {
	query := `
		INSERT INTO sync_jobs (id, integration_id, sync_type, status, priority, progress, options,
		                       user_id, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		job.ID,
		job.IntegrationID,
		job.SyncType,
		job.Status,
		job.Priority,
		job.Progress,
		job.Options,
		job.UserID,
		job.ScheduledAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}

	return nil
}

// GetByID retrieves a job. A missing job is a domain not-found error.
func (r *SyncJobRepository) GetByID(ctx context.Context, id string) (*domain.SyncJob, error) {
	var job domain.SyncJob
	query := `SELECT ` + syncJobColumns + ` FROM sync_jobs WHERE id = $1`

	err := r.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("sync job", id)
		}
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}

	return &job, nil
}

// Delete removes a job. Used only to roll back a job whose dispatch failed.
func (r *SyncJobRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_jobs WHERE id = $1`, id)
	if err = execRequireRows(result, err, domain.NewNotFoundError("sync job", id)); err != nil {
		return fmt.Errorf("failed to delete sync job: %w", err)
	}
	return nil
}

// SetTaskID records the dispatch handle on a queued job.
func (r *SyncJobRepository) SetTaskID(ctx context.Context, id, taskID string) error {
	query := `
		UPDATE sync_jobs SET task_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'queued'
	`
	result, err := r.db.ExecContext(ctx, query, id, taskID)
	if err = execRequireRows(result, err, ErrStaleTransition); err != nil {
		return fmt.Errorf("failed to set task id: %w", err)
	}
	return nil
}

// MarkRunning moves a queued job to running. It succeeds for exactly one
// caller, which makes redelivered dispatches harmless.
func (r *SyncJobRepository) MarkRunning(ctx context.Context, id, taskID string, startedAt time.Time) error {
	query := `
		UPDATE sync_jobs
		SET status = 'running', task_id = $2, started_at = $3, progress = 0, updated_at = NOW()
		WHERE id = $1 AND status = 'queued'
	`
	result, err := r.db.ExecContext(ctx, query, id, taskID, startedAt)
	if err = execRequireRows(result, err, ErrStaleTransition); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

// UpdateProgress raises the progress of a running job. Progress never
// decreases.
func (r *SyncJobRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	query := `
		UPDATE sync_jobs SET progress = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'running' AND progress <= $2
	`
	result, err := r.db.ExecContext(ctx, query, id, progress)
	if err = execRequireRows(result, err, ErrStaleTransition); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// Complete marks a running job completed with its result.
func (r *SyncJobRepository) Complete(ctx context.Context, id string, result *domain.SyncResult, completedAt time.Time) error {
	query := `
		UPDATE sync_jobs
		SET status = 'completed', progress = 100, result = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`
	res, err := r.db.ExecContext(ctx, query, id, result, completedAt)
	if err = execRequireRows(res, err, ErrStaleTransition); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Fail marks a running job failed.
func (r *SyncJobRepository) Fail(ctx context.Context, id, message string, completedAt time.Time) error {
	query := `
		UPDATE sync_jobs
		SET status = 'failed', error_message = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`
	result, err := r.db.ExecContext(ctx, query, id, message, completedAt)
	if err = execRequireRows(result, err, ErrStaleTransition); err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// Cancel marks a queued or running job cancelled. It returns false when the
// job was already terminal.
func (r *SyncJobRepository) Cancel(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	query := `
		UPDATE sync_jobs
		SET status = 'cancelled', completed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'running')
	`
	result, err := r.db.ExecContext(ctx, query, id, completedAt)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	return n > 0, nil
}

// CountByStatus returns job counts for every status.
func (r *SyncJobRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	var rows []struct {
		Status domain.JobStatus `db:"status"`
		Count  int              `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM sync_jobs GROUP BY status`

	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[domain.JobStatus]int, len(domain.AllJobStatuses()))
	for _, s := range domain.AllJobStatuses() {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// ListDueQueued returns queued jobs scheduled at or before now that have no
// dispatch handle. It backs up the Redis scheduled set after a store loss.
func (r *SyncJobRepository) ListDueQueued(ctx context.Context, now time.Time, limit int) ([]*domain.SyncJob, error) {
	var jobs []*domain.SyncJob
	query := `SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE status = 'queued' AND task_id IS NULL AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &jobs, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}
	return jobs, nil
}

// DeleteOlderThan removes jobs created before cutoff and returns the count.
func (r *SyncJobRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_jobs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	return n, nil
}

// ViewFilter selects jobs for dashboard aggregation.
type ViewFilter struct {
	TenantID string
	From     time.Time
	To       time.Time
	Statuses []domain.JobStatus
	Limit    int
}

// ListViews returns jobs joined with their integration and tenant, newest
// first. Zero From/To leave the window open on that side.
func (r *SyncJobRepository) ListViews(ctx context.Context, f ViewFilter) ([]*domain.SyncJobView, error) {
	query := `
		SELECT j.id, j.integration_id, j.sync_type, j.status, j.priority, j.progress, j.options,
		       j.result, j.error_message, j.task_id, j.user_id, j.scheduled_at, j.started_at,
		       j.completed_at, j.created_at, j.updated_at,
		       i.tenant_id, t.name AS tenant_name, i.type AS integration_type
		FROM sync_jobs j
		JOIN integrations i ON i.id = j.integration_id
		JOIN tenants t ON t.id = i.tenant_id
		WHERE ($1 = '' OR i.tenant_id = $1)
		  AND ($2::timestamptz IS NULL OR j.created_at >= $2)
		  AND ($3::timestamptz IS NULL OR j.created_at <= $3)
		  AND (cardinality($4::text[]) = 0 OR j.status = ANY($4))
		ORDER BY j.created_at DESC
		LIMIT $5
	`

	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100000
	}

	var views []*domain.SyncJobView
	err := r.db.SelectContext(ctx, &views, query,
		f.TenantID, nullTime(f.From), nullTime(f.To), pq.Array(statuses), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list job views: %w", err)
	}
	if views == nil {
		views = []*domain.SyncJobView{}
	}
	return views, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
