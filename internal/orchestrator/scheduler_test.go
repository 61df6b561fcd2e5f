package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/coordination"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/orchestrator"
	"github.com/pglemos/ml-bling-sync/internal/queue"
)

func (f *fixture) scheduler(cfg orchestrator.SchedulerConfig) *orchestrator.Scheduler {
	return orchestrator.NewScheduler(cfg, f.orch, f.client, "test", infralogger.NewNop())
}

func TestSyncAllIntegrations_CountsRejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.openBreaker(t, "int-2")
	f.integrations.On("ListActive", mock.Anything).Return([]*domain.Integration{
		activeIntegration("int-1"),
		activeIntegration("int-2"),
	}, nil).Once()
	f.integrations.On("Get", mock.Anything, "int-1").Return(activeIntegration("int-1"), nil).Once()
	f.integrations.On("Get", mock.Anything, "int-2").Return(activeIntegration("int-2"), nil).Once()

	var queued *domain.SyncJob
	f.jobs.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { queued = args.Get(1).(*domain.SyncJob) }).
		Return(nil).Once()
	f.jobs.On("SetTaskID", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	res, err := f.scheduler(orchestrator.SchedulerConfig{}).SyncAllIntegrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.SweepResult{Integrations: 2, Queued: 1, Rejected: 1}, res)

	require.NotNil(t, queued)
	assert.Equal(t, domain.PriorityLow, queued.Priority)
	assert.Equal(t, domain.SyncTypeProducts, queued.SyncType)
	assert.Equal(t, 50, queued.Options.Limit)
	assert.Zero(t, queued.Options.Offset)
}

func TestCleanupOldSyncJobs_UsesRetention(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.jobs.On("DeleteOlderThan", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		return time.Since(cutoff) > 6*24*time.Hour && time.Since(cutoff) < 8*24*time.Hour
	})).Return(int64(12), nil).Once()

	n, err := f.scheduler(orchestrator.SchedulerConfig{Retention: 7 * 24 * time.Hour}).CleanupOldSyncJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestDispatchDue_RecordsTaskIDs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.integrations.On("Get", mock.Anything, testIntegrationID).Return(activeIntegration(testIntegrationID), nil).Once()
	f.jobs.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	at := time.Now().Add(30 * time.Millisecond)
	req := syncRequest()
	req.ScheduledAt = &at
	job, err := f.orch.QueueSync(ctx, req)
	require.NoError(t, err)

	f.jobs.On("SetTaskID", mock.Anything, job.ID, mock.AnythingOfType("string")).Return(nil).Once()

	s := f.scheduler(orchestrator.SchedulerConfig{})
	require.Eventually(t, func() bool {
		n, dErr := s.DispatchDue(ctx)
		return dErr == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	depths, err := f.dispatcher.QueueDepths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths[domain.PriorityNormal])
}

func TestRecoverUndispatched_RedispatchesStrandedJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	stranded := &domain.SyncJob{
		ID:            "job-stranded",
		IntegrationID: testIntegrationID,
		SyncType:      domain.SyncTypeOrders,
		Status:        domain.JobStatusQueued,
		Priority:      domain.PriorityUrgent,
	}
	f.jobs.On("ListDueQueued", mock.Anything, mock.Anything, 100).Return([]*domain.SyncJob{stranded}, nil).Once()
	f.jobs.On("SetTaskID", mock.Anything, "job-stranded", mock.Anything).Return(nil).Once()

	n, err := f.scheduler(orchestrator.SchedulerConfig{}).RecoverUndispatched(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NotNil(t, stranded.TaskID)

	st, err := f.dispatcher.TaskStatus(ctx, *stranded.TaskID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskPending, st.State)
}

func TestSchedulerRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.jobs.On("ListDueQueued", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Maybe()

	s := f.scheduler(orchestrator.SchedulerConfig{
		DispatchInterval: 5 * time.Millisecond,
		RecoveryInterval: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerRun_RejectsBadSpec(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.scheduler(orchestrator.SchedulerConfig{SyncAllSpec: "not a cron"}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_all")
}

func TestPeriodicTasks_SkipWhileAnotherInstanceLeads(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	held := coordination.NewDistributedLock(f.client, "test:lock:recovery", coordination.LockConfig{TTL: time.Minute})
	ok, err := held.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	s := f.scheduler(orchestrator.SchedulerConfig{
		DispatchInterval: time.Hour,
		RecoveryInterval: 5 * time.Millisecond,
	})
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(runCtx))

	f.jobs.AssertNotCalled(t, "ListDueQueued", mock.Anything, mock.Anything, mock.Anything)
}
