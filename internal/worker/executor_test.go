package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/circuitbreaker"
	"github.com/pglemos/ml-bling-sync/internal/connector"
	"github.com/pglemos/ml-bling-sync/internal/database"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/queue"
	"github.com/pglemos/ml-bling-sync/internal/retry"
	"github.com/pglemos/ml-bling-sync/internal/worker"
	"github.com/pglemos/ml-bling-sync/testutils"
	connectorMock "github.com/pglemos/ml-bling-sync/testutils/mocks/connector"
)

const (
	testJobID         = "job-1"
	testIntegrationID = "int-1"
	testTenantID      = "tenant-a"
)

type fixture struct {
	jobs         *testutils.MockJobStore
	integrations *testutils.MockIntegrationStore
	conn         *connectorMock.MockConnector
	dispatcher   *queue.Dispatcher
	breakers     *circuitbreaker.Manager
	events       *testutils.EventRecorder
	executor     *worker.Executor
	client       *redis.Client
}

func newFixture(t *testing.T, breakerCfg circuitbreaker.Config) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	log := infralogger.NewNop()
	f := &fixture{
		jobs:         &testutils.MockJobStore{},
		integrations: &testutils.MockIntegrationStore{},
		conn:         connectorMock.NewMockConnector(ctrl),
		dispatcher:   queue.NewDispatcher(client, queue.Config{Prefix: "test", BlockTimeout: 10 * time.Millisecond}),
		breakers:     circuitbreaker.NewManager(circuitbreaker.NewRedisStore(client, time.Hour, log), breakerCfg, log),
		events:       &testutils.EventRecorder{},
		client:       client,
	}
	t.Cleanup(func() {
		f.jobs.AssertExpectations(t)
		f.integrations.AssertExpectations(t)
	})

	registry := connector.NewRegistry()
	registry.Register("bling", f.conn)

	f.executor = worker.NewExecutor(worker.ExecutorDeps{
		Jobs:         f.jobs,
		Integrations: f.integrations,
		Tasks:        f.dispatcher,
		Breakers:     f.breakers,
		Connectors:   registry,
		Events:       f.events,
		Retry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		Logger: log,
	})
	return f
}

func queuedJob() *domain.SyncJob {
	return &domain.SyncJob{
		ID:            testJobID,
		IntegrationID: testIntegrationID,
		SyncType:      domain.SyncTypeProducts,
		Status:        domain.JobStatusQueued,
		Priority:      domain.PriorityNormal,
		Options:       domain.SyncOptions{Limit: 50},
	}
}

func (f *fixture) dispatch(t *testing.T) *queue.Task {
	t.Helper()
	task := queue.NewTask(queuedJob())
	_, err := f.dispatcher.Dispatch(context.Background(), task)
	require.NoError(t, err)
	return task
}

func (f *fixture) expectClaim(taskID string) {
	f.jobs.On("GetByID", mock.Anything, testJobID).Return(queuedJob(), nil).Once()
	f.jobs.On("MarkRunning", mock.Anything, testJobID, taskID, mock.Anything).Return(nil).Once()
	f.integrations.On("Get", mock.Anything, testIntegrationID).Return(&domain.Integration{
		ID:       testIntegrationID,
		TenantID: testTenantID,
		Type:     "bling",
		Status:   domain.IntegrationStatusActive,
	}, nil).Once()
}

func (f *fixture) taskState(t *testing.T, taskID string) queue.TaskState {
	t.Helper()
	st, err := f.dispatcher.TaskStatus(context.Background(), taskID)
	require.NoError(t, err)
	return st.State
}

func TestExecute_CompletesAndReportsProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t, circuitbreaker.DefaultConfig())
	task := f.dispatch(t)
	f.expectClaim(task.ID)

	for _, p := range []int{10, 20, 50, 80} {
		f.jobs.On("UpdateProgress", mock.Anything, testJobID, p).Return(nil).Once()
	}
	result := &domain.SyncResult{ItemsProcessed: 42, ItemsFailed: 2}
	f.jobs.On("Complete", mock.Anything, testJobID, result, mock.Anything).Return(nil).Once()

	f.conn.EXPECT().Sync(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req connector.Request, progress connector.ProgressFunc) (*domain.SyncResult, error) {
			assert.Equal(t, testTenantID, req.TenantID)
			assert.Equal(t, 50, req.Options.Limit)
			progress(50, map[string]any{"page": 1})
			return result, nil
		}).Times(1)

	require.NoError(t, f.executor.Execute(context.Background(), task))

	assert.Equal(t, queue.TaskSuccess, f.taskState(t, task.ID))
	kinds := f.events.Kinds()
	assert.Equal(t, "status", kinds[0])
	assert.Equal(t, []string{"status", "finished"}, kinds[len(kinds)-2:])
}

func TestExecute_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, circuitbreaker.DefaultConfig())
	task := f.dispatch(t)
	f.expectClaim(task.ID)
	f.jobs.On("UpdateProgress", mock.Anything, testJobID, mock.Anything).Return(nil)
	f.jobs.On("Complete", mock.Anything, testJobID, mock.Anything, mock.Anything).Return(nil).Once()

	transient := connector.NewTransientError(errors.New("upstream 503"))
	gomock.InOrder(
		f.conn.EXPECT().Sync(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, transient).Times(2),
		f.conn.EXPECT().Sync(gomock.Any(), gomock.Any(), gomock.Any()).Return(&domain.SyncResult{ItemsProcessed: 1}, nil),
	)

	require.NoError(t, f.executor.Execute(context.Background(), task))
	assert.Equal(t, queue.TaskSuccess, f.taskState(t, task.ID))
}

func TestExecute_PermanentFailureFailsJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, circuitbreaker.DefaultConfig())
	task := f.dispatch(t)
	f.expectClaim(task.ID)
	f.jobs.On("UpdateProgress", mock.Anything, testJobID, mock.Anything).Return(nil)
	f.jobs.On("Fail", mock.Anything, testJobID, "invalid credentials", mock.Anything).Return(nil).Once()

	f.conn.EXPECT().Sync(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("invalid credentials")).Times(1)

	err := f.executor.Execute(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, queue.TaskFailure, f.taskState(t, task.ID))
	assert.Contains(t, f.events.Kinds(), "finished")
}

func TestExecute_OpenBreakerFailsWithoutCallingConnector(t *testing.T) {
	t.Parallel()

	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = 1
	f := newFixture(t, cfg)

	breaker := f.breakers.Get(domain.IntegrationBreakerName(testIntegrationID))
	_ = breaker.Call(context.Background(), func(context.Context) error { return errors.New("down") })

	task := f.dispatch(t)
	f.expectClaim(task.ID)
	f.jobs.On("UpdateProgress", mock.Anything, testJobID, mock.Anything).Return(nil)
	f.jobs.On("Fail", mock.Anything, testJobID, mock.MatchedBy(func(msg string) bool {
		return msg != ""
	}), mock.Anything).Return(nil).Once()

	err := f.executor.Execute(context.Background(), task)
	require.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestExecute_SkipsRevokedTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, circuitbreaker.DefaultConfig())
	task := f.dispatch(t)
	_, err := f.dispatcher.Revoke(context.Background(), testJobID, "", domain.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, f.executor.Execute(context.Background(), task))
	f.jobs.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestExecute_SkipsJobThatIsNotQueued(t *testing.T) {
	t.Parallel()

	f := newFixture(t, circuitbreaker.DefaultConfig())
	task := f.dispatch(t)

	running := queuedJob()
	running.Status = domain.JobStatusRunning
	f.jobs.On("GetByID", mock.Anything, testJobID).Return(running, nil).Once()

	require.NoError(t, f.executor.Execute(context.Background(), task))
	f.jobs.AssertNotCalled(t, "MarkRunning", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_LosingTheClaimIsHarmless(t *testing.T) {
	t.Parallel()

	f := newFixture(t, circuitbreaker.DefaultConfig())
	task := f.dispatch(t)
	f.jobs.On("GetByID", mock.Anything, testJobID).Return(queuedJob(), nil).Once()
	f.jobs.On("MarkRunning", mock.Anything, testJobID, task.ID, mock.Anything).
		Return(database.ErrStaleTransition).Once()

	require.NoError(t, f.executor.Execute(context.Background(), task))
}

func TestExecute_RevokedMidRunConfirmsRevocation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, circuitbreaker.DefaultConfig())
	task := f.dispatch(t)
	f.expectClaim(task.ID)
	f.jobs.On("UpdateProgress", mock.Anything, testJobID, mock.Anything).Return(nil)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	f.conn.EXPECT().Sync(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ connector.Request, _ connector.ProgressFunc) (*domain.SyncResult, error) {
			cancel(worker.ErrJobRevoked)
			<-ctx.Done()
			return nil, ctx.Err()
		}).Times(1)

	err := f.executor.Execute(ctx, task)
	require.ErrorIs(t, err, context.Canceled)
	f.jobs.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, queue.TaskRevoked, f.taskState(t, task.ID))
}
