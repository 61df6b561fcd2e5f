package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/infrastructure/sse"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/events"
)

type captureBroker struct {
	events chan sse.Event
}

func (b *captureBroker) Publish(_ context.Context, e sse.Event) error {
	select {
	case b.events <- e:
	default:
	}
	return nil
}

func TestRelay_ForwardsPublishedEvents(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	broker := &captureBroker{events: make(chan sse.Event, 16)}
	relay := events.NewRelay(client, "test", broker, events.RelayConfig{}, infralogger.NewNop())
	pub := events.NewPublisher(client, "test", infralogger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	msg := "connector timeout"
	job := &domain.SyncJob{
		ID:            "job-1",
		IntegrationID: "int-1",
		SyncType:      domain.SyncTypeInventory,
		Status:        domain.JobStatusFailed,
		ErrorMessage:  &msg,
	}

	var got sse.Event
	require.Eventually(t, func() bool {
		pub.JobStatus(ctx, "tenant-a", job)
		select {
		case got = <-broker.events:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, sse.EventTypeSyncStatus, got.Type)
	assert.Equal(t, "tenant-a", got.Tenant)
	assert.Equal(t, "job-1", got.ID)

	raw, ok := got.Data.(json.RawMessage)
	require.True(t, ok)
	var data sse.SyncStatusData
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, "failed", data.Status)
	assert.Equal(t, msg, data.ErrorMessage)

	cancel()
	require.NoError(t, <-done)
}

func TestPublisher_StoreDownIsNotFatal(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	pub := events.NewPublisher(client, "test", infralogger.NewNop())
	assert.NotPanics(t, func() {
		pub.JobProgress(context.Background(), "t", "job-1", 20)
		pub.ReplayStatus(context.Background(), &domain.ReplayRequest{ID: "r1", Status: domain.ReplayStatusRunning})
	})
}

func TestChannelName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "sync:events", events.ChannelName("sync"))
}
