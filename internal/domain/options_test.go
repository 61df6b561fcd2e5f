package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pglemos/ml-bling-sync/internal/domain"
)

func TestSyncRequest_Validate(t *testing.T) {
	t.Parallel()

	valid := domain.SyncRequest{IntegrationID: "I1", SyncType: domain.SyncTypeProducts, Priority: domain.PriorityNormal}
	require.NoError(t, valid.Validate())

	tests := map[string]func(r *domain.SyncRequest){
		"missing integration": func(r *domain.SyncRequest) { r.IntegrationID = "" },
		"bad sync type":       func(r *domain.SyncRequest) { r.SyncType = "customers" },
		"bad priority":        func(r *domain.SyncRequest) { r.Priority = "critical" },
		"negative offset":     func(r *domain.SyncRequest) { r.Options.Offset = -1 },
		"limit too large":     func(r *domain.SyncRequest) { r.Options.Limit = domain.MaxSyncLimit + 1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r := valid
			mutate(&r)
			assert.ErrorIs(t, r.Validate(), domain.ErrValidation)
		})
	}
}

func TestSyncOptions_Merge(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := domain.SyncOptions{Limit: 50, Offset: 10, Extra: map[string]string{"store": "a", "region": "br"}}
	override := &domain.SyncOptions{Limit: 200, UpdatedSince: &since, Force: true, Extra: map[string]string{"store": "b"}}

	merged := base.Merge(override)

	assert.Equal(t, 200, merged.Limit)
	assert.Equal(t, 10, merged.Offset)
	assert.Equal(t, &since, merged.UpdatedSince)
	assert.True(t, merged.Force)
	assert.Equal(t, map[string]string{"store": "b", "region": "br"}, merged.Extra)
	assert.Equal(t, "a", base.Extra["store"], "base must not be mutated")

	assert.Equal(t, base, base.Merge(nil))
}

func TestSyncOptions_ScanValue(t *testing.T) {
	t.Parallel()

	in := domain.SyncOptions{Limit: 50, SKUs: []string{"A-1"}}
	v, err := in.Value()
	require.NoError(t, err)

	var out domain.SyncOptions
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in, out)

	var empty domain.SyncOptions
	require.NoError(t, empty.Scan(nil))
	assert.Error(t, empty.Scan(42))
}

func TestSyncJob_Duration(t *testing.T) {
	t.Parallel()

	start := time.Now()
	end := start.Add(90 * time.Second)
	job := domain.SyncJob{StartedAt: &start}

	_, ok := job.Duration()
	assert.False(t, ok)

	job.CompletedAt = &end
	d, ok := job.Duration()
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)
}
