package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pglemos/ml-bling-sync/internal/domain"
)

const (
	replayKeyPrefix  = "sync_replay"
	defaultReplayTTL = 30 * 24 * time.Hour
)

// ReplayStore mirrors replay requests to Redis so every API instance sees
// them. Records expire after the TTL; the sorted-set indexes are trimmed to
// the same horizon on every write.
type ReplayStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewReplayStore creates a replay store.
func NewReplayStore(client redis.UniversalClient, ttl time.Duration) *ReplayStore {
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	return &ReplayStore{client: client, ttl: ttl}
}

func replayKey(id string) string {
	return replayKeyPrefix + ":" + id
}

func globalIndexKey() string {
	return replayKeyPrefix + ":index"
}

func tenantIndexKey(tenantID string) string {
	return replayKeyPrefix + ":tenant:" + tenantID
}

func jobCountsKey() string {
	return replayKeyPrefix + ":job_counts"
}

// Save writes a replay and indexes it by creation time.
func (s *ReplayStore) Save(ctx context.Context, r *domain.ReplayRequest) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal replay: %w", err)
	}

	score := float64(r.CreatedAt.UnixMilli())
	horizon := strconv.FormatInt(time.Now().Add(-s.ttl).UnixMilli(), 10)
	member := redis.Z{Score: score, Member: r.ID}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, replayKey(r.ID), data, s.ttl)
	for _, idx := range []string{globalIndexKey(), tenantIndexKey(r.TenantID)} {
		pipe.ZAdd(ctx, idx, member)
		pipe.ZRemRangeByScore(ctx, idx, "-inf", "("+horizon)
		pipe.Expire(ctx, idx, s.ttl)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save replay %s: %w", r.ID, err)
	}
	return nil
}

// Create saves a new replay and counts it against its original job.
func (s *ReplayStore) Create(ctx context.Context, r *domain.ReplayRequest) error {
	if err := s.Save(ctx, r); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, jobCountsKey(), r.OriginalJobID, 1)
	pipe.Expire(ctx, jobCountsKey(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("count replay %s: %w", r.ID, err)
	}
	return nil
}

// Get loads a replay. Missing or expired replays are NotFound.
func (s *ReplayStore) Get(ctx context.Context, id string) (*domain.ReplayRequest, error) {
	data, err := s.client.Get(ctx, replayKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.NewNotFoundError("replay", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get replay %s: %w", id, err)
	}

	var r domain.ReplayRequest
	if err = json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode replay %s: %w", id, err)
	}
	return &r, nil
}

// List returns up to limit replays newest first, for one tenant or all.
func (s *ReplayStore) List(ctx context.Context, tenantID string, limit int) ([]*domain.ReplayRequest, error) {
	idx := globalIndexKey()
	if tenantID != "" {
		idx = tenantIndexKey(tenantID)
	}
	ids, err := s.client.ZRevRange(ctx, idx, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list replays: %w", err)
	}
	return s.load(ctx, ids)
}

// Between returns replays created inside [from, to].
func (s *ReplayStore) Between(ctx context.Context, from, to time.Time) ([]*domain.ReplayRequest, error) {
	ids, err := s.client.ZRangeByScore(ctx, globalIndexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list replays in window: %w", err)
	}
	return s.load(ctx, ids)
}

// load fetches replays in id order, skipping ones that expired.
func (s *ReplayStore) load(ctx context.Context, ids []string) ([]*domain.ReplayRequest, error) {
	out := make([]*domain.ReplayRequest, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = replayKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load replays: %w", err)
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var r domain.ReplayRequest
		if json.Unmarshal([]byte(raw), &r) == nil {
			out = append(out, &r)
		}
	}
	return out, nil
}

// CountsByJob returns how many replays each of the given jobs has.
func (s *ReplayStore) CountsByJob(ctx context.Context, jobIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(jobIDs))
	if len(jobIDs) == 0 {
		return counts, nil
	}

	values, err := s.client.HMGet(ctx, jobCountsKey(), jobIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("count replays: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			counts[jobIDs[i]] = n
		}
	}
	return counts, nil
}
