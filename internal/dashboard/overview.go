package dashboard

import (
	"context"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/database"
	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/ratelimit"
)

// ViewSource lists jobs joined with their integration and tenant.
type ViewSource interface {
	ListViews(ctx context.Context, f database.ViewFilter) ([]*domain.SyncJobView, error)
}

// TenantDirectory reads tenant facts for the per-tenant breakdown.
type TenantDirectory interface {
	ActiveCountByTenant(ctx context.Context) (map[string]int, error)
	TenantPlan(ctx context.Context, tenantID string) (domain.Plan, error)
}

// QuotaReader reports rate-limit usage without consuming it.
type QuotaReader interface {
	Usage(ctx context.Context, tenantID string, plan domain.Plan, class ratelimit.Class) (ratelimit.Usage, error)
}

// ReplaySource supplies replay aggregates.
type ReplaySource interface {
	Stats(ctx context.Context, w Window) (ReplayStats, error)
	CountsByJob(ctx context.Context, jobIDs []string) (map[string]int, error)
}

// Stats summarizes jobs in a window.
type Stats struct {
	Total               int        `json:"total"`
	Completed           int        `json:"completed"`
	Failed              int        `json:"failed"`
	Running             int        `json:"running"`
	Queued              int        `json:"queued"`
	Cancelled           int        `json:"cancelled"`
	SuccessRate         float64    `json:"success_rate"`
	AvgDurationSeconds  float64    `json:"avg_duration_seconds"`
	TotalItemsProcessed int        `json:"total_items_processed"`
	TotalItemsFailed    int        `json:"total_items_failed"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
}

// ConnectorStats summarizes jobs of one integration type.
type ConnectorStats struct {
	ConnectorType      string     `json:"connector_type"`
	TotalRuns          int        `json:"total_runs"`
	SuccessRate        float64    `json:"success_rate"`
	AvgDurationSeconds float64    `json:"avg_duration_seconds"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
	ErrorRate          float64    `json:"error_rate"`
	ItemsPerMinute     float64    `json:"items_per_minute"`
}

// TenantStats summarizes jobs of one tenant.
type TenantStats struct {
	TenantID         string     `json:"tenant_id"`
	TenantName       string     `json:"tenant_name"`
	TotalRuns        int        `json:"total_runs"`
	SuccessRate      float64    `json:"success_rate"`
	ActiveConnectors int        `json:"active_connectors"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
	QuotaUsage       float64    `json:"quota_usage"`
}

// RunSummary is one job as listed on the dashboard.
type RunSummary struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenant_id"`
	TenantName      string           `json:"tenant_name"`
	ConnectorType   string           `json:"connector_type"`
	Status          domain.JobStatus `json:"status"`
	SyncType        domain.SyncType  `json:"sync_type"`
	Progress        int              `json:"progress"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	DurationSeconds *float64         `json:"duration_seconds,omitempty"`
	ItemsProcessed  int              `json:"items_processed"`
	ItemsFailed     int              `json:"items_failed"`
	ErrorMessage    *string          `json:"error_message,omitempty"`
	CanReplay       bool             `json:"can_replay"`
	ReplayCount     int              `json:"replay_count"`
}

// Overview is the dashboard payload.
type Overview struct {
	Period         Window           `json:"period"`
	Stats          Stats            `json:"stats"`
	ConnectorStats []ConnectorStats `json:"connector_stats"`
	TenantStats    []TenantStats    `json:"tenant_stats"`
	RecentRuns     []RunSummary     `json:"recent_runs"`
	ActiveRuns     []RunSummary     `json:"active_runs"`
	ReplayStats    ReplayStats      `json:"replay_stats"`
}

// Service builds dashboard overviews.
type Service struct {
	views          ViewSource
	tenants        TenantDirectory
	quota          QuotaReader
	admissionClass ratelimit.Class
	replays        ReplaySource
	log            infralogger.Logger
	now            func() time.Time
}

// NewService creates a dashboard service.
func NewService(views ViewSource, tenants TenantDirectory, quota QuotaReader, admissionClass ratelimit.Class, replays ReplaySource, log infralogger.Logger) *Service {
	return &Service{
		views:          views,
		tenants:        tenants,
		quota:          quota,
		admissionClass: admissionClass,
		replays:        replays,
		log:            log.With(infralogger.String("component", "dashboard")),
		now:            time.Now,
	}
}

// GetOverview aggregates jobs in the window, optionally for one tenant.
// The per-tenant breakdown is only built across all tenants.
func (s *Service) GetOverview(ctx context.Context, tenantID string, w Window) (*Overview, error) {
	var (
		windowed []*domain.SyncJobView
		recent   []*domain.SyncJobView
		active   []*domain.SyncJobView
		replays  ReplayStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		windowed, err = s.views.ListViews(gctx, database.ViewFilter{TenantID: tenantID, From: w.Start, To: w.End})
		return err
	})
	g.Go(func() (err error) {
		recent, err = s.views.ListViews(gctx, database.ViewFilter{TenantID: tenantID, Limit: recentRunsLimit})
		return err
	})
	g.Go(func() (err error) {
		active, err = s.views.ListViews(gctx, database.ViewFilter{
			TenantID: tenantID,
			Statuses: []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning},
		})
		return err
	})
	g.Go(func() (err error) {
		replays, err = s.replays.Stats(gctx, w)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ov := &Overview{
		Period:         w,
		Stats:          computeStats(windowed),
		ConnectorStats: computeConnectorStats(windowed),
		TenantStats:    []TenantStats{},
		ReplayStats:    replays,
	}
	if tenantID == "" {
		ov.TenantStats = s.tenantStats(ctx, windowed)
	}

	counts := s.replayCounts(ctx, recent)
	now := s.now().UTC()
	ov.RecentRuns = summarize(recent, counts, now)
	ov.ActiveRuns = summarize(active, nil, now)
	return ov, nil
}

func (s *Service) replayCounts(ctx context.Context, views []*domain.SyncJobView) map[string]int {
	ids := make([]string, 0, len(views))
	for _, v := range views {
		if domain.CanReplayJob(v.Status) {
			ids = append(ids, v.ID)
		}
	}
	counts, err := s.replays.CountsByJob(ctx, ids)
	if err != nil {
		s.log.Warn("Replay counts unavailable", infralogger.Error(err), infralogger.Degraded())
		return nil
	}
	return counts
}

func computeStats(views []*domain.SyncJobView) Stats {
	var (
		st  Stats
		dur durationAvg
	)
	for _, v := range views {
		st.Total++
		switch v.Status {
		case domain.JobStatusCompleted:
			st.Completed++
		case domain.JobStatusFailed:
			st.Failed++
		case domain.JobStatusRunning:
			st.Running++
		case domain.JobStatusQueued:
			st.Queued++
		case domain.JobStatusCancelled:
			st.Cancelled++
		}
		dur.add(&v.SyncJob)
		if v.Result != nil {
			st.TotalItemsProcessed += v.Result.ItemsProcessed
			st.TotalItemsFailed += v.Result.ItemsFailed
		}
		st.LastSyncAt = latest(st.LastSyncAt, v.StartedAt)
	}
	st.SuccessRate = ratio(st.Completed, st.Total)
	st.AvgDurationSeconds = dur.seconds()
	return st
}

type connectorAgg struct {
	stats     ConnectorStats
	completed int
	processed int
	failed    int
	dur       durationAvg
}

func computeConnectorStats(views []*domain.SyncJobView) []ConnectorStats {
	byType := map[string]*connectorAgg{}
	for _, v := range views {
		agg, ok := byType[v.IntegrationType]
		if !ok {
			agg = &connectorAgg{stats: ConnectorStats{ConnectorType: v.IntegrationType}}
			byType[v.IntegrationType] = agg
		}
		agg.stats.TotalRuns++
		if v.Status == domain.JobStatusCompleted {
			agg.completed++
		}
		if v.Result != nil {
			agg.processed += v.Result.ItemsProcessed
			agg.failed += v.Result.ItemsFailed
		}
		agg.dur.add(&v.SyncJob)
		agg.stats.LastSyncAt = latest(agg.stats.LastSyncAt, v.StartedAt)
	}

	out := make([]ConnectorStats, 0, len(byType))
	for _, agg := range byType {
		cs := agg.stats
		cs.SuccessRate = ratio(agg.completed, cs.TotalRuns)
		cs.AvgDurationSeconds = agg.dur.seconds()
		cs.ErrorRate = ratio(agg.failed, agg.processed)
		if cs.AvgDurationSeconds > 0 {
			itemsPerRun := float64(agg.processed) / float64(cs.TotalRuns)
			cs.ItemsPerMinute = itemsPerRun / cs.AvgDurationSeconds * 60
		}
		out = append(out, cs)
	}
	slices.SortFunc(out, func(a, b ConnectorStats) int { return b.TotalRuns - a.TotalRuns })
	return out
}

type tenantAgg struct {
	stats     TenantStats
	completed int
}

func (s *Service) tenantStats(ctx context.Context, views []*domain.SyncJobView) []TenantStats {
	byTenant := map[string]*tenantAgg{}
	for _, v := range views {
		agg, ok := byTenant[v.TenantID]
		if !ok {
			agg = &tenantAgg{stats: TenantStats{TenantID: v.TenantID, TenantName: v.TenantName}}
			byTenant[v.TenantID] = agg
		}
		agg.stats.TotalRuns++
		if v.Status == domain.JobStatusCompleted {
			agg.completed++
		}
		agg.stats.LastSyncAt = latest(agg.stats.LastSyncAt, v.StartedAt)
	}

	active, err := s.tenants.ActiveCountByTenant(ctx)
	if err != nil {
		s.log.Warn("Active integration counts unavailable", infralogger.Error(err), infralogger.Degraded())
	}

	out := make([]TenantStats, 0, len(byTenant))
	for id, agg := range byTenant {
		ts := agg.stats
		ts.SuccessRate = ratio(agg.completed, ts.TotalRuns)
		ts.ActiveConnectors = active[id]
		ts.QuotaUsage = s.quotaUsage(ctx, id)
		out = append(out, ts)
	}
	slices.SortFunc(out, func(a, b TenantStats) int { return b.TotalRuns - a.TotalRuns })
	return out
}

// quotaUsage is the used fraction of the tenant's admission quota, or 0
// when it cannot be read.
func (s *Service) quotaUsage(ctx context.Context, tenantID string) float64 {
	plan, err := s.tenants.TenantPlan(ctx, tenantID)
	if err != nil {
		return 0
	}
	u, err := s.quota.Usage(ctx, tenantID, plan, s.admissionClass)
	if err != nil {
		s.log.Debug("Quota usage unavailable", infralogger.String("tenant_id", tenantID), infralogger.Error(err))
		return 0
	}
	return ratio(u.Used, u.Limit)
}

func summarize(views []*domain.SyncJobView, replayCounts map[string]int, now time.Time) []RunSummary {
	out := make([]RunSummary, 0, len(views))
	for _, v := range views {
		rs := RunSummary{
			ID:            v.ID,
			TenantID:      v.TenantID,
			TenantName:    v.TenantName,
			ConnectorType: v.IntegrationType,
			Status:        v.Status,
			SyncType:      v.SyncType,
			Progress:      v.Progress,
			StartedAt:     v.StartedAt,
			CompletedAt:   v.CompletedAt,
			ErrorMessage:  v.ErrorMessage,
			CanReplay:     domain.CanReplayJob(v.Status),
			ReplayCount:   replayCounts[v.ID],
		}
		if d, ok := v.Duration(); ok {
			secs := d.Seconds()
			rs.DurationSeconds = &secs
		} else if v.Status == domain.JobStatusRunning && v.StartedAt != nil {
			secs := now.Sub(*v.StartedAt).Seconds()
			rs.DurationSeconds = &secs
		}
		if v.Result != nil {
			rs.ItemsProcessed = v.Result.ItemsProcessed
			rs.ItemsFailed = v.Result.ItemsFailed
		}
		out = append(out, rs)
	}
	return out
}

// durationAvg averages run time over jobs with both timestamps set.
type durationAvg struct {
	total time.Duration
	n     int
}

func (a *durationAvg) add(j *domain.SyncJob) {
	if d, ok := j.Duration(); ok {
		a.total += d
		a.n++
	}
}

func (a *durationAvg) seconds() float64 {
	if a.n == 0 {
		return 0
	}
	return a.total.Seconds() / float64(a.n)
}

func ratio(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

func latest(cur, t *time.Time) *time.Time {
	if t == nil || (cur != nil && !t.After(*cur)) {
		return cur
	}
	v := *t
	return &v
}
