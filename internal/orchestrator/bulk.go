package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// BulkRequest queues the same sync for many integrations.
type BulkRequest struct {
	IntegrationIDs []string           `json:"integration_ids"`
	SyncType       domain.SyncType    `json:"sync_type"`
	Priority       domain.Priority    `json:"priority"`
	Options        domain.SyncOptions `json:"options"`
	UserID         string             `json:"user_id,omitempty"`
}

// BulkEntry is the per-integration outcome of a bulk request. Exactly one
// of JobID or Error is set.
type BulkEntry struct {
	IntegrationID string           `json:"integration_id"`
	JobID         string           `json:"job_id,omitempty"`
	Error         string           `json:"error,omitempty"`
	Kind          domain.ErrorKind `json:"kind,omitempty"`
	Err           error            `json:"-"`
}

// BulkResult lists entries in request order.
type BulkResult struct {
	Entries   []BulkEntry `json:"entries"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// JobIDs returns the ids of the jobs that were created.
func (r *BulkResult) JobIDs() []string {
	ids := make([]string, 0, r.Succeeded)
	for _, e := range r.Entries {
		if e.JobID != "" {
			ids = append(ids, e.JobID)
		}
	}
	return ids
}

// ScheduleBulkSync fans QueueSync out over the integrations with bounded
// concurrency. A failure for one integration is reported on its entry and
// does not stop the others.
func (o *Orchestrator) ScheduleBulkSync(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if len(req.IntegrationIDs) == 0 {
		return nil, domain.NewValidationError("integration_ids must not be empty")
	}

	entries := make([]BulkEntry, len(req.IntegrationIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.BulkConcurrency)

	for i, id := range req.IntegrationIDs {
		g.Go(func() error {
			entries[i] = o.queueOne(gctx, id, req)
			return nil
		})
	}
	_ = g.Wait()

	result := &BulkResult{Entries: entries}
	for _, e := range entries {
		if e.Err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}

	o.log.Info("Bulk sync scheduled",
		infralogger.String("sync_type", string(req.SyncType)),
		infralogger.Int("requested", len(entries)),
		infralogger.Int("succeeded", result.Succeeded),
		infralogger.Int("failed", result.Failed),
	)
	return result, nil
}

func (o *Orchestrator) queueOne(ctx context.Context, integrationID string, req BulkRequest) BulkEntry {
	entry := BulkEntry{IntegrationID: integrationID}
	job, err := o.QueueSync(ctx, domain.SyncRequest{
		IntegrationID: integrationID,
		SyncType:      req.SyncType,
		Priority:      req.Priority,
		Options:       req.Options,
		UserID:        req.UserID,
	})
	if err != nil {
		entry.Err = err
		entry.Error = err.Error()
		entry.Kind = domain.KindOf(err)
		return entry
	}
	entry.JobID = job.ID
	return entry
}
