package worker

import (
	"sync/atomic"
	"time"
)

// SlotState represents the current state of a pool slot.
type SlotState int32

const (
	// SlotStateIdle means the slot is waiting for work.
	SlotStateIdle SlotState = iota

	// SlotStateBusy means the slot is executing a job.
	SlotStateBusy

	percentageMultiplier = 100
)

// String returns the string representation of a slot state.
func (s SlotState) String() string {
	switch s {
	case SlotStateIdle:
		return "idle"
	case SlotStateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// slot is one unit of pool capacity and keeps per-slot statistics.
type slot struct {
	id    int
	state atomic.Int32

	jobsProcessed atomic.Int64
	jobsSucceeded atomic.Int64
	jobsFailed    atomic.Int64
	lastJobAt     atomic.Int64
	lastError     atomic.Value

	currentJob   atomic.Value
	jobStartedAt atomic.Int64
}

func newSlot(id int) *slot {
	s := &slot{id: id}
	s.state.Store(int32(SlotStateIdle))
	s.currentJob.Store("")
	return s
}

func (s *slot) begin(jobID string, now time.Time) {
	s.state.Store(int32(SlotStateBusy))
	s.currentJob.Store(jobID)
	s.jobStartedAt.Store(now.UnixNano())
}

func (s *slot) end(err error, now time.Time) {
	s.jobsProcessed.Add(1)
	s.lastJobAt.Store(now.UnixNano())
	if err != nil {
		s.jobsFailed.Add(1)
		s.lastError.Store(err.Error())
	} else {
		s.jobsSucceeded.Add(1)
	}
	s.currentJob.Store("")
	s.jobStartedAt.Store(0)
	s.state.Store(int32(SlotStateIdle))
}

func (s *slot) busy() bool {
	return SlotState(s.state.Load()) == SlotStateBusy
}

func (s *slot) stats() SlotStats {
	st := SlotStats{
		ID:            s.id,
		State:         SlotState(s.state.Load()),
		JobsProcessed: s.jobsProcessed.Load(),
		JobsSucceeded: s.jobsSucceeded.Load(),
		JobsFailed:    s.jobsFailed.Load(),
	}
	st.CurrentJobID, _ = s.currentJob.Load().(string)
	st.LastError, _ = s.lastError.Load().(string)
	if ts := s.lastJobAt.Load(); ts > 0 {
		st.LastJobAt = time.Unix(0, ts)
	}
	if ts := s.jobStartedAt.Load(); ts > 0 {
		st.JobStartedAt = time.Unix(0, ts)
	}
	return st
}

// SlotStats holds statistics for one pool slot.
type SlotStats struct {
	ID            int       `json:"id"`
	State         SlotState `json:"state"`
	JobsProcessed int64     `json:"jobs_processed"`
	JobsSucceeded int64     `json:"jobs_succeeded"`
	JobsFailed    int64     `json:"jobs_failed"`
	LastJobAt     time.Time `json:"last_job_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobStartedAt  time.Time `json:"job_started_at,omitzero"`
}

// SuccessRate returns the success rate as a percentage.
func (s SlotStats) SuccessRate() float64 {
	if s.JobsProcessed == 0 {
		return 0
	}
	return float64(s.JobsSucceeded) / float64(s.JobsProcessed) * percentageMultiplier
}
