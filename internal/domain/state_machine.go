package domain

import "fmt"

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:    {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning:   {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusCompleted: {},
	JobStatusFailed:    {},
	JobStatusCancelled: {},
}

// ValidateJobTransition returns an InvalidState error unless from→to is allowed.
func ValidateJobTransition(from, to JobStatus) error {
	allowed, ok := jobTransitions[from]
	if !ok {
		return NewInvalidStateError("unknown job status %q", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return NewInvalidStateError("invalid job transition from %s to %s", from, to)
}

// IsTerminalJobStatus reports whether no transition leaves s.
func IsTerminalJobStatus(s JobStatus) bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanCancelJob reports whether a job in status s may be cancelled.
func CanCancelJob(s JobStatus) bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// CanReplayJob reports whether a job in status s may be replayed.
func CanReplayJob(s JobStatus) bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

var replayTransitions = map[ReplayStatus][]ReplayStatus{
	ReplayStatusPending:   {ReplayStatusRunning},
	ReplayStatusRunning:   {ReplayStatusCompleted, ReplayStatusFailed, ReplayStatusCancelled},
	ReplayStatusCompleted: {},
	ReplayStatusFailed:    {},
	ReplayStatusCancelled: {},
}

// ValidateReplayTransition returns an InvalidState error unless from→to is allowed.
func ValidateReplayTransition(from, to ReplayStatus) error {
	for _, s := range replayTransitions[from] {
		if s == to {
			return nil
		}
	}
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf("invalid replay transition from %s to %s", from, to)}
}

// IsTerminalReplayStatus reports whether no transition leaves s.
func IsTerminalReplayStatus(s ReplayStatus) bool {
	return s == ReplayStatusCompleted || s == ReplayStatusFailed || s == ReplayStatusCancelled
}
