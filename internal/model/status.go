package model

import "fmt"

type JobState string

const (
	StatePending     JobState = "pending"
	StateDownloading JobState = "downloading"
	StateDownloaded  JobState = "downloaded"
	StateConverting  JobState = "converting"
	StateConverted   JobState = "converted"
	StateArchived    JobState = "archived"
	StateRetrying    JobState = "retrying"
	StateFailed      JobState = "failed"
)

var allowedTransitions = map[JobState]map[JobState]bool{
	StatePending: {
		StateDownloading: true,
		StateFailed:      true, // missing source URL
	},
	StateDownloading: {
		StateDownloaded: true,
		StateRetrying:   true,
		StateFailed:     true,
	},
	StateDownloaded: {
		StateConverting: true,
		StateFailed:     true,
	},
	StateConverting: {
		StateConverted: true,
		StateRetrying:  true,
		StateFailed:    true,
	},
	StateConverted: {
		StateArchived: true,
		StateFailed:   true,
	},
	StateRetrying: {
		StateDownloading: true,
		StateConverting:  true,
		StateFailed:      true,
	},
	StateArchived: {},
	StateFailed:   {},
}

func IsKnownState(state JobState) bool {
	_, ok := allowedTransitions[state]
	return ok
}

func IsTerminal(state JobState) bool {
	return state == StateArchived || state == StateFailed
}

func CanTransition(from, to JobState) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// TransitionJobState moves job to toState. Leaving StateRetrying is only
// allowed back into the stage the job was retrying.
func TransitionJobState(job *Job, toState JobState) error {
	from := job.State
	if !CanTransition(from, toState) {
		return fmt.Errorf("invalid job state transition: %q -> %q (item_id=%s)", from, toState, job.Item.ItemID)
	}
	if from == StateRetrying && toState != StateFailed && toState != job.RetryStage {
		return fmt.Errorf("invalid job state transition: %q -> %q (item_id=%s retrying %s)", from, toState, job.Item.ItemID, job.RetryStage)
	}
	if toState == StateRetrying {
		job.RetryStage = from
	}
	job.State = toState
	return nil
}
