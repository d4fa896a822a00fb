package model

import "time"

// Failure reasons written to the ledger.
const (
	ReasonPermanent        = "permanent"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonConversion       = "conversion"
	ReasonMissingURL       = "missing_url"
)

type Playlist struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	ResolvedAt time.Time `json:"resolved_at"`
	Items      []Item    `json:"items,omitempty"`
}

type Item struct {
	ItemID     string `json:"item_id"`
	PlaylistID string `json:"playlist_id"`
	SourceURL  string `json:"source_url"`
	Title      string `json:"title,omitempty"`
}

// Job is the runtime unit tracking one item through the pipeline. It is
// owned by the worker executing it and never persisted.
//
// Attempts counts tries of the stage currently running; the per-stage
// counters keep the final tally once the job moves on.
type Job struct {
	Item             Item
	State            JobState
	RetryStage       JobState
	Attempts         int
	DownloadAttempts int
	ConvertAttempts  int
	Reason           string
	LastError        string
	LastKind         string
}

type FailureRecord struct {
	ItemID    string `json:"item_id"`
	SourceURL string `json:"source_url"`
	Reason    string `json:"reason"`
	Attempts  int    `json:"attempts"`
	Detail    string `json:"detail,omitempty"`
}

func NewJob(item Item) Job {
	return Job{Item: item, State: StatePending}
}
