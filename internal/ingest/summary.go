package ingest

import (
	"errors"
	"time"

	"yt-audio-ingest/internal/playlist"
)

var (
	ErrItemsFailed   = errors.New("one or more items failed; see failed_downloads.txt in the playlist directory")
	ErrResolveFailed = errors.New("one or more playlists could not be resolved")
	ErrInterrupted   = errors.New("interrupted")
)

type JobResult struct {
	ItemID           string `json:"item_id"`
	Title            string `json:"title,omitempty"`
	State            string `json:"state"`
	Reason           string `json:"reason,omitempty"`
	DownloadAttempts int    `json:"download_attempts"`
	ConvertAttempts  int    `json:"convert_attempts"`
	Error            string `json:"error,omitempty"`
}

type PlaylistSummary struct {
	Ref          playlist.Ref `json:"ref"`
	Title        string       `json:"title"`
	Dir          string       `json:"dir,omitempty"`
	Total        int          `json:"total"`
	Skipped      int          `json:"skipped"`
	Archived     int          `json:"archived"`
	Failed       int          `json:"failed"`
	Interrupted  int          `json:"interrupted"`
	ResolveError string       `json:"resolve_error,omitempty"`
	Jobs         []JobResult  `json:"jobs,omitempty"`
}

type Summary struct {
	RunID       string            `json:"run_id"`
	Root        string            `json:"root"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Interrupted bool              `json:"interrupted"`
	Playlists   []PlaylistSummary `json:"playlists"`
}

type Totals struct {
	Playlists     int `json:"playlists"`
	ResolveFailed int `json:"resolve_failed"`
	Total         int `json:"total"`
	Skipped       int `json:"skipped"`
	Archived      int `json:"archived"`
	Failed        int `json:"failed"`
	Interrupted   int `json:"interrupted"`
}

func (s Summary) Totals() Totals {
	t := Totals{Playlists: len(s.Playlists)}
	for _, p := range s.Playlists {
		if p.ResolveError != "" {
			t.ResolveFailed++
		}
		t.Total += p.Total
		t.Skipped += p.Skipped
		t.Archived += p.Archived
		t.Failed += p.Failed
		t.Interrupted += p.Interrupted
	}
	return t
}

func (s Summary) Failed() int {
	return s.Totals().Failed
}

// Err reports why the run should exit non-zero, or nil.
func (s Summary) Err() error {
	t := s.Totals()
	switch {
	case s.Interrupted || t.Interrupted > 0:
		return ErrInterrupted
	case t.Failed > 0:
		return ErrItemsFailed
	case t.ResolveFailed > 0:
		return ErrResolveFailed
	default:
		return nil
	}
}

func (s Summary) Playlist(title string) (PlaylistSummary, bool) {
	for _, p := range s.Playlists {
		if p.Title == title {
			return p, true
		}
	}
	return PlaylistSummary{}, false
}

func (p PlaylistSummary) Job(itemID string) (JobResult, bool) {
	for _, j := range p.Jobs {
		if j.ItemID == itemID {
			return j, true
		}
	}
	return JobResult{}, false
}
