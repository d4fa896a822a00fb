package ingest

import (
	"context"
	"path/filepath"

	"yt-audio-ingest/internal/model"
	"yt-audio-ingest/internal/playlist"
	"yt-audio-ingest/internal/retry"
	"yt-audio-ingest/internal/store"
	"yt-audio-ingest/internal/ytdlp"
)

type Resolver interface {
	Resolve(ctx context.Context, ref playlist.Ref) (model.Playlist, error)
}

// DownloadRequest asks for one item's raw payload inside Dir, which the
// calling worker owns until the job is terminal.
type DownloadRequest struct {
	Item     model.Item
	Dir      string
	Stem     string
	Proxy    string
	Progress func(stream ytdlp.OutputStream, line string)
}

// Downloader returns the path of the raw payload it wrote.
type Downloader interface {
	Download(ctx context.Context, req DownloadRequest) (string, error)
}

type Converter interface {
	Convert(ctx context.Context, rawPath, finalPath string) error
}

type Archive interface {
	Contains(id string) bool
	Add(id string) error
}

type Ledger interface {
	Append(rec model.FailureRecord) error
	Compact(isArchived func(id string) bool) error
}

type ArchiveOpener func(playlistDir string) (Archive, error)

type LedgerOpener func(playlistDir string) (Ledger, error)

type Metrics interface {
	IncArchived()
	AddSkipped(n int)
	IncFailed(reason string)
	IncRetry(stage string)
	IncPlaylistResolved()
	IncPlaylistFailed()
	JobStarted()
	JobFinished()
}

// OpenFileArchive opens <playlistDir>/downloaded_archive.txt.
func OpenFileArchive(playlistDir string) (Archive, error) {
	a, err := store.OpenFileArchive(filepath.Join(playlistDir, store.ArchiveFileName))
	if err != nil {
		return nil, retry.Persistence(err)
	}
	return a, nil
}

// OpenFileLedger opens <playlistDir>/failed_downloads.txt.
func OpenFileLedger(playlistDir string) (Ledger, error) {
	l, err := store.OpenFileLedger(filepath.Join(playlistDir, store.LedgerFileName))
	if err != nil {
		return nil, retry.Persistence(err)
	}
	return l, nil
}

type noopMetrics struct{}

func (noopMetrics) IncArchived() {}
func (noopMetrics) AddSkipped(int) {}
func (noopMetrics) IncFailed(string) {}
func (noopMetrics) IncRetry(string) {}
func (noopMetrics) IncPlaylistResolved() {}
func (noopMetrics) IncPlaylistFailed() {}
func (noopMetrics) JobStarted() {}
func (noopMetrics) JobFinished() {}
