package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"yt-audio-ingest/internal/model"
	"yt-audio-ingest/internal/playlist"
	"yt-audio-ingest/internal/retry"
)

var (
	errThrottled   = errors.New("HTTP Error 429: Too Many Requests")
	errUnavailable = errors.New("ERROR: [youtube] C: Video unavailable")
)

type fakeResolver struct {
	playlists map[string]model.Playlist
	errs      map[string]error
}

func (f *fakeResolver) Resolve(_ context.Context, ref playlist.Ref) (model.Playlist, error) {
	if err, ok := f.errs[ref.URL]; ok {
		return model.Playlist{}, err
	}
	p, ok := f.playlists[ref.URL]
	if !ok {
		return model.Playlist{}, retry.WithKind(retry.OpResolution, retry.Permanent, errors.New("playlist does not exist"))
	}
	return p, nil
}

func makePlaylist(url, title string, ids ...string) model.Playlist {
	p := model.Playlist{ID: url, Title: title}
	for _, id := range ids {
		p.Items = append(p.Items, model.Item{
			ItemID:     id,
			PlaylistID: url,
			SourceURL:  "https://www.youtube.com/watch?v=" + id,
			Title:      "Title " + id,
		})
	}
	return p
}

// fakeDownloader pops one scripted error per call; an empty script means
// success, which writes <dir>/<stem>.webm.
type fakeDownloader struct {
	mu     sync.Mutex
	script map[string][]error
	calls  map[string]int
	hooks  map[string]func(ctx context.Context, req DownloadRequest)
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{
		script: map[string][]error{},
		calls:  map[string]int{},
		hooks:  map[string]func(context.Context, DownloadRequest){},
	}
}

func (f *fakeDownloader) Download(ctx context.Context, req DownloadRequest) (string, error) {
	id := req.Item.ItemID
	f.mu.Lock()
	f.calls[id]++
	var err error
	if q := f.script[id]; len(q) > 0 {
		err = q[0]
		f.script[id] = q[1:]
	}
	hook := f.hooks[id]
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	if err != nil {
		return "", retry.Download(err)
	}
	raw := filepath.Join(req.Dir, req.Stem+".webm")
	if werr := os.WriteFile(raw, []byte("raw "+id), 0o644); werr != nil {
		return "", werr
	}
	return raw, nil
}

func (f *fakeDownloader) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakeConverter struct {
	mu     sync.Mutex
	script map[string][]error
	calls  map[string]int
}

func newFakeConverter() *fakeConverter {
	return &fakeConverter{script: map[string][]error{}, calls: map[string]int{}}
}

func (f *fakeConverter) Convert(_ context.Context, raw, finalPath string) error {
	key := filepath.Base(finalPath)
	f.mu.Lock()
	f.calls[key]++
	var err error
	if q := f.script[key]; len(q) > 0 {
		err = q[0]
		f.script[key] = q[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if _, serr := os.Stat(raw); serr != nil {
		return retry.WithKind(retry.OpConversion, retry.Permanent, serr)
	}
	return os.WriteFile(finalPath, []byte("wav"), 0o644)
}

func (f *fakeConverter) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

type countingMetrics struct {
	mu       sync.Mutex
	archived int
	skipped  int
	failed   map[string]int
	retries  map[string]int
	active   int
	peak     int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{failed: map[string]int{}, retries: map[string]int{}}
}

func (m *countingMetrics) IncArchived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived++
}

func (m *countingMetrics) AddSkipped(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped += n
}

func (m *countingMetrics) IncFailed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[reason]++
}

func (m *countingMetrics) IncRetry(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[stage]++
}

func (m *countingMetrics) IncPlaylistResolved() {}

func (m *countingMetrics) IncPlaylistFailed() {}

func (m *countingMetrics) JobStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active++
	if m.active > m.peak {
		m.peak = m.active
	}
}

func (m *countingMetrics) JobFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
}
