package ingest

import (
	"context"
	"path/filepath"
	"strings"

	"yt-audio-ingest/internal/nativefetch"
	"yt-audio-ingest/internal/retry"
	"yt-audio-ingest/internal/ytdlp"
)

// YTDLPDownloader fetches audio with the yt-dlp binary.
type YTDLPDownloader struct {
	Request   func() ytdlp.RequestOptions
	Format    string
	Fragments int
	LimitMBps float64
}

func (d YTDLPDownloader) Download(ctx context.Context, req DownloadRequest) (string, error) {
	var ro ytdlp.RequestOptions
	if d.Request != nil {
		ro = d.Request()
	}
	if p := strings.TrimSpace(req.Proxy); p != "" {
		ro.ProxyURL = p
	}
	_, err := ytdlp.DownloadAudio(ctx, ytdlp.DownloadOptions{
		VideoURL:          req.Item.SourceURL,
		OutputDir:         req.Dir,
		OutputName:        req.Stem,
		Format:            d.Format,
		Fragments:         d.Fragments,
		DownloadLimitMBps: d.LimitMBps,
		Progress:          req.Progress,
		RequestOptions:    ro,
	})
	if err != nil {
		return "", retry.Download(err)
	}
	return findPayload(req.Dir, req.Stem)
}

// NativeDownloader fetches streams in-process without the yt-dlp binary.
type NativeDownloader struct {
	Fetcher *nativefetch.Fetcher
	// Ext names the raw file; the transcoder probes content, not extension.
	Ext string
}

func (d NativeDownloader) Download(ctx context.Context, req DownloadRequest) (string, error) {
	ext := strings.TrimPrefix(strings.TrimSpace(d.Ext), ".")
	if ext == "" {
		ext = "media"
	}
	out := filepath.Join(req.Dir, req.Stem+"."+ext)
	if err := d.Fetcher.Download(ctx, req.Item.SourceURL, out, req.Proxy); err != nil {
		return "", retry.Download(err)
	}
	return findPayload(req.Dir, req.Stem)
}

func findPayload(dir, stem string) (string, error) {
	raw, err := ytdlp.FindPayload(dir, stem)
	if err != nil {
		// a missing or .part-only payload means the fetch stopped early
		return "", retry.WithKind(retry.OpDownload, retry.Transient, err)
	}
	return raw, nil
}
