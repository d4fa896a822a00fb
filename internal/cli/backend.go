package cli

import (
	"flag"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"yt-audio-ingest/internal/credentials"
	"yt-audio-ingest/internal/ingest"
	"yt-audio-ingest/internal/nativefetch"
	"yt-audio-ingest/internal/platform/config"
	"yt-audio-ingest/internal/playlist"
	"yt-audio-ingest/internal/retry"
	"yt-audio-ingest/internal/ytdlp"
)

const (
	backendYTDLP  = "ytdlp"
	backendNative = "native"
)

type backendFlags struct {
	backend   *string
	cookies   *string
	jsRuntime *string
}

func addBackendFlags(fs *flag.FlagSet) *backendFlags {
	return &backendFlags{
		backend:   fs.String("backend", config.GetEnv("INGEST_BACKEND", backendYTDLP), "fetch backend: ytdlp|native"),
		cookies:   fs.String("cookies", "", "path to cookies.txt (default: $YTDLP_COOKIES, $YOUTUBE_COOKIES, ./cookies.txt)"),
		jsRuntime: fs.String("js-runtime", config.GetEnv("INGEST_JS_RUNTIME", "auto"), "yt-dlp js runtime: auto|deno|node|quickjs|bun"),
	}
}

// backend bundles the playlist source and downloader of one fetch backend
// with the credentials they share.
type backend struct {
	name       string
	creds      credentials.Credentials
	source     playlist.Source
	downloader ingest.Downloader
}

func normalizeBackend(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", backendYTDLP, "yt-dlp":
		return backendYTDLP, nil
	case backendNative:
		return backendNative, nil
	default:
		return "", fmt.Errorf("invalid backend %q (expected %s or %s)", strings.TrimSpace(raw), backendYTDLP, backendNative)
	}
}

func (f *backendFlags) build(logger zerolog.Logger, fragments int, limitMBps float64) (backend, error) {
	name, err := normalizeBackend(*f.backend)
	if err != nil {
		return backend{}, err
	}
	store := credentials.NewStore(credentials.Options{Explicit: strings.TrimSpace(*f.cookies)}, logger)
	creds, err := store.Load()
	if err != nil {
		return backend{}, err
	}

	if name == backendNative {
		fetcher, err := nativefetch.New(nativefetch.Options{
			CookiesPath:  creds.Path,
			RateLimitBps: int64(limitMBps * 1024 * 1024),
		})
		if err != nil {
			return backend{}, fmt.Errorf("native backend: %w", err)
		}
		return backend{
			name:       name,
			creds:      creds,
			source:     fetcher,
			downloader: ingest.NativeDownloader{Fetcher: fetcher},
		}, nil
	}

	if err := ytdlp.CheckDependencies(); err != nil {
		return backend{}, err
	}
	runtime, err := ytdlp.CheckJSRuntime(*f.jsRuntime)
	if err != nil {
		return backend{}, err
	}
	request := func() ytdlp.RequestOptions {
		ro := ytdlp.DefaultRequestOptions()
		ro.CookiesPath = creds.Path
		ro.JSRuntime = runtime
		return ro
	}
	return backend{
		name:   name,
		creds:  creds,
		source: playlist.YTDLPSource{Request: request},
		downloader: ingest.YTDLPDownloader{
			Request:   request,
			Format:    ytdlp.DefaultAudioFormat,
			Fragments: fragments,
			LimitMBps: limitMBps,
		},
	}, nil
}

func (b backend) resolver(root string, policy retry.Policy, logger zerolog.Logger) *playlist.Resolver {
	cache := playlist.OpenTitleCache(titleCachePath(root))
	return playlist.NewResolver(b.source, cache, logger, playlist.ResolverOptions{Policy: policy})
}
