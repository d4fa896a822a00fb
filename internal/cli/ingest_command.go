package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"yt-audio-ingest/internal/convert"
	"yt-audio-ingest/internal/ingest"
	"yt-audio-ingest/internal/metrics"
	"yt-audio-ingest/internal/platform/config"
	"yt-audio-ingest/internal/playlist"
	"yt-audio-ingest/internal/retry"
)

type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			*s = append(*s, p)
		}
	}
	return nil
}

func runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	common := addCommonFlags(fs)
	be := addBackendFlags(fs)
	playlistsPath := fs.String("playlists", config.GetEnv("INGEST_PLAYLISTS", defaultPlaylists), "playlists file (one [name|]url per line)")
	selectPlaylists := fs.Bool("select", false, "pick playlists interactively before ingesting")
	workers := fs.Int("workers", config.GetEnvInt("INGEST_WORKERS", ingest.DefaultWorkers), fmt.Sprintf("parallel item workers (1-%d)", ingest.MaxWorkers))
	scope := fs.String("scope", config.GetEnv("INGEST_SCOPE", ingest.ScopePlaylist), "worker pool scope: playlist|global")
	ffmpeg := fs.String("ffmpeg", "", "path to ffmpeg (default: $FFMPEG_PATH, common install paths, PATH)")
	retryBudget := fs.Int("retry-budget", config.GetEnvInt("INGEST_RETRY_BUDGET", retry.DefaultBudget), "attempts per item and per playlist lookup")
	convertBudget := fs.Int("convert-budget", config.GetEnvInt("INGEST_CONVERT_BUDGET", retry.DefaultConvertBudget), "conversion attempts per item")
	retryBase := fs.Duration("retry-base", config.GetEnvDuration("INGEST_RETRY_BASE", retry.DefaultBaseDelay), "first retry delay")
	retryMax := fs.Duration("retry-max", config.GetEnvDuration("INGEST_RETRY_MAX", retry.DefaultMaxDelay), "retry delay cap")
	stageTimeout := fs.Duration("stage-timeout", config.GetEnvDuration("INGEST_STAGE_TIMEOUT", 0), "limit for one download or conversion attempt (0 = none)")
	fragments := fs.Int("fragments", config.GetEnvInt("INGEST_FRAGMENTS", 4), "yt-dlp fragment concurrency (-N)")
	limitRate := fs.Float64("limit-rate", config.GetEnvFloat("INGEST_LIMIT_MBPS", 0), "per-download rate limit in MiB/s (0 = unlimited)")
	proxyMode := fs.String("proxy-mode", config.GetEnv("INGEST_PROXY_MODE", ingest.ProxyModeOff), "proxy mode: off|per_worker")
	var proxies stringList
	fs.Var(&proxies, "proxy", "proxy URL for per_worker mode (repeatable or comma-separated)")
	metricsAddr := fs.String("metrics-addr", config.GetEnv("INGEST_METRICS_ADDR", ""), "serve Prometheus metrics on this address (e.g. :9090)")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := common.Logger()
	root := common.Root()
	file, err := playlist.ParseFile(strings.TrimSpace(*playlistsPath))
	if err != nil {
		return err
	}

	fetch, err := be.build(log, *fragments, *limitRate)
	if err != nil {
		return err
	}
	stage, err := convert.New(convert.Options{FFmpeg: strings.TrimSpace(*ffmpeg)}, log)
	if err != nil {
		return err
	}

	policy := retry.DefaultPolicy()
	policy.Budget = *retryBudget
	policy.ConvertBudget = *convertBudget
	policy.BaseDelay = *retryBase
	policy.MaxDelay = *retryMax
	resolver := fetch.resolver(root, policy, log)

	refs := file.Refs
	if *selectPlaylists {
		overviews := resolveOverviews(ctx, resolver, refs, false)
		picked, err := pickPlaylists(overviewsOf(overviews))
		if err != nil {
			return err
		}
		selected := make([]playlist.Ref, 0, len(picked))
		for _, idx := range picked {
			selected = append(selected, refs[idx])
		}
		refs = selected
	}

	m := metrics.New()
	if addr := strings.TrimSpace(*metricsAddr); addr != "" {
		srv, err := metrics.Serve(addr, m, log)
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("shutdown metrics server")
			}
		}()
	}

	o, err := ingest.New(ingest.Deps{
		Resolver:   resolver,
		Downloader: fetch.downloader,
		Converter:  stage,
		Metrics:    m,
		Logger:     log,
	}, ingest.Options{
		Root:         root,
		Workers:      *workers,
		Scope:        *scope,
		Policy:       policy,
		ProxyMode:    *proxyMode,
		Proxies:      proxies,
		StageTimeout: *stageTimeout,
	})
	if err != nil {
		return err
	}
	if !*common.jsonOut {
		fmt.Printf("ingest: %d playlist(s) into %s (run %s, backend %s)\n", len(refs), root, o.RunID(), fetch.name)
	}

	summary, runErr := o.Run(ctx, refs)
	if *common.jsonOut {
		if err := printJSON(summary); err != nil {
			return err
		}
	} else {
		fmt.Print(renderSummary(summary))
	}
	if runErr != nil {
		return runErr
	}
	return summary.Err()
}
