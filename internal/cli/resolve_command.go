package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"yt-audio-ingest/internal/ingest"
	"yt-audio-ingest/internal/platform/config"
	"yt-audio-ingest/internal/playlist"
	"yt-audio-ingest/internal/retry"
)

type overviewResult struct {
	Name    string `json:"name,omitempty"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Entries int    `json:"entries,omitempty"`
	Cached  bool   `json:"cached"`
	Error   string `json:"error,omitempty"`

	overview playlist.Overview
}

type resolveResult struct {
	PlaylistsFile string           `json:"playlists_file"`
	TitleCache    string           `json:"title_cache"`
	WroteNames    bool             `json:"wrote_names"`
	Failures      int              `json:"failures"`
	Playlists     []overviewResult `json:"playlists"`
}

// resolveOverviews looks up the display title of each ref, dropping cached
// titles first when refresh is set. Failures are reported per ref.
func resolveOverviews(ctx context.Context, resolver *playlist.Resolver, refs []playlist.Ref, refresh bool) []overviewResult {
	out := make([]overviewResult, 0, len(refs))
	for _, ref := range refs {
		if refresh {
			_ = resolver.Invalidate(ref)
		}
		res := overviewResult{Name: ref.Name, URL: ref.URL}
		ov, err := resolver.Title(ctx, ref)
		res.overview = ov
		res.Title = ov.Title
		res.Entries = ov.Entries
		res.Cached = ov.Cached
		if err != nil {
			res.Error = err.Error()
		}
		out = append(out, res)
	}
	return out
}

func overviewsOf(results []overviewResult) []playlist.Overview {
	out := make([]playlist.Overview, len(results))
	for i, r := range results {
		out[i] = r.overview
	}
	return out
}

func runResolve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	common := addCommonFlags(fs)
	be := addBackendFlags(fs)
	playlistsPath := fs.String("playlists", config.GetEnv("INGEST_PLAYLISTS", defaultPlaylists), "playlists file (one [name|]url per line)")
	refresh := fs.Bool("refresh", false, "ignore cached titles and look every playlist up again")
	writeNames := fs.Bool("write-names", false, "rewrite the playlists file with resolved titles as names")
	retryBudget := fs.Int("retry-budget", config.GetEnvInt("INGEST_RETRY_BUDGET", retry.DefaultBudget), "attempts per playlist lookup")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := common.Logger()
	path := strings.TrimSpace(*playlistsPath)
	file, err := playlist.ParseFile(path)
	if err != nil {
		return err
	}
	fetch, err := be.build(log, 0, 0)
	if err != nil {
		return err
	}
	policy := retry.DefaultPolicy()
	policy.Budget = *retryBudget
	resolver := fetch.resolver(common.Root(), policy, log)

	results := resolveOverviews(ctx, resolver, file.Refs, *refresh)
	res := resolveResult{PlaylistsFile: path, TitleCache: resolver.Cache().Path(), Playlists: results}
	for _, r := range results {
		if r.Error != "" {
			res.Failures++
		}
	}

	if *writeNames {
		named := file
		named.Refs = make([]playlist.Ref, len(file.Refs))
		for i, ref := range file.Refs {
			if strings.TrimSpace(ref.Name) == "" && results[i].Error == "" {
				ref.Name = strings.ReplaceAll(results[i].Title, "|", "/")
			}
			named.Refs[i] = ref
		}
		if err := playlist.SaveFile(path, named); err != nil {
			return err
		}
		res.WroteNames = true
	}

	if *common.jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		for i, r := range results {
			status := "cached"
			switch {
			case r.Error != "":
				status = "error: " + r.Error
			case !r.Cached:
				status = fmt.Sprintf("%d items", r.Entries)
			}
			fmt.Printf("%2d. %s  %s (%s)\n", i+1, r.Title, r.URL, status)
		}
		if res.WroteNames {
			fmt.Printf("resolve: names written to %s\n", path)
		}
	}
	if res.Failures > 0 {
		return ingest.ErrResolveFailed
	}
	return nil
}
