package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"yt-audio-ingest/internal/model"
	"yt-audio-ingest/internal/runstore"
	"yt-audio-ingest/internal/store"
)

type ledgerPlaylist struct {
	Dir      string                `json:"dir"`
	Archived int                   `json:"archived"`
	Failures []model.FailureRecord `json:"failures"`
}

type ledgerResult struct {
	Root      string           `json:"root"`
	Failures  int              `json:"failures"`
	Playlists []ledgerPlaylist `json:"playlists"`
}

func runLedger(args []string) error {
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	common := addCommonFlags(fs)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := collectLedgers(common.Root())
	if err != nil {
		return err
	}
	if *common.jsonOut {
		return printJSON(res)
	}

	if len(res.Playlists) == 0 {
		fmt.Printf("ledger: no playlist directories under %s\n", res.Root)
		return nil
	}
	for _, p := range res.Playlists {
		fmt.Printf("%s: %d archived, %d failed\n", filepath.Base(p.Dir), p.Archived, len(p.Failures))
		for _, rec := range p.Failures {
			line := fmt.Sprintf("  %s  %s  %s (attempts %d)", rec.ItemID, rec.Reason, rec.SourceURL, rec.Attempts)
			if rec.Detail != "" {
				line += "  " + truncateRunes(rec.Detail, 120)
			}
			fmt.Println(line)
		}
	}
	return nil
}

// collectLedgers reads the archive and ledger of every playlist directory
// directly under root.
func collectLedgers(root string) (ledgerResult, error) {
	res := ledgerResult{Root: root, Playlists: []ledgerPlaylist{}}
	entries, err := os.ReadDir(root)
	if err != nil {
		if runstore.IsNotExist(err) {
			return res, nil
		}
		return res, fmt.Errorf("read root %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		archivePath := filepath.Join(dir, store.ArchiveFileName)
		ledgerPath := filepath.Join(dir, store.LedgerFileName)
		if !runstore.Exists(archivePath) && !runstore.Exists(ledgerPath) {
			continue
		}
		archive, err := store.OpenFileArchive(archivePath)
		if err != nil {
			return res, err
		}
		ledger, err := store.OpenFileLedger(ledgerPath)
		if err != nil {
			return res, err
		}
		p := ledgerPlaylist{Dir: dir, Archived: archive.Len(), Failures: ledger.Records()}
		res.Failures += len(p.Failures)
		res.Playlists = append(res.Playlists, p)
	}
	return res, nil
}
