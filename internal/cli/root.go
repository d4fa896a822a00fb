package cli

import (
	"context"
	"fmt"
)

func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "ingest":
		return runIngest(ctx, args[1:])
	case "resolve":
		return runResolve(ctx, args[1:])
	case "ledger":
		return runLedger(args[1:])
	case "doctor":
		return runDoctor(ctx, args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("yt-audio-ingest: turn playlists into a 16 kHz mono WAV library")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  yt-audio-ingest doctor")
	fmt.Println("  echo 'Lectures|https://www.youtube.com/playlist?list=<id>' > playlists")
	fmt.Println("  yt-audio-ingest ingest --root library")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ingest    download, convert and archive every pending item")
	fmt.Println("  resolve   show playlist titles and entry counts (uses the title cache)")
	fmt.Println("  ledger    list failed items recorded under the library root")
	fmt.Println("  doctor    run dependency and filesystem preflight checks")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - Flags default from env (INGEST_ROOT, INGEST_PLAYLISTS, INGEST_WORKERS, ...) and .env")
	fmt.Println("  - Re-running ingest is safe: archived items are skipped, failures are retried")
}
