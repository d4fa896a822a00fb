package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"yt-audio-ingest/internal/cli"
	"yt-audio-ingest/internal/platform/config"
)

func main() {
	if err := config.LoadOptional(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
