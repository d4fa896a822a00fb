package cli

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"yt-audio-ingest/internal/platform/config"
	"yt-audio-ingest/internal/platform/logger"
)

const (
	defaultRoot      = "library"
	defaultPlaylists = "playlists"

	stateDirName   = ".ingest"
	titleCacheName = "playlist-titles.json"
)

// commonFlags are registered on every subcommand.
type commonFlags struct {
	root      *string
	logLevel  *string
	logFormat *string
	jsonOut   *bool
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		root:      fs.String("root", config.GetEnv("INGEST_ROOT", defaultRoot), "library root directory"),
		logLevel:  fs.String("log-level", config.GetEnv("LOG_LEVEL", "info"), "log level: trace|debug|info|warn|error"),
		logFormat: fs.String("log-format", config.GetEnv("LOG_FORMAT", logger.FormatConsole), "log format: json|console"),
		jsonOut:   fs.Bool("json", false, "print JSON output"),
	}
}

func (c *commonFlags) Root() string {
	return strings.TrimSpace(*c.root)
}

func (c *commonFlags) Logger() zerolog.Logger {
	return logger.New(*c.logLevel, *c.logFormat, os.Stderr)
}

func titleCachePath(root string) string {
	return filepath.Join(root, stateDirName, titleCacheName)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stdinIsTTY() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
