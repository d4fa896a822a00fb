package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"yt-audio-ingest/internal/convert"
	"yt-audio-ingest/internal/credentials"
	"yt-audio-ingest/internal/runstore"
	"yt-audio-ingest/internal/ytdlp"
)

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Warning bool   `json:"warning,omitempty"`
	Message string `json:"message"`
}

type doctorResult struct {
	OK     bool          `json:"ok"`
	Checks []doctorCheck `json:"checks"`
}

func runDoctor(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	common := addCommonFlags(fs)
	ffmpeg := fs.String("ffmpeg", "", "path to ffmpeg (default: $FFMPEG_PATH, common install paths, PATH)")
	cookies := fs.String("cookies", "", "path to cookies.txt")
	jsRuntime := fs.String("js-runtime", "auto", "yt-dlp js runtime: auto|deno|node|quickjs|bun")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	res := doctor(ctx, doctorOptions{
		Root:      common.Root(),
		FFmpeg:    strings.TrimSpace(*ffmpeg),
		Cookies:   strings.TrimSpace(*cookies),
		JSRuntime: *jsRuntime,
	})
	if *common.jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		for _, c := range res.Checks {
			status := "ok"
			switch {
			case !c.OK:
				status = "fail"
			case c.Warning:
				status = "warn"
			}
			fmt.Printf("%s: %s (%s)\n", c.Name, status, c.Message)
		}
	}
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	if !*common.jsonOut {
		fmt.Println("doctor: all checks passed")
	}
	return nil
}

type doctorOptions struct {
	Root      string
	FFmpeg    string
	Cookies   string
	JSRuntime string
}

func doctor(ctx context.Context, opts doctorOptions) doctorResult {
	checks := make([]doctorCheck, 0, 6)

	dep := ytdlp.DependencyStatus(ctx)
	msg := dependencyMessage(dep.YTDLPFound, dep.YTDLPPath, ytdlp.Binary)
	if dep.YTDLPVersion != "" {
		msg += " (version " + dep.YTDLPVersion + ")"
	}
	checks = append(checks, doctorCheck{Name: "dependency:yt-dlp", OK: dep.YTDLPFound, Message: msg})

	ffmpegPath, ffprobePath, err := convert.Locate(convert.Options{FFmpeg: opts.FFmpeg})
	if err != nil {
		checks = append(checks, doctorCheck{Name: "dependency:ffmpeg", OK: false, Message: err.Error()})
	} else {
		checks = append(checks, doctorCheck{Name: "dependency:ffmpeg", OK: true, Message: dependencyMessage(true, ffmpegPath, "ffmpeg")})
		probe := doctorCheck{Name: "dependency:ffprobe", OK: true, Message: dependencyMessage(true, ffprobePath, "ffprobe")}
		if ffprobePath == "" {
			probe.Warning = true
			probe.Message = "ffprobe not found; converted audio is validated by size only"
		}
		checks = append(checks, probe)
	}

	if runtime, err := ytdlp.CheckJSRuntime(opts.JSRuntime); err != nil {
		checks = append(checks, doctorCheck{Name: "dependency:js-runtime", OK: false, Message: err.Error()})
	} else {
		checks = append(checks, doctorCheck{Name: "dependency:js-runtime", OK: true, Message: runtime})
	}

	creds, err := credentials.NewStore(credentials.Options{Explicit: opts.Cookies}, zerolog.Nop()).Load()
	switch {
	case err != nil:
		checks = append(checks, doctorCheck{Name: "credentials:cookies", OK: false, Message: err.Error()})
	case !creds.Authenticated():
		checks = append(checks, doctorCheck{Name: "credentials:cookies", OK: true, Warning: true, Message: "no cookies file; requests are unauthenticated"})
	default:
		checks = append(checks, doctorCheck{Name: "credentials:cookies", OK: true, Message: creds.Path + " (" + creds.Source + ")"})
	}

	rootOK, rootMessage := ensureWritableDir(opts.Root)
	checks = append(checks, doctorCheck{Name: "directory:root", OK: rootOK, Message: rootMessage})

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return doctorResult{OK: ok, Checks: checks}
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH"
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "yt-audio-ingest-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
