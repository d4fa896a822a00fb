package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"yt-audio-ingest/internal/platform/procgroup"
	"yt-audio-ingest/internal/retry"
)

const (
	SampleRate = 16000
	Channels   = 1
	OutputExt  = ".wav"

	probeTimeout = 30 * time.Second
	tempMarker   = ".converting"
)

// CandidatePaths are checked after the flag and FFMPEG_PATH and before PATH.
var CandidatePaths = []string{
	"/usr/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
	"C:/ffmpeg/bin/ffmpeg.exe",
	"C:/ffmpeg/ffmpeg.exe",
}

var permanentHints = []string{
	"invalid data found",
	"could not find codec",
	"does not contain any stream",
	"moov atom not found",
	"no such file",
}

var ErrEmptyOutput = errors.New("transcoder produced an empty output")

type Options struct {
	// FFmpeg is an explicit transcoder path; empty falls back to FFMPEG_PATH,
	// CandidatePaths and PATH in that order.
	FFmpeg string
	Getenv func(string) string
}

type Stage struct {
	ffmpeg  string
	ffprobe string
	logger  zerolog.Logger
}

// Locate resolves the transcoder and, when present, a companion ffprobe.
func Locate(opts Options) (ffmpegPath, ffprobePath string, err error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	if p := strings.TrimSpace(opts.FFmpeg); p != "" {
		if !isExecutable(p) {
			return "", "", fmt.Errorf("ffmpeg not found at %s", p)
		}
		ffmpegPath = p
	} else if p := strings.TrimSpace(getenv("FFMPEG_PATH")); p != "" && isExecutable(p) {
		ffmpegPath = p
	} else {
		for _, c := range CandidatePaths {
			if isExecutable(c) {
				ffmpegPath = c
				break
			}
		}
		if ffmpegPath == "" {
			found, lerr := exec.LookPath("ffmpeg")
			if lerr != nil {
				return "", "", errors.New("missing dependency: ffmpeg is not installed; set FFMPEG_PATH or pass --ffmpeg")
			}
			ffmpegPath = found
		}
	}
	return ffmpegPath, locateProbe(ffmpegPath), nil
}

func locateProbe(ffmpegPath string) string {
	dir := filepath.Dir(ffmpegPath)
	name := "ffprobe"
	if strings.HasSuffix(strings.ToLower(ffmpegPath), ".exe") {
		name = "ffprobe.exe"
	}
	if sibling := filepath.Join(dir, name); isExecutable(sibling) {
		return sibling
	}
	if found, err := exec.LookPath("ffprobe"); err == nil {
		return found
	}
	return ""
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0 || strings.HasSuffix(strings.ToLower(path), ".exe")
}

func New(opts Options, logger zerolog.Logger) (*Stage, error) {
	ffmpegPath, ffprobePath, err := Locate(opts)
	if err != nil {
		return nil, err
	}
	if ffprobePath == "" {
		logger.Warn().Str("ffmpeg", ffmpegPath).Msg("ffprobe not found; converted audio is validated by size only")
	}
	return &Stage{ffmpeg: ffmpegPath, ffprobe: ffprobePath, logger: logger}, nil
}

func (s *Stage) FFmpegPath() string {
	return s.ffmpeg
}

func (s *Stage) FFprobePath() string {
	return s.ffprobe
}

// TempPath is where Convert writes output for raw until it validates. The
// leading dot keeps it out of the <stem>.* names a downloader produces.
func TempPath(raw string) string {
	base := strings.TrimSuffix(filepath.Base(raw), filepath.Ext(raw))
	return filepath.Join(filepath.Dir(raw), "."+base+tempMarker+OutputExt)
}

// IsTempName reports whether name is conversion output, including the
// undotted form older runs wrote.
func IsTempName(name string) bool {
	return strings.Contains(name, tempMarker+".")
}

// RemoveStale deletes conversion output a killed run left in dir.
func RemoveStale(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read job dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !IsTempName(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale conversion output: %w", err)
		}
	}
	return nil
}

// Convert transcodes raw into 16 kHz mono WAV at finalPath. Output is written
// next to raw first and renamed into place only after it validates.
func (s *Stage) Convert(ctx context.Context, raw, finalPath string) error {
	if _, err := os.Stat(raw); err != nil {
		return retry.WithKind(retry.OpConversion, retry.Permanent, fmt.Errorf("raw payload %s: %w", raw, err))
	}

	tmp := TempPath(raw)
	defer os.Remove(tmp)

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", raw,
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		tmp,
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.ffmpeg, args...)
	procgroup.Detach(cmd)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return retry.Conversion(fmt.Errorf("ffmpeg interrupted: %w", ctxErr))
		}
		return classifyFailure(fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	if err := s.validate(ctx, tmp); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return retry.Persistence(fmt.Errorf("create audio directory: %w", err))
	}
	if err := os.Rename(tmp, finalPath); err != nil {
		return retry.Persistence(fmt.Errorf("move converted audio into %s: %w", finalPath, err))
	}
	s.logger.Debug().Str("raw", raw).Str("audio", finalPath).Msg("converted")
	return nil
}

func (s *Stage) validate(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return retry.WithKind(retry.OpConversion, retry.Transient, fmt.Errorf("%w: %v", ErrEmptyOutput, err))
	}
	if info.Size() == 0 {
		return retry.WithKind(retry.OpConversion, retry.Transient, ErrEmptyOutput)
	}
	if s.ffprobe == "" {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	durationCmd := exec.CommandContext(pctx, s.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	procgroup.Detach(durationCmd)
	out, err := durationCmd.Output()
	if err != nil {
		return retry.WithKind(retry.OpConversion, retry.Transient, fmt.Errorf("ffprobe %s: %w", path, err))
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || d <= 0 {
		return retry.WithKind(retry.OpConversion, retry.Transient, fmt.Errorf("%w: duration %q", ErrEmptyOutput, strings.TrimSpace(string(out))))
	}
	return nil
}

func classifyFailure(err error) error {
	text := strings.ToLower(err.Error())
	for _, h := range permanentHints {
		if strings.Contains(text, h) {
			return retry.WithKind(retry.OpConversion, retry.Permanent, err)
		}
	}
	return retry.WithKind(retry.OpConversion, retry.Transient, err)
}
