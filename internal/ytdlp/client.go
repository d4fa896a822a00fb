package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"yt-audio-ingest/internal/platform/procgroup"
)

// Binary is the executable looked up on PATH.
var Binary = "yt-dlp"

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

const (
	DefaultAudioFormat    = "bestaudio/best"
	DefaultExtractorArgs  = "youtube:player_client=android"
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	DefaultAcceptLanguage = "en-US,en;q=0.9"
)

// RequestOptions are shared by metadata and download invocations.
type RequestOptions struct {
	CookiesPath   string
	ProxyURL      string
	JSRuntime     string
	ExtractorArgs string
	// SleepRequests pauses between HTTP requests inside one invocation;
	// SleepMin/SleepMax randomise the pause before each download.
	SleepRequests float64
	SleepMin      float64
	SleepMax      float64
	Headers       map[string]string
}

type FlatPlaylistOptions struct {
	SourceURL string
	RequestOptions
}

type DownloadOptions struct {
	VideoURL  string
	OutputDir string
	// OutputName is the file stem; yt-dlp appends the extension.
	OutputName        string
	Format            string
	Fragments         int
	DownloadLimitMBps float64
	LogWriter         io.Writer
	Progress          func(stream OutputStream, line string)
	RequestOptions
}

type DownloadResult struct {
	Command []string
}

type DependencyReport struct {
	YTDLPFound   bool   `json:"yt_dlp_found"`
	YTDLPPath    string `json:"yt_dlp_path,omitempty"`
	YTDLPVersion string `json:"yt_dlp_version,omitempty"`
}

// DefaultRequestOptions mirrors the pacing and client hints used for
// throttled playlists.
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{
		ExtractorArgs: DefaultExtractorArgs,
		SleepRequests: 1,
		SleepMin:      1,
		SleepMax:      3,
		Headers: map[string]string{
			"User-Agent":      DefaultUserAgent,
			"Accept-Language": DefaultAcceptLanguage,
		},
	}
}

func CheckJSRuntime(raw string) (string, error) {
	runtime, ok := normalizeJSRuntime(raw)
	if !ok {
		return "", fmt.Errorf("invalid js runtime %q (expected auto, deno, node, quickjs, or bun)", strings.TrimSpace(raw))
	}
	if runtime == "auto" {
		return runtime, nil
	}
	candidates := jsRuntimeBinaryCandidates(runtime)
	for _, bin := range candidates {
		if _, err := exec.LookPath(bin); err == nil {
			return runtime, nil
		}
	}
	return "", fmt.Errorf("missing dependency for js runtime %q: install one of [%s] or set js runtime to auto", runtime, strings.Join(candidates, ", "))
}

func DependencyStatus(ctx context.Context) DependencyReport {
	report := DependencyReport{}
	path, err := exec.LookPath(Binary)
	if err != nil {
		return report
	}
	report.YTDLPFound = true
	report.YTDLPPath = path
	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if out, err := exec.CommandContext(vctx, path, "--version").Output(); err == nil {
		report.YTDLPVersion = strings.TrimSpace(string(out))
	}
	return report
}

func CheckDependencies() error {
	if _, err := exec.LookPath(Binary); err != nil {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", Binary)
	}
	return nil
}

// FlatPlaylistJSON returns the flat playlist document printed by
// yt-dlp --flat-playlist -J.
func FlatPlaylistJSON(ctx context.Context, opts FlatPlaylistOptions) ([]byte, error) {
	if strings.TrimSpace(opts.SourceURL) == "" {
		return nil, fmt.Errorf("source URL is required")
	}

	args := []string{"--flat-playlist", "-J", "--no-warnings"}
	args, err := appendRequestArgs(args, opts.RequestOptions, false)
	if err != nil {
		return nil, err
	}
	args = append(args, opts.SourceURL)

	cmd := exec.CommandContext(ctx, Binary, args...)
	procgroup.Detach(cmd)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("yt-dlp metadata lookup: %w", ctxErr)
		}
		return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("yt-dlp returned empty output")
	}
	return stdout.Bytes(), nil
}

// DownloadAudio fetches the best audio stream of one item into OutputDir.
func DownloadAudio(ctx context.Context, opts DownloadOptions) (DownloadResult, error) {
	if strings.TrimSpace(opts.VideoURL) == "" {
		return DownloadResult{}, fmt.Errorf("video URL is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return DownloadResult{}, fmt.Errorf("output directory is required")
	}
	fragments := opts.Fragments
	if fragments <= 0 {
		fragments = 4
	}
	name := strings.TrimSpace(opts.OutputName)
	if name == "" {
		name = "%(id)s"
	}
	format := strings.TrimSpace(opts.Format)
	if format == "" {
		format = DefaultAudioFormat
	}

	args := []string{
		"--no-playlist",
		"--newline",
		"--no-mtime",
		"--fragment-retries", "5",
		"-N", fmt.Sprintf("%d", fragments),
		"-f", format,
		"-o", filepath.Join(opts.OutputDir, name+".%(ext)s"),
	}
	if opts.DownloadLimitMBps > 0 {
		args = append(args, "--limit-rate", formatRateLimitMBps(opts.DownloadLimitMBps))
	}
	args, err := appendRequestArgs(args, opts.RequestOptions, true)
	if err != nil {
		return DownloadResult{}, err
	}
	args = append(args, opts.VideoURL)

	result := DownloadResult{Command: append([]string{Binary}, args...)}
	if err := runCommand(ctx, args, opts); err != nil {
		return result, err
	}
	return result, nil
}

func appendRequestArgs(args []string, opts RequestOptions, download bool) ([]string, error) {
	if strings.TrimSpace(opts.CookiesPath) != "" {
		cookiesPath, err := resolveCookiesPath(opts.CookiesPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--cookies", cookiesPath)
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		args = append(args, "--proxy", strings.TrimSpace(opts.ProxyURL))
	}
	if strings.TrimSpace(opts.ExtractorArgs) != "" {
		args = append(args, "--extractor-args", strings.TrimSpace(opts.ExtractorArgs))
	}
	for _, k := range sortedKeys(opts.Headers) {
		args = append(args, "--add-header", k+":"+opts.Headers[k])
	}
	if opts.SleepRequests > 0 {
		args = append(args, "--sleep-requests", formatSeconds(opts.SleepRequests))
	}
	if download && opts.SleepMin > 0 {
		args = append(args, "--sleep-interval", formatSeconds(opts.SleepMin))
		if opts.SleepMax > opts.SleepMin {
			args = append(args, "--max-sleep-interval", formatSeconds(opts.SleepMax))
		}
	}
	return appendJSRuntimeArgs(args, opts.JSRuntime)
}

func appendJSRuntimeArgs(args []string, rawRuntime string) ([]string, error) {
	runtime, ok := normalizeJSRuntime(rawRuntime)
	if !ok {
		return nil, fmt.Errorf("invalid js runtime %q (expected auto, deno, node, quickjs, or bun)", strings.TrimSpace(rawRuntime))
	}
	if runtime == "auto" {
		return args, nil
	}
	return append(args, "--no-js-runtimes", "--js-runtimes", runtime), nil
}

func normalizeJSRuntime(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return "auto", true
	case "deno", "node", "quickjs", "bun":
		return strings.ToLower(strings.TrimSpace(raw)), true
	default:
		return "", false
	}
}

func jsRuntimeBinaryCandidates(runtime string) []string {
	switch runtime {
	case "quickjs":
		return []string{"quickjs", "qjs"}
	default:
		return []string{runtime}
	}
}

func runCommand(ctx context.Context, args []string, opts DownloadOptions) error {
	cmd := exec.CommandContext(ctx, Binary, args...)
	procgroup.Detach(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start yt-dlp: %w", err)
	}

	var outBuf strings.Builder
	var errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(stream OutputStream, r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			appendLimited(&outBuf, &errBuf, stream, line)
			if opts.LogWriter != nil {
				_, _ = io.WriteString(opts.LogWriter, line+"\n")
			}
			mu.Unlock()

			if opts.Progress != nil {
				opts.Progress(stream, line)
			}
		}
	}

	wg.Add(2)
	go read(StreamStdout, stdoutPipe)
	go read(StreamStderr, stderrPipe)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("yt-dlp interrupted: %w", ctxErr)
		}
		mu.Lock()
		defer mu.Unlock()
		return fmt.Errorf("yt-dlp failed: %w\n%s\n%s", err, strings.TrimSpace(errBuf.String()), strings.TrimSpace(outBuf.String()))
	}
	return nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(outBuf, errBuf *strings.Builder, stream OutputStream, line string) {
	const maxKeep = 8192
	b := outBuf
	if stream == StreamStderr {
		b = errBuf
	}
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}

func formatRateLimitMBps(v float64) string {
	return fmt.Sprintf("%gM", v)
}

func formatSeconds(v float64) string {
	return fmt.Sprintf("%g", v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func resolveCookiesPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve cookies path %s: %w", p, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("cookies file %s: %w", abs, err)
	}
	return abs, nil
}

// ErrPartialDownload reports that only an incomplete .part file was left.
var ErrPartialDownload = errors.New("partial download: only a .part file was produced")

// FindPayload locates the file yt-dlp wrote for stem in dir, skipping
// in-progress artifacts.
func FindPayload(dir, stem string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read download dir %s: %w", dir, err)
	}
	partial := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, stem+".") {
			continue
		}
		lower := strings.ToLower(name)
		if strings.Contains(lower, ".converting.") {
			continue
		}
		if strings.HasSuffix(lower, ".part") || strings.HasSuffix(lower, ".ytdl") || strings.HasSuffix(lower, ".tmp") {
			partial = partial || strings.HasSuffix(lower, ".part")
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		return filepath.Join(dir, name), nil
	}
	if partial {
		return "", ErrPartialDownload
	}
	return "", fmt.Errorf("no downloaded file for %s in %s", stem, dir)
}
