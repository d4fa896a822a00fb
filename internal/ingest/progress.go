package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"yt-audio-ingest/internal/ytdlp"
)

var (
	rePct   = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reSpeed = regexp.MustCompile(`\bat\s+([^\s]+)`)
	reETA   = regexp.MustCompile(`\bETA\s+([0-9:]+)`)
	reOf    = regexp.MustCompile(`\bof\s+~?\s*([^\s]+)`)
	reRate  = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*([kmg]?i?b)/s$`)
)

// progressSample is one parsed yt-dlp [download] line.
type progressSample struct {
	Percent float64
	Speed   string
	Mbps    float64
	ETA     string
	Size    string
}

func parseProgressLine(line string) (progressSample, bool) {
	l := strings.TrimSpace(line)
	if !strings.HasPrefix(l, "[download]") {
		return progressSample{}, false
	}
	m := rePct.FindStringSubmatch(l)
	if len(m) < 2 {
		return progressSample{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return progressSample{}, false
	}
	s := progressSample{Percent: pct}
	if m := reSpeed.FindStringSubmatch(l); len(m) > 1 {
		s.Speed = m[1]
		s.Mbps = parseRateToMbps(m[1])
	}
	if m := reETA.FindStringSubmatch(l); len(m) > 1 {
		s.ETA = m[1]
	}
	if m := reOf.FindStringSubmatch(l); len(m) > 1 {
		s.Size = m[1]
	}
	return s, true
}

// parseRateToMbps converts yt-dlp speeds such as 700KiB/s or 1.5MiB/s to
// megabits per second.
func parseRateToMbps(s string) float64 {
	m := reRate.FindStringSubmatch(strings.TrimSpace(strings.ToLower(s)))
	if len(m) < 3 {
		return 0
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil || val <= 0 {
		return 0
	}
	var bytesPerSec float64
	switch m[2] {
	case "b":
		bytesPerSec = val
	case "kib":
		bytesPerSec = val * 1024
	case "kb":
		bytesPerSec = val * 1000
	case "mib":
		bytesPerSec = val * 1024 * 1024
	case "mb":
		bytesPerSec = val * 1000 * 1000
	case "gib":
		bytesPerSec = val * 1024 * 1024 * 1024
	case "gb":
		bytesPerSec = val * 1000 * 1000 * 1000
	default:
		return 0
	}
	return bytesPerSec * 8 / 1_000_000
}

// progressLogger turns downloader output into debug events, one per
// quarter of progress so a long download does not flood the log.
type progressLogger struct {
	logger zerolog.Logger

	mu     sync.Mutex
	bucket int
}

func newProgressLogger(logger zerolog.Logger) *progressLogger {
	return &progressLogger{logger: logger, bucket: -1}
}

func (p *progressLogger) Handle(stream ytdlp.OutputStream, line string) {
	s, ok := parseProgressLine(line)
	if !ok {
		if stream == ytdlp.StreamStderr && strings.TrimSpace(line) != "" {
			p.logger.Trace().Str("stderr", strings.TrimSpace(line)).Msg("downloader output")
		}
		return
	}
	bucket := int(s.Percent) / 25
	p.mu.Lock()
	if bucket <= p.bucket {
		p.mu.Unlock()
		return
	}
	p.bucket = bucket
	p.mu.Unlock()

	ev := p.logger.Debug().Float64("percent", s.Percent)
	if s.Speed != "" {
		ev = ev.Str("speed", s.Speed).Float64("mbps", s.Mbps)
	}
	if s.ETA != "" {
		ev = ev.Str("eta", s.ETA)
	}
	if s.Size != "" {
		ev = ev.Str("size", s.Size)
	}
	ev.Msg("download progress")
}
