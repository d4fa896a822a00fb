// Package nativefetch talks to the upstream directly through the ytdlp Go
// library instead of the yt-dlp executable.
package nativefetch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"
)

const (
	playlistParam  = "list="
	paramSeparator = "&"

	videoURLTemplate = "https://www.youtube.com/watch?v=%s"
)

type Options struct {
	CookiesPath string
	// Format is a ytdlp selector such as "best" or "height<=480".
	Format       string
	RateLimitBps int64
	Timeout      time.Duration
}

type Fetcher struct {
	opts Options
	jar  http.CookieJar
}

func New(opts Options) (*Fetcher, error) {
	if strings.TrimSpace(opts.Format) == "" {
		opts.Format = "best"
	}
	f := &Fetcher{opts: opts}
	if strings.TrimSpace(opts.CookiesPath) != "" {
		jar, err := LoadCookieJar(opts.CookiesPath)
		if err != nil {
			return nil, err
		}
		f.jar = jar
	}
	return f, nil
}

func (f *Fetcher) httpClient(proxyURL string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if p := strings.TrimSpace(proxyURL); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %s: %w", p, err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Transport: transport, Jar: f.jar, Timeout: f.opts.Timeout}, nil
}

type flatDocument struct {
	ID      string      `json:"id"`
	Title   string      `json:"title,omitempty"`
	Entries []flatEntry `json:"entries"`
}

type flatEntry struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Lookup returns a flat playlist document in the same shape yt-dlp prints
// for --flat-playlist -J. The library exposes no playlist title, so the
// title is left empty.
func (f *Fetcher) Lookup(ctx context.Context, playlistURL string) ([]byte, error) {
	id := ExtractPlaylistID(playlistURL)
	if id == "" {
		return nil, fmt.Errorf("is not a valid url: could not extract playlist ID from %s", playlistURL)
	}
	client, err := f.httpClient("")
	if err != nil {
		return nil, err
	}
	items, err := ytdlp.New().WithHTTPClient(client).GetPlaylistItemsAll(ctx, id, 0)
	if err != nil {
		return nil, fmt.Errorf("get playlist items for %s: %w", id, err)
	}
	doc := flatDocument{ID: id, Entries: make([]flatEntry, 0, len(items))}
	for _, it := range items {
		doc.Entries = append(doc.Entries, flatEntry{
			ID:    it.VideoID,
			Title: it.Title,
			URL:   fmt.Sprintf(videoURLTemplate, it.VideoID),
		})
	}
	return json.Marshal(doc)
}

// Download writes the selected stream of videoURL to outputPath.
func (f *Fetcher) Download(ctx context.Context, videoURL, outputPath, proxyURL string) error {
	client, err := f.httpClient(proxyURL)
	if err != nil {
		return err
	}
	d := ytdlp.New().
		WithFormat(f.opts.Format, "").
		WithHTTPClient(client).
		WithOutputPath(outputPath)
	if f.opts.RateLimitBps > 0 {
		d = d.WithRateLimit(f.opts.RateLimitBps)
	}
	if _, err := d.Download(ctx, videoURL); err != nil {
		return fmt.Errorf("native download %s: %w", videoURL, err)
	}
	return nil
}

// ExtractPlaylistID returns the list= query value of a playlist URL, or the
// input itself when it already looks like a bare playlist id.
func ExtractPlaylistID(raw string) string {
	s := strings.TrimSpace(raw)
	idx := strings.Index(s, playlistParam)
	if idx < 0 {
		if s != "" && !strings.ContainsAny(s, "/:?&= ") {
			return s
		}
		return ""
	}
	id := s[idx+len(playlistParam):]
	if end := strings.Index(id, paramSeparator); end >= 0 {
		id = id[:end]
	}
	return strings.TrimSpace(id)
}

// LoadCookieJar reads a Netscape format cookies.txt into a cookie jar.
func LoadCookieJar(path string) (http.CookieJar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cookies file %s: %w", path, err)
	}
	defer f.Close()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	byHost := make(map[string][]*http.Cookie)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		c, host, ok := parseCookieLine(sc.Text())
		if ok {
			byHost[host] = append(byHost[host], c)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read cookies file %s: %w", path, err)
	}
	for host, cookies := range byHost {
		jar.SetCookies(&url.URL{Scheme: "https", Host: host, Path: "/"}, cookies)
	}
	return jar, nil
}

func parseCookieLine(line string) (*http.Cookie, string, bool) {
	line = strings.TrimRight(line, "\r\n")
	httpOnly := false
	if strings.HasPrefix(line, "#HttpOnly_") {
		httpOnly = true
		line = strings.TrimPrefix(line, "#HttpOnly_")
	}
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
		return nil, "", false
	}
	fields := strings.Split(line, "\t")
	if len(fields) < 7 {
		return nil, "", false
	}
	domain := strings.TrimSpace(fields[0])
	host := strings.TrimPrefix(domain, ".")
	if host == "" {
		return nil, "", false
	}
	c := &http.Cookie{
		Name:     fields[5],
		Value:    fields[6],
		Path:     fields[2],
		Secure:   strings.EqualFold(fields[3], "TRUE"),
		HttpOnly: httpOnly,
	}
	if strings.HasPrefix(domain, ".") {
		c.Domain = host
	}
	if exp, err := strconv.ParseInt(strings.TrimSpace(fields[4]), 10, 64); err == nil && exp > 0 {
		c.Expires = time.Unix(exp, 0)
	}
	return c, host, true
}
