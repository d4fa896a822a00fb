package playlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"yt-audio-ingest/internal/model"
	"yt-audio-ingest/internal/retry"
	"yt-audio-ingest/internal/ytdlp"
)

const maxRedirects = 3

// Source performs one metadata lookup and returns a flat playlist document.
type Source interface {
	Lookup(ctx context.Context, url string) ([]byte, error)
}

// YTDLPSource looks playlists up with yt-dlp --flat-playlist -J.
type YTDLPSource struct {
	Request func() ytdlp.RequestOptions
}

func (s YTDLPSource) Lookup(ctx context.Context, url string) ([]byte, error) {
	opts := ytdlp.FlatPlaylistOptions{SourceURL: url}
	if s.Request != nil {
		opts.RequestOptions = s.Request()
	}
	return ytdlp.FlatPlaylistJSON(ctx, opts)
}

type document struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Type          string          `json:"_type"`
	URL           string          `json:"url"`
	WebpageURL    string          `json:"webpage_url"`
	PlaylistCount int             `json:"playlist_count"`
	Entries       []documentEntry `json:"entries"`
}

type documentEntry struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	WebpageURL string `json:"webpage_url"`
}

// Overview is what the selection prompt shows for one playlist.
type Overview struct {
	Ref     Ref    `json:"ref"`
	Title   string `json:"title"`
	Entries int    `json:"entries,omitempty"`
	Cached  bool   `json:"cached"`
}

type Resolver struct {
	source Source
	cache  *TitleCache
	policy retry.Policy
	sleep  retry.SleepFunc
	logger zerolog.Logger
	now    func() time.Time

	memoMu sync.Mutex
	memo   map[string]document
}

type ResolverOptions struct {
	Policy retry.Policy
	Sleep  retry.SleepFunc
	Now    func() time.Time
}

func NewResolver(source Source, cache *TitleCache, logger zerolog.Logger, opts ResolverOptions) *Resolver {
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		source: source,
		cache:  cache,
		policy: opts.Policy.Normalize(),
		sleep:  opts.Sleep,
		logger: logger,
		now:    opts.Now,
		memo:   make(map[string]document),
	}
}

func (r *Resolver) Cache() *TitleCache {
	return r.cache
}

// Resolve returns the playlist title and its ordered, de-duplicated items.
// A cached title is preferred over the one in fresh metadata so directory
// names stay stable between runs.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (model.Playlist, error) {
	id := strings.TrimSpace(ref.URL)
	if id == "" {
		return model.Playlist{}, retry.WithKind(retry.OpResolution, retry.Permanent, errors.New("playlist reference is empty"))
	}
	doc, err := r.lookup(ctx, id)
	if err != nil {
		return model.Playlist{}, err
	}

	now := r.now().UTC()
	p := model.Playlist{ID: id, ResolvedAt: now}
	switch {
	case strings.TrimSpace(ref.Name) != "":
		p.Title = strings.TrimSpace(ref.Name)
	default:
		if e, ok := r.cachedTitle(id); ok {
			p.Title = e.Title
			p.ResolvedAt = e.ResolvedAt
		} else {
			p.Title = friendlyTitle(doc)
			r.storeTitle(id, p.Title, now)
		}
	}
	p.Items = itemsFromDocument(id, doc)
	return p, nil
}

// Title returns the display title of ref, consulting the operator-given
// name and the cache before making a metadata round trip.
func (r *Resolver) Title(ctx context.Context, ref Ref) (Overview, error) {
	id := strings.TrimSpace(ref.URL)
	ov := Overview{Ref: ref, Title: ref.Label()}
	if strings.TrimSpace(ref.Name) != "" {
		ov.Cached = true
		return ov, nil
	}
	if e, ok := r.cachedTitle(id); ok {
		ov.Title = e.Title
		ov.Cached = true
		return ov, nil
	}
	doc, err := r.lookup(ctx, id)
	if err != nil {
		return ov, err
	}
	ov.Title = friendlyTitle(doc)
	ov.Entries = entryCount(doc)
	r.storeTitle(id, ov.Title, r.now())
	return ov, nil
}

// Invalidate drops the cached title and any in-memory document for ref.
func (r *Resolver) Invalidate(ref Ref) error {
	id := strings.TrimSpace(ref.URL)
	r.memoMu.Lock()
	delete(r.memo, id)
	r.memoMu.Unlock()
	if r.cache == nil {
		return nil
	}
	return r.cache.Invalidate(id)
}

func (r *Resolver) cachedTitle(id string) (TitleEntry, bool) {
	if r.cache == nil {
		return TitleEntry{}, false
	}
	e, ok := r.cache.Get(id)
	if !ok || strings.TrimSpace(e.Title) == "" {
		return TitleEntry{}, false
	}
	return e, true
}

func (r *Resolver) storeTitle(id, title string, at time.Time) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Put(id, title, at); err != nil {
		r.logger.Warn().Err(err).Str("playlist", id).Msg("could not persist playlist title cache")
	}
}

// lookup fetches metadata with bounded retry, following url-type redirects.
// Documents are memoised for the lifetime of the resolver.
func (r *Resolver) lookup(ctx context.Context, id string) (document, error) {
	r.memoMu.Lock()
	doc, ok := r.memo[id]
	r.memoMu.Unlock()
	if ok {
		return doc, nil
	}

	target := id
	for hop := 0; ; hop++ {
		var err error
		doc, err = r.fetch(ctx, target)
		if err != nil {
			return document{}, err
		}
		if doc.Type != "url" || strings.TrimSpace(doc.URL) == "" {
			break
		}
		if hop >= maxRedirects {
			return document{}, retry.WithKind(retry.OpResolution, retry.Permanent, fmt.Errorf("playlist %s redirected more than %d times", id, maxRedirects))
		}
		r.logger.Debug().Str("playlist", id).Str("redirect", doc.URL).Msg("following playlist redirect")
		target = strings.TrimSpace(doc.URL)
	}

	r.memoMu.Lock()
	r.memo[id] = doc
	r.memoMu.Unlock()
	return doc, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) (document, error) {
	var doc document
	attempts, err := r.policy.Do(ctx, r.policy.AttemptBudget(), r.sleep, func(attempt int) error {
		doc = document{}
		raw, err := r.source.Lookup(ctx, url)
		if err == nil {
			if jerr := json.Unmarshal(raw, &doc); jerr != nil {
				err = fmt.Errorf("parse playlist metadata: %w", jerr)
			}
		}
		if err != nil {
			err = retry.Resolution(err)
			if retry.Classify(err) == retry.Transient {
				r.logger.Warn().Err(err).Str("playlist", url).Int("attempt", attempt).Msg("playlist lookup failed")
			}
		}
		return err
	})
	if err != nil {
		return document{}, fmt.Errorf("resolve playlist %s after %d attempt(s): %w", url, attempts, err)
	}
	return doc, nil
}

func friendlyTitle(doc document) string {
	if t := strings.TrimSpace(doc.Title); t != "" {
		return t
	}
	if id := strings.TrimSpace(doc.ID); id != "" {
		return id
	}
	return "playlist"
}

func entryCount(doc document) int {
	if n := len(doc.Entries); n > 0 {
		return n
	}
	return doc.PlaylistCount
}

func itemsFromDocument(playlistID string, doc document) []model.Item {
	items := make([]model.Item, 0, len(doc.Entries))
	seen := make(map[string]bool, len(doc.Entries))
	for _, e := range doc.Entries {
		id := strings.TrimSpace(e.ID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		items = append(items, model.Item{
			ItemID:     id,
			PlaylistID: playlistID,
			SourceURL:  resolveVideoURL(id, firstNonEmpty(e.WebpageURL, e.URL)),
			Title:      strings.TrimSpace(e.Title),
		})
	}
	return items
}

func resolveVideoURL(videoID, maybeURL string) string {
	u := strings.TrimSpace(maybeURL)
	if u != "" {
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			return u
		}
		if strings.HasPrefix(u, "watch?") || strings.HasPrefix(u, "/watch?") {
			return "https://www.youtube.com/" + strings.TrimPrefix(u, "/")
		}
		if len(u) == 11 {
			return "https://www.youtube.com/watch?v=" + u
		}
	}
	if strings.TrimSpace(videoID) != "" {
		return "https://www.youtube.com/watch?v=" + strings.TrimSpace(videoID)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
