package playlist

import (
	"strings"
	"sync"
	"time"

	"yt-audio-ingest/internal/runstore"
)

const titleCacheSchema = 1

type TitleEntry struct {
	Title      string    `json:"title"`
	ResolvedAt time.Time `json:"resolved_at"`
}

type titleCacheFile struct {
	SchemaVersion int                   `json:"schema_version"`
	Playlists     map[string]TitleEntry `json:"playlists"`
}

// TitleCache persists playlist id to title lookups across runs. Every
// mutation rewrites the file atomically while holding the lock.
type TitleCache struct {
	path string

	mu      sync.Mutex
	entries map[string]TitleEntry
}

// OpenTitleCache loads path. A missing or unreadable file starts an empty
// cache; it is replaced on the next write.
func OpenTitleCache(path string) *TitleCache {
	c := &TitleCache{path: path, entries: make(map[string]TitleEntry)}
	var f titleCacheFile
	if err := runstore.ReadJSON(path, &f); err == nil && f.Playlists != nil {
		c.entries = f.Playlists
	}
	return c
}

func (c *TitleCache) Path() string {
	return c.path
}

func (c *TitleCache) Get(id string) (TitleEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(id)]
	return e, ok
}

func (c *TitleCache) Put(id, title string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(id)] = TitleEntry{Title: title, ResolvedAt: at.UTC()}
	return c.saveLocked()
}

func (c *TitleCache) Invalidate(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[cacheKey(id)]; !ok {
		return nil
	}
	delete(c.entries, cacheKey(id))
	return c.saveLocked()
}

func (c *TitleCache) InvalidateAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]TitleEntry)
	return c.saveLocked()
}

func (c *TitleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TitleCache) saveLocked() error {
	return runstore.WriteJSON(c.path, titleCacheFile{
		SchemaVersion: titleCacheSchema,
		Playlists:     c.entries,
	})
}

func cacheKey(id string) string {
	return strings.TrimSpace(id)
}
