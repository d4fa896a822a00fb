// Package store holds the durable bookkeeping of an ingest root: the per
// playlist download archive and failure ledger.
package store

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"yt-audio-ingest/internal/retry"
	"yt-audio-ingest/internal/runstore"
)

const ArchiveFileName = "downloaded_archive.txt"

// FileArchive is an append-only set of completed item ids backed by a text
// file with one id per line.
type FileArchive struct {
	path string

	mu  sync.Mutex
	ids map[string]struct{}
}

// OpenFileArchive reads every committed id before returning. A missing file
// is an empty archive.
func OpenFileArchive(path string) (*FileArchive, error) {
	a := &FileArchive{path: path, ids: make(map[string]struct{})}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, retry.Persistence(fmt.Errorf("open archive %s: %w", path, err))
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if id := archiveLineID(sc.Text()); id != "" {
			a.ids[id] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, retry.Persistence(fmt.Errorf("read archive %s: %w", path, err))
	}
	return a, nil
}

// archiveLineID takes the last field so "youtube <id>" lines written by
// yt-dlp's own --download-archive are understood too.
func archiveLineID(line string) string {
	t := strings.TrimSpace(line)
	if t == "" || strings.HasPrefix(t, "#") {
		return ""
	}
	fields := strings.Fields(t)
	return fields[len(fields)-1]
}

func (a *FileArchive) Path() string {
	return a.path
}

func (a *FileArchive) Contains(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.ids[strings.TrimSpace(id)]
	return ok
}

// Add records id. Repeated adds of the same id write nothing.
func (a *FileArchive) Add(id string) error {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, " \t\r\n") {
		return retry.Persistence(fmt.Errorf("invalid archive id %q", id))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.ids[id]; ok {
		return nil
	}
	if err := runstore.AppendLine(a.path, id); err != nil {
		return retry.Persistence(err)
	}
	a.ids[id] = struct{}{}
	return nil
}

func (a *FileArchive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ids)
}

// MemoryArchive is an in-process archive for tests and dry runs.
type MemoryArchive struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	adds int

	// FailAdd, when set, is returned from Add.
	FailAdd error
}

func NewMemoryArchive(ids ...string) *MemoryArchive {
	m := &MemoryArchive{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		m.ids[id] = struct{}{}
	}
	return m
}

func (m *MemoryArchive) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok
}

func (m *MemoryArchive) Add(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAdd != nil {
		return retry.Persistence(m.FailAdd)
	}
	if _, ok := m.ids[id]; ok {
		return nil
	}
	m.ids[id] = struct{}{}
	m.adds++
	return nil
}

func (m *MemoryArchive) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}

// Writes counts adds that changed the set.
func (m *MemoryArchive) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adds
}
