package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"yt-audio-ingest/internal/retry"
)

func TestOpenFileArchive_MissingFileIsEmpty(t *testing.T) {
	a, err := OpenFileArchive(filepath.Join(t.TempDir(), ArchiveFileName))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if a.Len() != 0 || a.Contains("x") {
		t.Fatalf("expected empty archive")
	}
}

func TestOpenFileArchive_ReadsPlainAndExtractorPrefixedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), ArchiveFileName)
	content := "abc123\n\nyoutube def456\n  ghi789  \n# comment\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := OpenFileArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"abc123", "def456", "ghi789"} {
		if !a.Contains(id) {
			t.Fatalf("expected archive to contain %s", id)
		}
	}
	if a.Len() != 3 {
		t.Fatalf("expected 3 ids, got %d", a.Len())
	}
}

func TestFileArchive_AddIsIdempotentAndSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), ArchiveFileName)
	a, err := OpenFileArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"A", "B", "A"} {
		if err := a.Add(id); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "A\nB\n" {
		t.Fatalf("unexpected archive content %q", string(data))
	}

	reopened, err := OpenFileArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Contains("A") || !reopened.Contains("B") {
		t.Fatalf("expected committed ids after reopen")
	}
}

func TestFileArchive_ConcurrentAddOfSameIDWritesOneLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), ArchiveFileName)
	a, err := OpenFileArchive(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- a.Add("same-id")
		}()
		go func(n int) {
			defer wg.Done()
			errs <- a.Add("other-" + string(rune('a'+n%26)) + string(rune('a'+n/26)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent add: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	same := 0
	for _, line := range lines {
		if line == "same-id" {
			same++
		}
		if strings.TrimSpace(line) != line || line == "" {
			t.Fatalf("corrupted archive line %q", line)
		}
	}
	if same != 1 {
		t.Fatalf("expected exactly one same-id line, got %d", same)
	}
	if len(lines) != 33 {
		t.Fatalf("expected 33 archive lines, got %d", len(lines))
	}
}

func TestFileArchive_WriteFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	// a directory at the archive path makes the append fail
	path := filepath.Join(dir, ArchiveFileName)
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	a := &FileArchive{path: path, ids: map[string]struct{}{}}
	err := a.Add("x")
	if err == nil {
		t.Fatalf("expected append failure")
	}
	if !retry.IsFatal(err) {
		t.Fatalf("expected fatal persistence error, got %v", err)
	}
	if a.Contains("x") {
		t.Fatalf("failed add must not mark the id as archived")
	}
}

func TestMemoryArchive_FailAdd(t *testing.T) {
	m := NewMemoryArchive("A")
	if !m.Contains("A") {
		t.Fatalf("expected seeded id")
	}
	m.FailAdd = errors.New("disk full")
	if err := m.Add("B"); !retry.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}
