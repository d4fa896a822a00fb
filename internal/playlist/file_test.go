package playlist

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseFile_NamesCommentsAndDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlists.txt")
	body := strings.Join([]string{
		"# my playlists",
		"",
		"Lectures | https://www.youtube.com/playlist?list=PL1",
		"https://www.youtube.com/playlist?list=PL2",
		"https://www.youtube.com/playlist?list=PL1",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Refs) != 2 {
		t.Fatalf("expected 2 refs, got %+v", f.Refs)
	}
	if f.Refs[0].Name != "Lectures" || f.Refs[0].URL != "https://www.youtube.com/playlist?list=PL1" {
		t.Fatalf("unexpected first ref %+v", f.Refs[0])
	}
	if f.Refs[1].Name != "" || f.Refs[1].Label() != "https://www.youtube.com/playlist?list=PL2" {
		t.Fatalf("unexpected second ref %+v", f.Refs[1])
	}
	if len(f.Comments) != 2 || f.Comments[0] != "# my playlists" {
		t.Fatalf("unexpected comments %q", f.Comments)
	}
}

func TestParseFile_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := ParseFile(filepath.Join(dir, "missing.txt")); err == nil {
		t.Fatal("expected error for missing file")
	}

	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, []byte("# only comments\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseFile(empty); !errors.Is(err, ErrNoPlaylists) {
		t.Fatalf("expected ErrNoPlaylists, got %v", err)
	}

	bad := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(bad, []byte("Name Only |\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseFile(bad); err == nil || !strings.Contains(err.Error(), ":1:") {
		t.Fatalf("expected line-numbered error, got %v", err)
	}
}

func TestSaveFile_RoundTripKeepsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlists.txt")
	f := File{
		Comments: []string{"# header", ""},
		Refs: []Ref{
			{Name: "Named", URL: "https://example.test/a"},
			{URL: "https://example.test/b"},
		},
	}
	if err := SaveFile(path, f); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "# header\n\nNamed|https://example.test/a\nhttps://example.test/b\n"
	if string(data) != want {
		t.Fatalf("unexpected file content %q", string(data))
	}

	back, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.Refs) != 2 || back.Refs[0].Name != "Named" {
		t.Fatalf("unexpected round trip %+v", back.Refs)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"Lectures: Part 1/2": "Lectures_ Part 1_2",
		"  spaced   out  ":   "spaced out",
		"...":                "playlist",
		"":                   "playlist",
		`a<b>c"d|e?f*g\h`:    "a_b_c_d_e_f_g_h",
		"trailing dot.":      "trailing dot",
		"tab\there\nnewline": "tab_here_newline",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTitleCache_PersistsAndToleratesCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ingest", "playlist-titles.json")
	c := OpenTitleCache(path)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := c.Put("PL1", "One", at); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("PL2", "Two", at); err != nil {
		t.Fatal(err)
	}

	reopened := OpenTitleCache(path)
	if e, ok := reopened.Get("PL1"); !ok || e.Title != "One" || !e.ResolvedAt.Equal(at) {
		t.Fatalf("unexpected entry %+v ok=%v", e, ok)
	}
	if err := reopened.Invalidate("PL1"); err != nil {
		t.Fatal(err)
	}
	if OpenTitleCache(path).Len() != 1 {
		t.Fatal("expected one entry after invalidate")
	}
	if err := reopened.InvalidateAll(); err != nil {
		t.Fatal(err)
	}
	if OpenTitleCache(path).Len() != 0 {
		t.Fatal("expected empty cache after invalidate all")
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	corrupt := OpenTitleCache(path)
	if corrupt.Len() != 0 {
		t.Fatal("corrupt cache should load empty")
	}
	if err := corrupt.Put("PL3", "Three", at); err != nil {
		t.Fatal(err)
	}
	if e, ok := OpenTitleCache(path).Get("PL3"); !ok || e.Title != "Three" {
		t.Fatal("expected corrupt cache to be replaced on write")
	}
}
