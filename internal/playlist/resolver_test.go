package playlist

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"yt-audio-ingest/internal/retry"
)

type fakeSource struct {
	mu    sync.Mutex
	docs  map[string]string
	errs  map[string][]error
	calls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{docs: map[string]string{}, errs: map[string][]error{}, calls: map[string]int{}}
}

func (f *fakeSource) Lookup(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if queue := f.errs[url]; len(queue) > 0 {
		f.errs[url] = queue[1:]
		return nil, queue[0]
	}
	doc, ok := f.docs[url]
	if !ok {
		return nil, errors.New("ERROR: This playlist does not exist")
	}
	return []byte(doc), nil
}

func (f *fakeSource) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestResolver(t *testing.T, src Source) (*Resolver, *TitleCache) {
	t.Helper()
	cache := OpenTitleCache(filepath.Join(t.TempDir(), "playlist-titles.json"))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewResolver(src, cache, zerolog.Nop(), ResolverOptions{
		Policy: retry.Policy{Budget: 3},
		Sleep:  noSleep,
		Now:    func() time.Time { return fixed },
	})
	return r, cache
}

const sampleDoc = `{
  "id": "PL1",
  "title": "Lectures: Part 1/2",
  "entries": [
    {"id": "aaaaaaaaaaa", "title": "One", "url": "https://www.youtube.com/watch?v=aaaaaaaaaaa"},
    {"id": "bbbbbbbbbbb", "title": "Two", "url": "bbbbbbbbbbb"},
    {"id": "aaaaaaaaaaa", "title": "One again"},
    {"id": "", "title": "broken"},
    {"id": "ccccccccccc", "title": "Three", "url": "/watch?v=ccccccccccc"}
  ]
}`

func TestResolve_BuildsOrderedDedupedItems(t *testing.T) {
	src := newFakeSource()
	src.docs["https://example.test/list?list=PL1"] = sampleDoc
	r, cache := newTestResolver(t, src)

	p, err := r.Resolve(context.Background(), Ref{URL: "https://example.test/list?list=PL1"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "Lectures: Part 1/2" {
		t.Fatalf("unexpected title %q", p.Title)
	}
	if len(p.Items) != 3 {
		t.Fatalf("expected 3 items, got %+v", p.Items)
	}
	want := []string{
		"https://www.youtube.com/watch?v=aaaaaaaaaaa",
		"https://www.youtube.com/watch?v=bbbbbbbbbbb",
		"https://www.youtube.com/watch?v=ccccccccccc",
	}
	for i, it := range p.Items {
		if it.SourceURL != want[i] {
			t.Fatalf("item %d url = %q, want %q", i, it.SourceURL, want[i])
		}
		if it.PlaylistID != "https://example.test/list?list=PL1" {
			t.Fatalf("item %d playlist id = %q", i, it.PlaylistID)
		}
	}
	if e, ok := cache.Get("https://example.test/list?list=PL1"); !ok || e.Title != p.Title {
		t.Fatalf("expected title cached, got %+v ok=%v", e, ok)
	}
}

func TestResolve_PrefersNameThenCache(t *testing.T) {
	src := newFakeSource()
	src.docs["u1"] = `{"id":"PL1","title":"Remote Title","entries":[]}`
	r, cache := newTestResolver(t, src)

	p, err := r.Resolve(context.Background(), Ref{Name: "My Name", URL: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "My Name" {
		t.Fatalf("expected operator name, got %q", p.Title)
	}
	if cache.Len() != 0 {
		t.Fatalf("operator-named playlist should not populate cache")
	}

	if err := cache.Put("u1", "Old Cached Title", time.Now()); err != nil {
		t.Fatal(err)
	}
	p, err = r.Resolve(context.Background(), Ref{URL: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "Old Cached Title" {
		t.Fatalf("expected cached title to win over remote, got %q", p.Title)
	}
}

func TestTitle_CacheHitSkipsLookup(t *testing.T) {
	src := newFakeSource()
	r, cache := newTestResolver(t, src)
	if err := cache.Put("u2", "Cached", time.Now()); err != nil {
		t.Fatal(err)
	}

	ov, err := r.Title(context.Background(), Ref{URL: "u2"})
	if err != nil {
		t.Fatal(err)
	}
	if ov.Title != "Cached" || !ov.Cached {
		t.Fatalf("unexpected overview %+v", ov)
	}
	if src.count("u2") != 0 {
		t.Fatalf("expected no metadata lookup, got %d", src.count("u2"))
	}
}

func TestTitle_MissPersistsAndCountsEntries(t *testing.T) {
	src := newFakeSource()
	src.docs["u3"] = sampleDoc
	r, _ := newTestResolver(t, src)

	ov, err := r.Title(context.Background(), Ref{URL: "u3"})
	if err != nil {
		t.Fatal(err)
	}
	if ov.Cached || ov.Entries != 5 {
		t.Fatalf("unexpected overview %+v", ov)
	}

	reopened := OpenTitleCache(r.Cache().Path())
	if e, ok := reopened.Get("u3"); !ok || e.Title != "Lectures: Part 1/2" {
		t.Fatalf("expected persisted title, got %+v ok=%v", e, ok)
	}

	// Resolve in the same run reuses the memoised document.
	if _, err := r.Resolve(context.Background(), Ref{URL: "u3"}); err != nil {
		t.Fatal(err)
	}
	if src.count("u3") != 1 {
		t.Fatalf("expected one lookup, got %d", src.count("u3"))
	}
}

func TestResolve_FollowsURLRedirect(t *testing.T) {
	src := newFakeSource()
	src.docs["short"] = `{"_type":"url","url":"long"}`
	src.docs["long"] = `{"id":"PL9","title":"Target","entries":[{"id":"ddddddddddd"}]}`
	r, _ := newTestResolver(t, src)

	p, err := r.Resolve(context.Background(), Ref{URL: "short"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "Target" || len(p.Items) != 1 {
		t.Fatalf("unexpected playlist %+v", p)
	}
	if p.ID != "short" {
		t.Fatalf("playlist id should stay the configured reference, got %q", p.ID)
	}
}

func TestResolve_RedirectLoopIsPermanent(t *testing.T) {
	src := newFakeSource()
	src.docs["a"] = `{"_type":"url","url":"b"}`
	src.docs["b"] = `{"_type":"url","url":"a"}`
	r, _ := newTestResolver(t, src)

	_, err := r.Resolve(context.Background(), Ref{URL: "a"})
	if err == nil {
		t.Fatal("expected redirect loop error")
	}
	if retry.Classify(err) != retry.Permanent {
		t.Fatalf("expected permanent, got %v", retry.Classify(err))
	}
}

func TestResolve_RetriesTransientFailures(t *testing.T) {
	src := newFakeSource()
	src.docs["u4"] = `{"id":"PL4","title":"Flaky","entries":[]}`
	src.errs["u4"] = []error{errors.New("connection reset by peer"), errors.New("HTTP Error 503")}
	r, _ := newTestResolver(t, src)

	p, err := r.Resolve(context.Background(), Ref{URL: "u4"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "Flaky" {
		t.Fatalf("unexpected title %q", p.Title)
	}
	if got := src.count("u4"); got != 3 {
		t.Fatalf("expected 3 lookups, got %d", got)
	}
}

func TestResolve_PermanentFailureStopsImmediately(t *testing.T) {
	src := newFakeSource()
	r, _ := newTestResolver(t, src)

	_, err := r.Resolve(context.Background(), Ref{URL: "missing"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := src.count("missing"); got != 1 {
		t.Fatalf("expected single lookup, got %d", got)
	}
	if retry.OpOf(err) != retry.OpResolution {
		t.Fatalf("expected resolution op, got %q", retry.OpOf(err))
	}
}

func TestResolve_TransientBudgetExhausted(t *testing.T) {
	src := newFakeSource()
	src.errs["u5"] = []error{
		errors.New("timed out"), errors.New("timed out"), errors.New("timed out"), errors.New("timed out"),
	}
	r, _ := newTestResolver(t, src)

	if _, err := r.Resolve(context.Background(), Ref{URL: "u5"}); err == nil {
		t.Fatal("expected error")
	}
	if got := src.count("u5"); got != 3 {
		t.Fatalf("expected budget of 3 lookups, got %d", got)
	}
}

func TestResolve_EmptyReferenceIsPermanent(t *testing.T) {
	r, _ := newTestResolver(t, newFakeSource())
	_, err := r.Resolve(context.Background(), Ref{URL: "  "})
	if err == nil || retry.Classify(err) != retry.Permanent {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestInvalidate_ForcesFreshLookup(t *testing.T) {
	src := newFakeSource()
	src.docs["u6"] = `{"id":"PL6","title":"First","entries":[]}`
	r, cache := newTestResolver(t, src)

	if _, err := r.Title(context.Background(), Ref{URL: "u6"}); err != nil {
		t.Fatal(err)
	}
	src.mu.Lock()
	src.docs["u6"] = `{"id":"PL6","title":"Renamed","entries":[]}`
	src.mu.Unlock()

	if err := r.Invalidate(Ref{URL: "u6"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.Get("u6"); ok {
		t.Fatal("expected cache entry removed")
	}
	ov, err := r.Title(context.Background(), Ref{URL: "u6"})
	if err != nil {
		t.Fatal(err)
	}
	if ov.Title != "Renamed" {
		t.Fatalf("expected refreshed title, got %q", ov.Title)
	}
}

func TestResolve_FallsBackToIDWhenTitleMissing(t *testing.T) {
	src := newFakeSource()
	src.docs["u7"] = `{"id":"PL7","entries":[]}`
	src.docs["u8"] = `{"entries":[]}`
	r, _ := newTestResolver(t, src)

	p, err := r.Resolve(context.Background(), Ref{URL: "u7"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "PL7" {
		t.Fatalf("expected id fallback, got %q", p.Title)
	}
	p, err = r.Resolve(context.Background(), Ref{URL: "u8"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "playlist" {
		t.Fatalf("expected generic fallback, got %q", p.Title)
	}
}
