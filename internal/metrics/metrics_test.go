package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestCounters(t *testing.T) {
	m := New()
	m.IncArchived()
	m.IncArchived()
	m.AddSkipped(3)
	m.IncFailed("permanent")
	m.IncRetry("download")
	m.IncRetry("download")
	m.JobStarted()
	m.JobStarted()
	m.JobFinished()

	if got := testutil.ToFloat64(m.itemsArchived); got != 2 {
		t.Fatalf("archived: got %v", got)
	}
	if got := testutil.ToFloat64(m.itemsSkipped); got != 3 {
		t.Fatalf("skipped: got %v", got)
	}
	if got := testutil.ToFloat64(m.itemsFailed.WithLabelValues("permanent")); got != 1 {
		t.Fatalf("failed: got %v", got)
	}
	if got := testutil.ToFloat64(m.retries.WithLabelValues("download")); got != 2 {
		t.Fatalf("retries: got %v", got)
	}
	if got := testutil.ToFloat64(m.activeJobs); got != 1 {
		t.Fatalf("active jobs: got %v", got)
	}
}

func TestRouterServesMetricsAndHealth(t *testing.T) {
	m := New()
	m.IncArchived()
	srv := httptest.NewServer(NewRouter(m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "ingest_items_archived_total 1") {
		t.Fatalf("metrics output missing archived counter:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}

func TestServeAndShutdown(t *testing.T) {
	s, err := Serve("127.0.0.1:0", New(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
