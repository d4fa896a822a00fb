package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("INGEST_TEST_STR", " value ")
	t.Setenv("INGEST_TEST_INT", "7")
	t.Setenv("INGEST_TEST_BAD_INT", "seven")
	t.Setenv("INGEST_TEST_FLOAT", "1.5")
	t.Setenv("INGEST_TEST_DUR", "250ms")
	t.Setenv("INGEST_TEST_SECS", "2")

	if got := GetEnv("INGEST_TEST_STR", "x"); got != "value" {
		t.Fatalf("GetEnv: got %q", got)
	}
	if got := GetEnv("INGEST_TEST_UNSET", "x"); got != "x" {
		t.Fatalf("GetEnv fallback: got %q", got)
	}
	if got := GetEnvInt("INGEST_TEST_INT", 1); got != 7 {
		t.Fatalf("GetEnvInt: got %d", got)
	}
	if got := GetEnvInt("INGEST_TEST_BAD_INT", 1); got != 1 {
		t.Fatalf("GetEnvInt fallback: got %d", got)
	}
	if got := GetEnvFloat("INGEST_TEST_FLOAT", 0); got != 1.5 {
		t.Fatalf("GetEnvFloat: got %v", got)
	}
	if got := GetEnvDuration("INGEST_TEST_DUR", 0); got != 250*time.Millisecond {
		t.Fatalf("GetEnvDuration: got %s", got)
	}
	if got := GetEnvDuration("INGEST_TEST_SECS", 0); got != 2*time.Second {
		t.Fatalf("GetEnvDuration seconds: got %s", got)
	}
}

func TestLoadDoesNotOverrideExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("INGEST_TEST_LOADED=from-file\nINGEST_TEST_KEEP=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INGEST_TEST_KEEP", "from-env")
	t.Setenv("INGEST_TEST_LOADED", "")
	os.Unsetenv("INGEST_TEST_LOADED")

	if err := Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("INGEST_TEST_LOADED"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("INGEST_TEST_KEEP"); got != "from-env" {
		t.Fatalf("expected existing env to win, got %q", got)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	if err := LoadOptional(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
	if err := Load(filepath.Join(dir, "missing.env")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load should report the missing file, got %v", err)
	}

	bad := filepath.Join(dir, "bad.env")
	if err := os.WriteFile(bad, []byte("INGEST_TEST_BAD=\"unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadOptional(bad); err == nil {
		t.Fatal("expected parse error for malformed file")
	}

	good := filepath.Join(dir, "good.env")
	if err := os.WriteFile(good, []byte("INGEST_TEST_OPTIONAL=yes\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INGEST_TEST_OPTIONAL", "")
	os.Unsetenv("INGEST_TEST_OPTIONAL")
	if err := LoadOptional(filepath.Join(dir, "missing.env"), good); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("INGEST_TEST_OPTIONAL"); got != "yes" {
		t.Fatalf("expected value from good.env, got %q", got)
	}
}
