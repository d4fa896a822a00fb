package runstore

import (
	"strings"
	"testing"
)

func TestAcquireRootLock_BlocksConcurrentAcquire(t *testing.T) {
	root := t.TempDir()

	lock, err := AcquireRootLock(root, "run-a")
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}
	defer func() {
		_ = lock.Release()
	}()

	_, err = AcquireRootLock(root, "run-b")
	if err == nil {
		t.Fatalf("expected second acquire to fail")
	}
	if !strings.Contains(err.Error(), "run_id=run-a") {
		t.Fatalf("expected lock error to name the owning run, got %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release lock: %v", err)
	}

	lock2, err := AcquireRootLock(root, "run-b")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := lock2.Release(); err != nil {
		t.Fatalf("release second lock: %v", err)
	}
}
