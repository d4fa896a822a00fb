//go:build unix

package procgroup

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestDetach_StartsOwnProcessGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd := exec.CommandContext(ctx, "sleep", "5")
	Detach(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		cancel()
		_ = cmd.Wait()
	}()

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		t.Fatal(err)
	}
	if pgid != cmd.Process.Pid {
		t.Fatalf("child pgid = %d, want its own pid %d", pgid, cmd.Process.Pid)
	}
	if pgid == syscall.Getpgrp() {
		t.Fatal("child shares the parent's process group")
	}
}

func TestDetach_CancelKillsGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// The grandchild holds stdout open, so Wait returns only once it is gone.
	cmd := exec.CommandContext(ctx, "bash", "-c", "sleep 30 & wait")
	var out bytes.Buffer
	cmd.Stdout = &out
	Detach(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancelled command to fail")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled command did not exit")
	}
}
