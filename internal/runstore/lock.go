package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	rootLockDirName   = ".ingest.lock"
	rootLockOwnerFile = "owner.json"
)

// RootLock guards a download root against concurrent ingest processes.
type RootLock struct {
	lockDir string
}

type rootLockOwner struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireRootLock(root, runID string) (RootLock, error) {
	target := strings.TrimSpace(root)
	if target == "" {
		return RootLock{}, fmt.Errorf("download root is required")
	}
	if err := Mkdir(target); err != nil {
		return RootLock{}, err
	}

	lockDir := filepath.Join(target, rootLockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			ownerPath := filepath.Join(lockDir, rootLockOwnerFile)
			var owner rootLockOwner
			if readErr := ReadJSON(ownerPath, &owner); readErr == nil && owner.PID > 0 && owner.CreatedAt != "" {
				return RootLock{}, fmt.Errorf(
					"download root is locked: %s (pid=%d run_id=%s created_at=%s host=%s)",
					target, owner.PID, owner.RunID, owner.CreatedAt, owner.Hostname,
				)
			}
			return RootLock{}, fmt.Errorf("download root is locked: %s", target)
		}
		return RootLock{}, fmt.Errorf("acquire root lock for %s: %w", target, err)
	}

	owner := rootLockOwner{
		PID:       os.Getpid(),
		RunID:     runID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(lockDir, rootLockOwnerFile), owner); err != nil {
		_ = os.Remove(lockDir)
		return RootLock{}, fmt.Errorf("write root lock owner for %s: %w", target, err)
	}

	return RootLock{lockDir: lockDir}, nil
}

func (l RootLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, rootLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release root lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
