package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Lock acquisition tuning. Variables so tests can shorten them.
var (
	lockRetryDelay = 100 * time.Millisecond
	lockMaxWait    = 5 * time.Second
	lockStaleAge   = 30 * time.Second
)

// fileLock is an exclusive sidecar lock ("<path>.lock") shared by every
// process that writes the same token or status file.
type fileLock struct {
	lockFile *os.File
	lockPath string
}

// acquireFileLock creates path+".lock" exclusively, waiting for other holders
// until ctx is done or lockMaxWait elapses. Locks older than lockStaleAge are
// considered abandoned and removed.
func acquireFileLock(ctx context.Context, path string) (*fileLock, error) {
	lockPath := path + ".lock"
	deadline := time.Now().Add(lockMaxWait)

	for {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// Holder PID, for debugging stuck locks.
			_, _ = lockFile.WriteString(strconv.Itoa(os.Getpid()))
			return &fileLock{lockFile: lockFile, lockPath: lockPath}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockStaleAge {
			if remErr := os.Remove(lockPath); remErr != nil && !errors.Is(remErr, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, remErr)
			}
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for file lock %s after %v", lockPath, lockMaxWait)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for file lock %s: %w", lockPath, ctx.Err())
		case <-time.After(lockRetryDelay):
		}
	}
}

// release closes and removes the lock file.
func (fl *fileLock) release() error {
	if fl.lockFile != nil {
		_ = fl.lockFile.Close()
	}
	return os.Remove(fl.lockPath)
}

// writeFileAtomic writes data to path under the sidecar lock, going through a
// temp file and a rename so readers never see a partial file.
func writeFileAtomic(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	lock, err := acquireFileLock(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release lock: %v\n", releaseErr)
		}
	}()

	return writeLocked(path, data, perm)
}

// writeLocked is writeFileAtomic for callers already holding the lock.
func writeLocked(path string, data []byte, perm os.FileMode) error {
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
