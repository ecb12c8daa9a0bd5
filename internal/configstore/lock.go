package configstore

import (
	"context"
	"os"
	"time"
)

const lockRetryInterval = 100 * time.Millisecond

// LockWaitDefault bounds how long Lock waits for a competing cycle.
const LockWaitDefault = 5 * time.Second

// fileLock is an advisory lock on a sidecar file next to the config.
// It serializes whole reconcile cycles: load, plan, apply, save.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

// acquire obtains the lock, polling non-blocking attempts until the wait
// window or the context expires.
func (l *fileLock) acquire(ctx context.Context, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return &Error{Kind: Locked, Path: l.path, Err: err}
		}
		ok, err := tryLock(f)
		if err != nil {
			f.Close()
			return &Error{Kind: Locked, Path: l.path, Err: err}
		}
		if ok {
			l.file = f
			return nil
		}
		f.Close()

		if time.Now().After(deadline) {
			return &Error{Kind: Locked, Path: l.path}
		}
		select {
		case <-ctx.Done():
			return &Error{Kind: Locked, Path: l.path, Err: ctx.Err()}
		case <-time.After(lockRetryInterval):
		}
	}
}

// release drops the lock. Safe to call when not held.
func (l *fileLock) release() {
	if l.file == nil {
		return
	}
	unlock(l.file)
	l.file.Close()
	l.file = nil
}

// Lock acquires the store's advisory lock within the bounded wait.
func (s *Store) Lock(ctx context.Context, wait time.Duration) error {
	return s.lock.acquire(ctx, wait)
}

// Unlock releases the store's advisory lock.
func (s *Store) Unlock() {
	s.lock.release()
}
