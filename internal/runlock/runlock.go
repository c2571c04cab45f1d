// Package runlock serialises backup runs of one definition in one backup
// directory across every process on the machine.
package runlock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"
)

// DefaultDelay is how often a waiting run retries the lock.
const DefaultDelay = 250 * time.Millisecond

// ErrBusy is returned when the wait for the lock was abandoned.
var ErrBusy = errors.New("another run holds the lock")

// Name returns the machine-wide mutex name for (backupDir, definition).
// Mutex names are limited in length and alphabet, so the pair is hashed.
func Name(backupDir, definition string) string {
	dir := backupDir
	if abs, err := filepath.Abs(backupDir); err == nil {
		dir = abs
	}
	sum := sha256.Sum256([]byte(filepath.Clean(dir) + "\x00" + definition))
	return "darbackup-" + hex.EncodeToString(sum[:8])
}

// Locker acquires run locks.
type Locker struct {
	Clock clock.Clock
	Delay time.Duration
	// Timeout bounds the wait; zero waits until ctx is done.
	Timeout time.Duration
}

// New returns a Locker on the wall clock.
func New() *Locker {
	return &Locker{Clock: clock.WallClock, Delay: DefaultDelay}
}

// Acquire blocks until the lock for (backupDir, definition) is held, ctx is
// done, or the timeout passes. The returned func releases the lock.
func (l *Locker) Acquire(ctx context.Context, backupDir, definition string) (func(), error) {
	spec := mutex.Spec{
		Name:    Name(backupDir, definition),
		Clock:   l.Clock,
		Delay:   l.Delay,
		Timeout: l.Timeout,
		Cancel:  ctx.Done(),
	}
	if spec.Clock == nil {
		spec.Clock = clock.WallClock
	}
	if spec.Delay <= 0 {
		spec.Delay = DefaultDelay
	}

	releaser, err := mutex.Acquire(spec)
	if err != nil {
		if errors.Is(err, mutex.ErrCancelled) || errors.Is(err, mutex.ErrTimeout) {
			return nil, fmt.Errorf("%w for %q in %s: %w", ErrBusy, definition, backupDir, err)
		}
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	return releaser.Release, nil
}
