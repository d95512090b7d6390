// Package lockfile guards the repository against concurrent mutating
// commands. A marker file at the repository root records the holder; a
// second mutating command fails fast instead of interleaving manifest
// writes with another process.
package lockfile

import (
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
)

// Filename is the lock marker created at the repository root.
const Filename = ".polybuild.lock"

// marker is the on-disk lock record.
type marker struct {
	ID        string    `toml:"id"`
	PID       int       `toml:"pid"`
	Operation string    `toml:"operation"`
	Acquired  time.Time `toml:"acquired"`
}

// Lock is a held repository lock. Release it with [Lock.Release].
type Lock struct {
	path string
	id   string
}

// Acquire takes the repository lock for a mutating operation. It fails with
// ErrCodeLockHeld while another live process holds it; a marker left behind
// by a dead process is reclaimed.
func Acquire(root, operation string) (*Lock, error) {
	path := filepath.Join(root, Filename)

	for attempt := 0; attempt < 2; attempt++ {
		lock, err := tryAcquire(path, operation)
		if err == nil {
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrap(errors.ErrCodeDiscoveryIO, err, "create lock %s", path)
		}

		holder, readErr := readMarker(path)
		if readErr == nil && processAlive(holder.PID) {
			return nil, errors.New(errors.ErrCodeLockHeld,
				"%s is locked by %q (pid %d) since %s",
				root, holder.Operation, holder.PID, holder.Acquired.Format(time.RFC3339))
		}

		// Unreadable or orphaned marker: reclaim it and retry once.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, errors.Wrap(errors.ErrCodeDiscoveryIO, rmErr, "reclaim stale lock %s", path)
		}
	}
	return nil, errors.New(errors.ErrCodeLockHeld, "%s is locked and could not be reclaimed", root)
}

// tryAcquire creates the marker exclusively, losing any race to the winner.
func tryAcquire(path, operation string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	m := marker{
		ID:        uuid.NewString(),
		PID:       os.Getpid(),
		Operation: operation,
		Acquired:  time.Now().UTC(),
	}
	if err := toml.NewEncoder(f).Encode(m); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Lock{path: path, id: m.ID}, nil
}

// Release removes the marker. Releasing a lock that was already reclaimed by
// another process is a no-op: the marker no longer belongs to us.
func (l *Lock) Release() error {
	holder, err := readMarker(l.path)
	if err != nil || holder.ID != l.id {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeDiscoveryIO, err, "release lock %s", l.path)
	}
	return nil
}

func readMarker(path string) (marker, error) {
	var m marker
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return marker{}, err
	}
	return m, nil
}

// processAlive reports whether pid refers to a live process we could signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
