package lockfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
)

func TestAcquireRelease(t *testing.T) {
	root := t.TempDir()

	lock, err := Acquire(root, "install")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, Filename)); err != nil {
		t.Fatalf("marker missing: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, Filename)); !os.IsNotExist(err) {
		t.Error("marker still present after release")
	}
}

func TestAcquireWhileHeld(t *testing.T) {
	root := t.TempDir()

	lock, err := Acquire(root, "bump")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	_, err = Acquire(root, "install")
	if !errors.Is(err, errors.ErrCodeLockHeld) {
		t.Fatalf("second Acquire = %v, want %s", err, errors.ErrCodeLockHeld)
	}
	if !strings.Contains(err.Error(), "bump") {
		t.Errorf("error %q does not name the holding operation", err)
	}
}

func TestAcquireReclaimsOrphanedLock(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, Filename)

	// A marker from a process that no longer exists.
	orphan := marker{ID: "dead", PID: 1 << 30, Operation: "install", Acquired: time.Now()}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := toml.NewEncoder(f).Encode(orphan); err != nil {
		t.Fatal(err)
	}
	f.Close()

	lock, err := Acquire(root, "bump")
	if err != nil {
		t.Fatalf("Acquire over orphaned lock: %v", err)
	}
	lock.Release()
}

func TestAcquireReclaimsCorruptLock(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, Filename), []byte("{not toml"), 0o644); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(root, "add")
	if err != nil {
		t.Fatalf("Acquire over corrupt lock: %v", err)
	}
	lock.Release()
}

func TestReleaseOfReclaimedLockIsNoop(t *testing.T) {
	root := t.TempDir()

	lock, err := Acquire(root, "install")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Simulate another process reclaiming and re-acquiring.
	if err := os.Remove(filepath.Join(root, Filename)); err != nil {
		t.Fatal(err)
	}
	other, err := Acquire(root, "bump")
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("stale Release: %v", err)
	}
	// The new holder's marker must survive the stale release.
	if _, err := os.Stat(filepath.Join(root, Filename)); err != nil {
		t.Error("stale release removed the new holder's marker")
	}
	other.Release()
}
