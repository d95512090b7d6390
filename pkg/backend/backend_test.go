package backend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
	"github.com/polyrepo-tools/polybuild/pkg/manifest"
	"github.com/polyrepo-tools/polybuild/pkg/semver"
)

func testPkg(t *testing.T, native bool) *manifest.Package {
	t.Helper()
	return &manifest.Package{
		Name:               "core",
		Version:            semver.MustParseVersion("0.4.2"),
		RootPath:           t.TempDir(),
		HasNativeExtension: native,
	}
}

// stubTool writes an executable script that records its arguments and exits
// with the code named by its first argument's presence in failOn.
func stubTool(t *testing.T, failOn string) (bin, logPath string) {
	t.Helper()
	dir := t.TempDir()
	bin = filepath.Join(dir, "tool")
	logPath = filepath.Join(dir, "args.log")

	script := "#!/bin/sh\necho \"$@\" >> " + logPath + "\n"
	if failOn != "" {
		script += "case \"$1\" in " + failOn + ") echo 'tool said no' >&2; exit 1;; esac\n"
	}
	script += "exit 0\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin, logPath
}

func calls(t *testing.T, logPath string) []string {
	t.Helper()
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read call log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestRunRelaysToolDiagnostics(t *testing.T) {
	err := run(context.Background(), Options{}, t.TempDir(),
		"/bin/sh", "-c", "echo resolver conflict detected >&2; exit 1")
	if !errors.Is(err, errors.ErrCodeBackendFailed) {
		t.Fatalf("err = %v, want %s", err, errors.ErrCodeBackendFailed)
	}
	if !strings.Contains(err.Error(), "resolver conflict detected") {
		t.Errorf("tool output not relayed: %v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	err := run(context.Background(), Options{Timeout: 50 * time.Millisecond}, t.TempDir(),
		"/bin/sh", "-c", "sleep 5")
	if !errors.Is(err, errors.ErrCodeBackendTimeout) {
		t.Fatalf("err = %v, want %s", err, errors.ErrCodeBackendTimeout)
	}
}

func TestEnvironAllowlist(t *testing.T) {
	t.Setenv("CARGO_HOME", "/opt/cargo")
	t.Setenv("POLYBUILD_TEST_SECRET", "do-not-forward")

	env := Options{}.environ()
	joined := strings.Join(env, "\n")
	if !strings.Contains(joined, "CARGO_HOME=/opt/cargo") {
		t.Errorf("allowlisted variable missing from %v", env)
	}
	if strings.Contains(joined, "POLYBUILD_TEST_SECRET") {
		t.Errorf("non-allowlisted variable forwarded: %v", env)
	}
}

func TestPoetryInstallRelocksStaleLock(t *testing.T) {
	pkg := testPkg(t, false)
	if err := os.WriteFile(filepath.Join(pkg.RootPath, lockFilename), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	bin, logPath := stubTool(t, "check")
	p := &Poetry{Bin: bin}

	if err := p.Run(context.Background(), pkg, InstallEditable); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := calls(t, logPath)
	want := []string{"check --lock", "lock --no-update", "install"}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPoetryLockedInstallNeverRelocks(t *testing.T) {
	pkg := testPkg(t, false)
	if err := os.WriteFile(filepath.Join(pkg.RootPath, lockFilename), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	bin, logPath := stubTool(t, "check")
	p := &Poetry{Bin: bin}

	err := p.Run(context.Background(), pkg, InstallLocked)
	if !errors.Is(err, errors.ErrCodeBackendFailed) {
		t.Fatalf("Run = %v, want %s", err, errors.ErrCodeBackendFailed)
	}
	got := calls(t, logPath)
	if len(got) != 1 || got[0] != "check --lock" {
		t.Errorf("calls = %v, want only the lock check", got)
	}
}

func TestPoetryInstallWithoutLockSkipsCheck(t *testing.T) {
	pkg := testPkg(t, false)
	bin, logPath := stubTool(t, "")
	p := &Poetry{Bin: bin, Opts: Options{Quiet: true}}

	if err := p.Run(context.Background(), pkg, InstallEditable); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := calls(t, logPath)
	if len(got) != 1 || got[0] != "install -q" {
		t.Errorf("calls = %v, want [install -q]", got)
	}
}

func TestPoetryBuild(t *testing.T) {
	pkg := testPkg(t, false)
	bin, logPath := stubTool(t, "")
	p := &Poetry{Bin: bin}

	if err := p.Run(context.Background(), pkg, BuildArtifacts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := calls(t, logPath)
	if len(got) != 1 || got[0] != "build" {
		t.Errorf("calls = %v, want [build]", got)
	}
}

func TestMaturinModes(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{InstallEditable, "develop"},
		{InstallLocked, "develop --release --locked"},
		{BuildArtifacts, "build --release"},
	}
	for _, tt := range tests {
		pkg := testPkg(t, true)
		bin, logPath := stubTool(t, "")
		m := &Maturin{Bin: bin}

		if err := m.Run(context.Background(), pkg, tt.mode); err != nil {
			t.Fatalf("Run(%v): %v", tt.mode, err)
		}
		got := calls(t, logPath)
		if len(got) != 1 || got[0] != tt.want {
			t.Errorf("mode %v: calls = %v, want [%s]", tt.mode, got, tt.want)
		}
	}
}

func TestForPackage(t *testing.T) {
	poetry := &Poetry{}
	maturin := &Maturin{}

	if b := ForPackage(testPkg(t, false), poetry, maturin); b.Name() != "poetry" {
		t.Errorf("pure package routed to %s", b.Name())
	}
	if b := ForPackage(testPkg(t, true), poetry, maturin); b.Name() != "maturin" {
		t.Errorf("native package routed to %s", b.Name())
	}
}
