// Package backend invokes the external build tools that actually install and
// build packages. Per-package build logic stays outside this codebase: a
// backend is a subprocess contract, and its diagnostics are relayed to the
// user verbatim.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
	"github.com/polyrepo-tools/polybuild/pkg/manifest"
	"github.com/polyrepo-tools/polybuild/pkg/observability"
)

// Mode selects what a backend invocation does for a package.
type Mode int

const (
	// InstallEditable installs the package with its local dependencies in
	// editable (development) mode.
	InstallEditable Mode = iota
	// InstallLocked installs strictly from the package's lock file.
	InstallLocked
	// BuildArtifacts produces distributable artifacts without installing.
	BuildArtifacts
)

func (m Mode) String() string {
	switch m {
	case InstallLocked:
		return "install (locked)"
	case BuildArtifacts:
		return "build"
	default:
		return "install"
	}
}

// Backend runs one build tool against a package directory.
type Backend interface {
	// Name identifies the backend in logs and reports.
	Name() string
	// Run executes the given mode in the package's root directory.
	Run(ctx context.Context, pkg *manifest.Package, mode Mode) error
}

// passthroughEnvs lists the caller environment variables forwarded to
// backend subprocesses. Everything else is stripped so a build cannot
// silently depend on ambient state; the compiler and linker variables are
// needed for packages with native extensions.
var passthroughEnvs = []string{
	"PATH",
	"HOME",
	"VIRTUAL_ENV",
	"CC",
	"CXX",
	"LIBCLANG_PATH",
	"LD_LIBRARY_PATH",
	"C_INCLUDE_PATH",
	"CPLUS_INCLUDE_PATH",
	"CARGO_HOME",
	"RUSTUP_HOME",
}

// Options configures subprocess execution shared by all backends.
type Options struct {
	// Timeout bounds a single invocation; zero means no limit.
	Timeout time.Duration
	// Quiet passes the tool's quiet flag where one exists.
	Quiet bool
	// Env overrides the forwarded environment for tests; nil uses the
	// passthrough allowlist against the current process environment.
	Env []string
}

// environ builds the allowlisted subprocess environment.
func (o Options) environ() []string {
	if o.Env != nil {
		return o.Env
	}
	env := make([]string, 0, len(passthroughEnvs))
	for _, key := range passthroughEnvs {
		if value, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+value)
		}
	}
	return env
}

// run executes tool with args in dir, relaying combined output on failure.
func run(ctx context.Context, opts Options, dir, tool string, args ...string) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	observability.Backend().OnCommandStart(ctx, tool, args, dir)
	start := time.Now()

	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Dir = dir
	cmd.Env = opts.environ()

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	observability.Backend().OnCommandComplete(ctx, tool, args, time.Since(start), err)
	if err == nil {
		return nil
	}

	cmdline := tool + " " + strings.Join(args, " ")
	if ctx.Err() == context.DeadlineExceeded {
		return errors.New(errors.ErrCodeBackendTimeout,
			"%q in %s exceeded %s", cmdline, dir, opts.Timeout)
	}

	// The tool's own diagnostics are the useful part; pass them through
	// untouched.
	msg := fmt.Sprintf("%q in %s: %v", cmdline, dir, err)
	if out := strings.TrimSpace(output.String()); out != "" {
		msg += "\n" + out
	}
	return errors.New(errors.ErrCodeBackendFailed, "%s", msg)
}

// ForPackage returns the backend matching the package's build system:
// maturin for native extension packages, poetry for everything else.
func ForPackage(pkg *manifest.Package, poetry *Poetry, maturin *Maturin) Backend {
	if pkg.HasNativeExtension {
		return maturin
	}
	return poetry
}
