package backend

import (
	"context"
	"os"
	"path/filepath"

	"github.com/polyrepo-tools/polybuild/pkg/manifest"
)

const lockFilename = "poetry.lock"

// Poetry drives the poetry CLI for pure-Python packages.
type Poetry struct {
	// Bin is the poetry executable; empty means "poetry" on PATH.
	Bin  string
	Opts Options
}

// Name implements [Backend].
func (p *Poetry) Name() string { return "poetry" }

func (p *Poetry) bin() string {
	if p.Bin != "" {
		return p.Bin
	}
	return "poetry"
}

// Run implements [Backend].
//
// Before an install touching dependencies, a stale lock file is re-locked in
// place: poetry refuses to install when pyproject.toml and poetry.lock
// disagree, and after a version bump they always disagree.
func (p *Poetry) Run(ctx context.Context, pkg *manifest.Package, mode Mode) error {
	if mode == BuildArtifacts {
		return run(ctx, p.Opts, pkg.RootPath, p.bin(), p.flags("build")...)
	}

	if p.hasLock(pkg) {
		if err := run(ctx, p.Opts, pkg.RootPath, p.bin(), p.flags("check", "--lock")...); err != nil {
			if mode == InstallLocked {
				// Locked installs never rewrite the lock file.
				return err
			}
			if err := run(ctx, p.Opts, pkg.RootPath, p.bin(), p.flags("lock", "--no-update")...); err != nil {
				return err
			}
		}
	}

	return run(ctx, p.Opts, pkg.RootPath, p.bin(), p.flags("install")...)
}

func (p *Poetry) flags(args ...string) []string {
	if p.Opts.Quiet {
		args = append(args, "-q")
	}
	return args
}

func (p *Poetry) hasLock(pkg *manifest.Package) bool {
	_, err := os.Stat(filepath.Join(pkg.RootPath, lockFilename))
	return err == nil
}
