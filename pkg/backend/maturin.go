package backend

import (
	"context"

	"github.com/polyrepo-tools/polybuild/pkg/manifest"
)

// Maturin drives the maturin CLI for packages with compiled extension
// modules (PyO3 and friends).
type Maturin struct {
	// Bin is the maturin executable; empty means "maturin" on PATH.
	Bin  string
	Opts Options
}

// Name implements [Backend].
func (m *Maturin) Name() string { return "maturin" }

func (m *Maturin) bin() string {
	if m.Bin != "" {
		return m.Bin
	}
	return "maturin"
}

// Run implements [Backend]. Editable installs compile into the active
// virtualenv via "maturin develop"; builds produce release wheels.
func (m *Maturin) Run(ctx context.Context, pkg *manifest.Package, mode Mode) error {
	switch mode {
	case BuildArtifacts:
		return run(ctx, m.Opts, pkg.RootPath, m.bin(), m.flags("build", "--release")...)
	case InstallLocked:
		return run(ctx, m.Opts, pkg.RootPath, m.bin(), m.flags("develop", "--release", "--locked")...)
	default:
		return run(ctx, m.Opts, pkg.RootPath, m.bin(), m.flags("develop")...)
	}
}

func (m *Maturin) flags(args ...string) []string {
	if m.Opts.Quiet {
		args = append(args, "-q")
	}
	return args
}
