// Package pkg provides the core libraries for Polybuild monorepo orchestration.
//
// # Overview
//
// Polybuild discovers Python packages inside a monorepo, links them through
// their path dependencies, and runs build tooling across the resulting graph
// in dependency order. The pkg directory is organized into five main areas:
//
//  1. [manifest] - pyproject.toml parsing and format-preserving editing
//  2. [discover] + [depgraph] - workspace scanning and graph construction
//  3. [semver] + [propagate] - version math and cascading bump plans
//  4. [runner] + [backend] - topological execution of poetry/maturin
//  5. [config] + [lockfile] + [observability] - workspace plumbing
//
// # Architecture
//
// The typical data flow through Polybuild:
//
//	Monorepo on disk
//	         ↓
//	    [discover] package (walk + parse pyproject.toml manifests)
//	         ↓
//	    [depgraph] package (local-path edges, cycle check, topo order)
//	         ↓
//	    [runner] package (parallel scheduling, failure isolation)
//	         ↓
//	    [backend] package (poetry install / maturin develop per package)
//
// Version bumps take a parallel path: [semver] computes the next version,
// [propagate] plans every manifest edit the bump implies, and [manifest]
// applies the edits without disturbing unrelated file content.
//
// # Quick Start
//
// Discover a workspace and install it in dependency order:
//
//	import (
//	    "context"
//	    "github.com/polyrepo-tools/polybuild/pkg/backend"
//	    "github.com/polyrepo-tools/polybuild/pkg/depgraph"
//	    "github.com/polyrepo-tools/polybuild/pkg/discover"
//	    "github.com/polyrepo-tools/polybuild/pkg/runner"
//	)
//
//	// 1. Scan the repository for pyproject.toml manifests
//	pkgs, _ := discover.Discover(root, discover.Options{})
//
//	// 2. Link packages through their local path dependencies
//	g, _ := depgraph.Build(pkgs, depgraph.Options{})
//
//	// 3. Pick a backend per package and run in topological order
//	poetry, maturin := backend.NewPoetry(backend.Options{}), backend.NewMaturin(backend.Options{})
//	report := runner.Run(context.Background(), g, runner.Options{Operation: "install"},
//	    func(ctx context.Context, p *manifest.Package) error {
//	        return backend.ForPackage(p, poetry, maturin).Run(ctx, p, backend.InstallEditable)
//	    })
//
// # Main Packages
//
// ## Workspace Model
//
// [manifest] - Parses pyproject.toml into Package values (name, version,
// dependency groups, native-extension marker) and edits manifests in place
// while preserving formatting, comments, and key order.
//
// [discover] - Concurrent repository walk that locates manifests, parses
// them, and indexes packages by normalized name. Honors ignore rules from
// configuration and reports duplicate package names.
//
// [depgraph] - Directed graph over local path dependencies. Provides cycle
// detection with the offending path, deterministic topological order,
// closures and ancestor sets, subgraph restriction, and Graphviz export.
//
// ## Versioning
//
// [semver] - Version parsing, bump arithmetic (major/minor/patch/pre), and
// constraint handling including the widening rules used after a bump.
//
// [propagate] - Plans a version bump as a set of staged manifest edits:
// the target's version field plus every dependent constraint the new
// version violates. Nothing touches disk until the plan is applied.
//
// ## Execution
//
// [runner] - Schedules one task per package across a worker pool, releasing
// each package only after its dependencies succeed. A failure blocks its
// transitive dependents while independent subgraphs keep running.
//
// [backend] - Subprocess adapters for poetry and maturin with a scrubbed
// environment, per-command timeouts, and captured diagnostics. Packages
// built with maturin are routed automatically.
//
// ## Plumbing
//
// [config] - Optional polybuild.toml at the scan root: ignore rules,
// parallelism, backend binaries, and timeouts.
//
// [lockfile] - Repository-level advisory lock so concurrent polybuild
// invocations do not interleave manifest writes. Stale locks left by dead
// processes are reclaimed.
//
// [observability] - Hook interfaces for discovery, execution, and backend
// events with no-op defaults. The CLI registers logger-backed hooks; library
// consumers may register their own.
//
// [errors] - Structured error codes shared across packages so callers can
// branch on failure class rather than message text.
//
// # Testing
//
// Run tests:
//
//	go test ./pkg/...          # All tests
//	go test ./pkg/depgraph/... # Specific package
//	go test ./internal/cli/... # CLI integration tests (stubbed backends)
//
// [manifest]: https://pkg.go.dev/github.com/polyrepo-tools/polybuild/pkg/manifest
// [discover]: https://pkg.go.dev/github.com/polyrepo-tools/polybuild/pkg/discover
// [depgraph]: https://pkg.go.dev/github.com/polyrepo-tools/polybuild/pkg/depgraph
// [semver]: https://pkg.go.dev/github.com/polyrepo-tools/polybuild/pkg/semver
// [propagate]: https://pkg.go.dev/github.com/polyrepo-tools/polybuild/pkg/propagate
// [runner]: https://pkg.go.dev/github.com/polyrepo-tools/polybuild/pkg/runner
// [backend]: https://pkg.go.dev/github.com/polyrepo-tools/polybuild/pkg/backend
// [config]: https://pkg.go.dev/github.com/polyrepo-tools/polybuild/pkg/config
// [lockfile]: https://pkg.go.dev/github.com/polyrepo-tools/polybuild/pkg/lockfile
// [observability]: https://pkg.go.dev/github.com/polyrepo-tools/polybuild/pkg/observability
// [errors]: https://pkg.go.dev/github.com/polyrepo-tools/polybuild/pkg/errors
package pkg
