package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polyrepo-tools/polybuild/pkg/backend"
	"github.com/polyrepo-tools/polybuild/pkg/lockfile"
	"github.com/polyrepo-tools/polybuild/pkg/manifest"
	"github.com/polyrepo-tools/polybuild/pkg/runner"
)

// installCommand creates the install command.
func (c *CLI) installCommand() *cobra.Command {
	var (
		root          string
		groupsStr     string
		parallel      int
		locked        bool
		noDeps        bool
		ignoreInvalid bool
	)

	cmd := &cobra.Command{
		Use:   "install [packages...]",
		Short: "Install packages and their local dependencies in order",
		Long: `Install packages and their local dependencies in dependency order.

Without arguments, every discovered package is installed. With arguments,
only the named packages and their transitive local dependencies are
installed; --no-deps restricts the run to the named packages alone.

Pure Python packages are installed with poetry, packages with compiled
extension modules with maturin. A failing package blocks its dependents
while unrelated packages keep installing.`,
		ValidArgsFunction: c.packageCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := backend.InstallEditable
			if locked {
				mode = backend.InstallLocked
			}
			return c.runBackendOp(cmd.Context(), backendOp{
				root:          root,
				operation:     "install",
				mode:          mode,
				targets:       args,
				groups:        parseGroups(groupsStr),
				parallel:      parallel,
				noDeps:        noDeps,
				ignoreInvalid: ignoreInvalid,
			})
		},
	}

	cmd.Flags().StringVar(&root, "cwd", ".", "repository root to operate on")
	cmd.Flags().StringVar(&groupsStr, "groups", "", "optional dependency groups to include (comma-separated, \"*\" for all)")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "worker count (default from config)")
	cmd.Flags().BoolVar(&locked, "locked", false, "install strictly from lock files, never re-lock")
	cmd.Flags().BoolVar(&noDeps, "no-deps", false, "install only the named packages, not their dependencies")
	cmd.Flags().BoolVar(&ignoreInvalid, "ignore-invalid-pkg", false, "skip unparseable manifests instead of failing")

	return cmd
}

// buildCommand creates the build command.
func (c *CLI) buildCommand() *cobra.Command {
	var (
		root          string
		groupsStr     string
		parallel      int
		ignoreInvalid bool
	)

	cmd := &cobra.Command{
		Use:   "build [packages...]",
		Short: "Build distributable artifacts in dependency order",
		Long: `Build distributable artifacts for packages in dependency order.

Without arguments, every discovered package is built. Packages with
compiled extension modules are built as release wheels with maturin,
everything else with poetry build.`,
		ValidArgsFunction: c.packageCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runBackendOp(cmd.Context(), backendOp{
				root:          root,
				operation:     "build",
				mode:          backend.BuildArtifacts,
				targets:       args,
				groups:        parseGroups(groupsStr),
				parallel:      parallel,
				ignoreInvalid: ignoreInvalid,
			})
		},
	}

	cmd.Flags().StringVar(&root, "cwd", ".", "repository root to operate on")
	cmd.Flags().StringVar(&groupsStr, "groups", "", "optional dependency groups to include (comma-separated, \"*\" for all)")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "worker count (default from config)")
	cmd.Flags().BoolVar(&ignoreInvalid, "ignore-invalid-pkg", false, "skip unparseable manifests instead of failing")

	return cmd
}

// backendOp is one dependency-ordered run of an external backend.
type backendOp struct {
	root          string
	operation     string
	mode          backend.Mode
	targets       []string
	groups        []string
	parallel      int
	noDeps        bool
	ignoreInvalid bool
}

// runBackendOp discovers the workspace, selects the requested subgraph, and
// executes the backend for every selected package under the repository lock.
func (c *CLI) runBackendOp(ctx context.Context, op backendOp) error {
	ws, err := c.loadWorkspace(op.root, op.groups, op.ignoreInvalid)
	if err != nil {
		return err
	}

	g := ws.graph
	if len(op.targets) > 0 {
		targets := make([]string, 0, len(op.targets))
		for _, target := range op.targets {
			name := manifest.Normalize(target)
			if _, ok := g.Package(name); !ok {
				return fmt.Errorf("package %q not found in %s", target, ws.cfg.Root)
			}
			targets = append(targets, name)
		}

		keep := make(map[string]bool, len(targets))
		for _, name := range targets {
			keep[name] = true
		}
		if !op.noDeps {
			keep = g.Closure(targets)
		}
		g = g.Subgraph(keep)
	}
	if g.Len() == 0 {
		printInfo("no packages to %s", op.operation)
		return nil
	}

	lock, err := lockfile.Acquire(ws.cfg.Root, op.operation)
	if err != nil {
		return err
	}
	defer lock.Release()

	quiet := c.Logger.GetLevel() != LogDebug
	poetry, maturin := ws.backends(quiet)
	report := runner.Run(ctx, g, func(ctx context.Context, pkg *manifest.Package) error {
		return backend.ForPackage(pkg, poetry, maturin).Run(ctx, pkg, op.mode)
	}, runner.Options{
		Operation: op.operation,
		Workers:   ws.parallelism(op.parallel),
	})

	printReport(report)
	return report.Err()
}
