package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
	"github.com/polyrepo-tools/polybuild/pkg/lockfile"
	"github.com/polyrepo-tools/polybuild/pkg/propagate"
	"github.com/polyrepo-tools/polybuild/pkg/semver"
)

// bumpCommand creates the bump command.
func (c *CLI) bumpCommand() *cobra.Command {
	var (
		root     string
		major    bool
		minor    bool
		patch    bool
		pre      bool
		preLabel string
		explicit string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "bump [packages...]",
		Short: "Raise package versions and widen dependent constraints",
		Long: `Raise the version of one or more packages and rewrite the version
constraints of every package that would otherwise reject the new version.

All manifest edits are staged in memory and validated before anything is
written; a plan that cannot be completed leaves the repository untouched.
Constraints that already admit the new version keep their exact spelling.

Without arguments, an interactive package picker opens.`,
		ValidArgsFunction: c.packageCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := bumpKind(major, minor, patch, pre)
			if err != nil {
				return err
			}
			if explicit != "" && len(args) != 1 {
				return errors.New(errors.ErrCodeInvalidInput, "--version requires exactly one package")
			}

			ws, err := c.loadWorkspace(root, []string{"*"}, false)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				name, err := pickPackage(ws.graph)
				if err != nil {
					return err
				}
				if name == "" {
					return nil // picker dismissed
				}
				args = []string{name}
			}

			bumps := make([]propagate.Bump, 0, len(args))
			for _, target := range args {
				b := propagate.Bump{Target: target, Kind: kind, Label: preLabel}
				if explicit != "" {
					v, err := semver.ParseVersion(explicit)
					if err != nil {
						return err
					}
					b.Version = v
				}
				bumps = append(bumps, b)
			}

			plan, err := propagate.Compute(ws.graph, bumps)
			if err != nil {
				return err
			}

			for _, edit := range plan.Edits {
				printEdit(edit.Package, edit.String())
			}
			if dryRun {
				printInfo("dry run: %d edits staged across %d manifests, nothing written",
					len(plan.Edits), len(plan.Manifests()))
				return nil
			}

			lock, err := lockfile.Acquire(ws.cfg.Root, "bump")
			if err != nil {
				return err
			}
			defer lock.Release()

			if err := plan.Apply(); err != nil {
				return err
			}
			for _, path := range plan.Manifests() {
				printFile(path)
			}
			printSuccess("bumped %d packages, rewrote %d manifests", len(plan.Versions), len(plan.Manifests()))
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "cwd", ".", "repository root to operate on")
	cmd.Flags().BoolVar(&major, "major", false, "increment the major version")
	cmd.Flags().BoolVar(&minor, "minor", false, "increment the minor version")
	cmd.Flags().BoolVar(&patch, "patch", false, "increment the patch version (default)")
	cmd.Flags().BoolVar(&pre, "pre", false, "increment or start a prerelease")
	cmd.Flags().StringVar(&preLabel, "pre-label", "", "prerelease label for --pre (default rc)")
	cmd.Flags().StringVar(&explicit, "version", "", "set an explicit version (single package only)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "stage and print the edits without writing")

	return cmd
}

// bumpKind maps the mutually exclusive kind flags to a BumpKind.
func bumpKind(major, minor, patch, pre bool) (semver.BumpKind, error) {
	set := 0
	kind := semver.BumpPatch
	if major {
		set++
		kind = semver.BumpMajor
	}
	if minor {
		set++
		kind = semver.BumpMinor
	}
	if patch {
		set++
		kind = semver.BumpPatch
	}
	if pre {
		set++
		kind = semver.BumpPrerelease
	}
	if set > 1 {
		return 0, fmt.Errorf("--major, --minor, --patch and --pre are mutually exclusive")
	}
	return kind, nil
}
