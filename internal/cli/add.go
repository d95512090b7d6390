package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/polyrepo-tools/polybuild/pkg/depgraph"
	"github.com/polyrepo-tools/polybuild/pkg/errors"
	"github.com/polyrepo-tools/polybuild/pkg/lockfile"
	"github.com/polyrepo-tools/polybuild/pkg/manifest"
	"github.com/polyrepo-tools/polybuild/pkg/semver"
)

// addCommand creates the add command.
func (c *CLI) addCommand() *cobra.Command {
	var (
		root       string
		constraint string
		develop    bool
	)

	cmd := &cobra.Command{
		Use:   "add <package> <dependency>",
		Short: "Declare a new dependency in a package's manifest",
		Long: `Declare a new dependency in a package's manifest.

When the dependency names another package of the repository, it is added
as a local path dependency and the graph gains an edge. Otherwise it is
added as a published dependency with the given constraint (default "*").
Adding an already-declared dependency is a no-op.`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: c.packageCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := c.loadWorkspace(root, []string{"*"}, false)
			if err != nil {
				return err
			}

			owner, ok := ws.graph.Package(manifest.Normalize(args[0]))
			if !ok {
				return errors.New(errors.ErrCodePackageNotFound,
					"package %q not found in %s", args[0], ws.cfg.Root)
			}

			if constraint != "" {
				if _, err := semver.ParseConstraint(constraint); err != nil {
					return err
				}
			}

			depName := manifest.Normalize(args[1])
			dep := manifest.Dependency{Name: depName, Constraint: constraint}
			if target, local := ws.graph.Package(depName); local {
				rel, err := filepath.Rel(owner.RootPath, target.RootPath)
				if err != nil {
					return errors.Wrap(errors.ErrCodeInvalidPath, err,
						"relative path from %s to %s", owner.RootPath, target.RootPath)
				}
				dep.Kind = manifest.KindLocalPath
				dep.Path = filepath.ToSlash(rel)
				dep.Develop = develop
			} else if dep.Constraint == "" {
				dep.Constraint = "*"
			}

			// Prove the new edge keeps the graph acyclic before any
			// byte is written.
			if dep.Kind == manifest.KindLocalPath {
				if err := checkEdge(ws, owner, dep); err != nil {
					return err
				}
			}

			lock, err := lockfile.Acquire(ws.cfg.Root, "add")
			if err != nil {
				return err
			}
			defer lock.Release()

			doc, err := manifest.LoadDocument(owner.ManifestPath())
			if err != nil {
				return err
			}
			changed, err := doc.AddDependency(dep)
			if err != nil {
				return err
			}
			if !changed {
				printInfo("%s already depends on %s", owner.Name, depName)
				return nil
			}
			if err := doc.Save(); err != nil {
				return err
			}

			printFile(doc.Path())
			if dep.Kind == manifest.KindLocalPath {
				printSuccess("added local dependency %s (%s) to %s", depName, dep.Path, owner.Name)
			} else {
				printSuccess("added %s to %s", depName, owner.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "cwd", ".", "repository root to operate on")
	cmd.Flags().StringVar(&constraint, "constraint", "", `version constraint for a published dependency (default "*")`)
	cmd.Flags().BoolVar(&develop, "develop", true, "mark local path dependencies as editable")

	return cmd
}

// checkEdge rebuilds the graph with the candidate dependency added to owner,
// surfacing cycles without touching any manifest.
func checkEdge(ws *workspace, owner *manifest.Package, dep manifest.Dependency) error {
	trial := *owner
	trial.Dependencies = append(append([]manifest.Dependency(nil), owner.Dependencies...), dep)

	pkgs := make(map[string]*manifest.Package, len(ws.packages))
	for name, pkg := range ws.packages {
		pkgs[name] = pkg
	}
	pkgs[owner.Name] = &trial

	_, err := depgraph.Build(pkgs, depgraph.Options{Groups: []string{"*"}})
	return err
}
