package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polyrepo-tools/polybuild/pkg/depgraph"
)

// graphCommand creates the graph command.
func (c *CLI) graphCommand() *cobra.Command {
	var (
		root      string
		groupsStr string
		output    string
		detailed  bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print or render the local dependency graph",
		Long: `Print the local dependency graph in topological order, or render it
to a file. The output format follows the file extension: .dot writes
Graphviz DOT, .svg renders through Graphviz.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := c.loadWorkspace(root, parseGroups(groupsStr), false)
			if err != nil {
				return err
			}
			if output != "" {
				return writeGraph(cmd.Context(), ws.graph, output, detailed)
			}
			printGraph(ws.graph)
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "cwd", ".", "repository root to operate on")
	cmd.Flags().StringVar(&groupsStr, "groups", "", "optional dependency groups to include (comma-separated, \"*\" for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the graph to a .dot or .svg file")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "include versions in rendered node labels")

	return cmd
}

// printGraph lists packages in topological order with their dependencies.
func printGraph(g *depgraph.Graph) {
	for _, name := range g.TopoOrder() {
		pkg, _ := g.Package(name)

		line := StyleHighlight.Render(name) + " " + StyleDim.Render(pkg.Version.String())
		if pkg.HasNativeExtension {
			line += " " + StyleWarning.Render("(native)")
		}
		fmt.Println(line)

		if deps := g.Dependencies(name); len(deps) > 0 {
			printDetail("%s %s", iconArrow, strings.Join(deps, ", "))
		}
	}
}

// writeGraph renders the graph to path, choosing the format by extension.
func writeGraph(ctx context.Context, g *depgraph.Graph, path string, detailed bool) error {
	dot := depgraph.ToDOT(g, depgraph.RenderOptions{Detailed: detailed})

	var data []byte
	switch ext := filepath.Ext(path); ext {
	case ".dot":
		data = []byte(dot)
	case ".svg":
		sp := newSpinnerWithContext(ctx, "rendering "+filepath.Base(path))
		sp.Start()
		svg, err := depgraph.RenderSVG(dot)
		if err != nil {
			sp.StopWithError("rendering failed")
			return err
		}
		sp.Stop()
		data = svg
	default:
		return fmt.Errorf("unsupported graph output format %q (use .dot or .svg)", ext)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	printFile(path)
	return nil
}
