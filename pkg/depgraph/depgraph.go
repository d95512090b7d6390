// Package depgraph builds the directed dependency graph over discovered
// packages and exposes the ordered traversals every other component relies
// on.
//
// Edges run depender → dependee and exist only for local-path dependencies
// whose target was discovered; published dependencies resolve externally and
// contribute no edge. The graph is rebuilt from on-disk state for every
// command invocation and never mutated in place: after a manifest edit the
// caller must re-discover before trusting a graph again.
package depgraph

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
	"github.com/polyrepo-tools/polybuild/pkg/manifest"
	"github.com/polyrepo-tools/polybuild/pkg/semver"
)

// Options configures graph construction.
type Options struct {
	// Groups selects the optional dependency groups whose local
	// dependencies contribute edges; "*" selects all groups. The main
	// dependency group always contributes.
	Groups []string
}

// Graph is the dependency DAG over one discovery set. It is read-only after
// Build and safe for concurrent readers.
type Graph struct {
	pkgs     map[string]*manifest.Package
	outgoing map[string][]string // depender -> dependees, sorted
	incoming map[string][]string // dependee -> dependers, sorted
}

// Build constructs the graph for the discovered package set.
//
// A local-path dependency naming a package outside the discovery set is a
// dangling reference and fails construction: silently dropping the edge
// would corrupt every downstream ordering. A dependency cycle also fails
// construction, reporting the full cycle path.
func Build(pkgs map[string]*manifest.Package, opts Options) (*Graph, error) {
	g := &Graph{
		pkgs:     pkgs,
		outgoing: make(map[string][]string, len(pkgs)),
		incoming: make(map[string][]string, len(pkgs)),
	}

	for _, name := range sortedNames(pkgs) {
		pkg := pkgs[name]
		for _, dep := range pkg.AllDependencies(opts.Groups) {
			if dep.Kind != manifest.KindLocalPath {
				continue
			}
			if _, ok := pkgs[dep.Name]; !ok {
				return nil, errors.New(errors.ErrCodeGraphDangling,
					"package %q (%s) declares local dependency %q at %q, but no such package was discovered",
					pkg.Name, pkg.RootPath, dep.Name, dep.Path)
			}
			if slices.Contains(g.outgoing[name], dep.Name) {
				continue
			}
			g.outgoing[name] = append(g.outgoing[name], dep.Name)
			g.incoming[dep.Name] = append(g.incoming[dep.Name], name)
		}
	}

	for name := range g.outgoing {
		sort.Strings(g.outgoing[name])
	}
	for name := range g.incoming {
		sort.Strings(g.incoming[name])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, errors.New(errors.ErrCodeGraphCycle,
			"dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return g, nil
}

// Package returns the named package and true if it is part of the graph.
func (g *Graph) Package(name string) (*manifest.Package, bool) {
	pkg, ok := g.pkgs[name]
	return pkg, ok
}

// Packages returns all packages sorted by name.
func (g *Graph) Packages() []*manifest.Package {
	out := make([]*manifest.Package, 0, len(g.pkgs))
	for _, name := range sortedNames(g.pkgs) {
		out = append(out, g.pkgs[name])
	}
	return out
}

// Names returns all package names, sorted.
func (g *Graph) Names() []string { return sortedNames(g.pkgs) }

// Len returns the number of packages in the graph.
func (g *Graph) Len() int { return len(g.pkgs) }

// Dependencies returns the direct local dependencies of name, sorted.
// The returned slice is a read-only view.
func (g *Graph) Dependencies(name string) []string { return g.outgoing[name] }

// Dependents returns the packages directly depending on name, sorted.
// The returned slice is a read-only view.
func (g *Graph) Dependents(name string) []string { return g.incoming[name] }

// TopoOrder returns a linear extension of the DAG: every package appears
// after all of its local dependencies. Independent packages are ordered by
// name, so repeated runs over the same tree produce identical sequences.
func (g *Graph) TopoOrder() []string {
	// Kahn's algorithm over remaining dependency counts, with the ready
	// set kept sorted for deterministic output.
	remaining := make(map[string]int, len(g.pkgs))
	var ready []string
	for _, name := range sortedNames(g.pkgs) {
		remaining[name] = len(g.outgoing[name])
		if remaining[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(g.pkgs))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, dependent := range g.incoming[name] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				idx, _ := slices.BinarySearch(ready, dependent)
				ready = slices.Insert(ready, idx, dependent)
			}
		}
	}
	return order
}

// ReverseTopoOrder returns TopoOrder reversed: dependents before
// dependencies.
func (g *Graph) ReverseTopoOrder() []string {
	order := g.TopoOrder()
	slices.Reverse(order)
	return order
}

// Closure returns names plus every package transitively reachable along
// dependency edges (the forward-reachable set), i.e. everything that must be
// present for the named packages to work.
func (g *Graph) Closure(names []string) map[string]bool {
	return g.reach(names, g.outgoing)
}

// Ancestors returns names plus every package that transitively depends on
// any of them (the reverse-reachable set): the packages affected when one of
// names changes.
func (g *Graph) Ancestors(names []string) map[string]bool {
	return g.reach(names, g.incoming)
}

func (g *Graph) reach(names []string, adj map[string][]string) map[string]bool {
	seen := make(map[string]bool, len(names))
	stack := append([]string(nil), names...)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[name] {
			continue
		}
		seen[name] = true
		stack = append(stack, adj[name]...)
	}
	return seen
}

// Subgraph returns the graph induced by keep: only packages in keep remain,
// along with edges between them. Edges leaving the set are dropped, which is
// what the no-transitive-deps install mode relies on.
func (g *Graph) Subgraph(keep map[string]bool) *Graph {
	sub := &Graph{
		pkgs:     make(map[string]*manifest.Package, len(keep)),
		outgoing: make(map[string][]string),
		incoming: make(map[string][]string),
	}
	for name := range keep {
		if pkg, ok := g.pkgs[name]; ok {
			sub.pkgs[name] = pkg
		}
	}
	for name := range sub.pkgs {
		for _, dep := range g.outgoing[name] {
			if keep[dep] {
				sub.outgoing[name] = append(sub.outgoing[name], dep)
				sub.incoming[dep] = append(sub.incoming[dep], name)
			}
		}
	}
	for name := range sub.incoming {
		sort.Strings(sub.incoming[name])
	}
	return sub
}

// findCycle returns the node sequence of one dependency cycle (closed: the
// first element repeats at the end), or nil when the graph is acyclic.
// Detection is depth-first with white/gray/black coloring; hitting a gray
// node closes a cycle.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)

	color := make(map[string]int, len(g.pkgs))
	var stack []string
	var cycle []string

	var dfs func(name string) bool
	dfs = func(name string) bool {
		color[name] = gray
		stack = append(stack, name)
		for _, child := range g.outgoing[name] {
			switch color[child] {
			case white:
				if dfs(child) {
					return true
				}
			case gray:
				start := slices.Index(stack, child)
				cycle = append(append([]string(nil), stack[start:]...), child)
				return true
			}
		}
		color[name] = black
		stack = stack[:len(stack)-1]
		return false
	}

	for _, name := range sortedNames(g.pkgs) {
		if color[name] == white {
			if dfs(name) {
				return cycle
			}
		}
	}
	return nil
}

// Validate re-checks every local constraint against the current package
// versions, returning one error per violated edge joined together. It is
// used after a bump to prove the staged edits left the graph consistent.
func (g *Graph) Validate() error {
	var violations []string
	for _, name := range sortedNames(g.pkgs) {
		pkg := g.pkgs[name]
		for _, depName := range g.outgoing[name] {
			dep, ok := pkg.Dependency(depName)
			if !ok {
				continue
			}
			target := g.pkgs[depName]
			c, err := semver.ParseConstraint(dep.Constraint)
			if err != nil {
				violations = append(violations, fmt.Sprintf("%s -> %s: %v", name, depName, err))
				continue
			}
			if !semver.Satisfies(target.Version, c) {
				violations = append(violations,
					fmt.Sprintf("%s requires %s %s but found %s", name, depName, dep.Constraint, target.Version))
			}
		}
	}
	if len(violations) > 0 {
		return errors.New(errors.ErrCodeInvalidConstraint, "%s", strings.Join(violations, "; "))
	}
	return nil
}

func sortedNames(pkgs map[string]*manifest.Package) []string {
	names := make([]string, 0, len(pkgs))
	for name := range pkgs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
