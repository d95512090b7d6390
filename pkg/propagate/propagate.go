// Package propagate stages and applies version bumps across the monorepo.
//
// A bump changes the version of one or more target packages and widens the
// local-dependency constraints of every package that would otherwise reject
// the new version. All edits are computed in memory against loaded manifest
// documents before the first byte is written, so a failed plan touches
// nothing on disk.
package propagate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/polyrepo-tools/polybuild/pkg/depgraph"
	"github.com/polyrepo-tools/polybuild/pkg/errors"
	"github.com/polyrepo-tools/polybuild/pkg/manifest"
	"github.com/polyrepo-tools/polybuild/pkg/semver"
)

// Bump describes one requested version change. Either Version is set
// explicitly or Kind selects a relative increment of the current version.
type Bump struct {
	Target  string
	Version semver.Version  // explicit new version; zero means use Kind
	Kind    semver.BumpKind // relative increment, used when Version is zero
	Label   string          // prerelease label for BumpPrerelease, "" for default
}

// EditKind distinguishes the two manifest mutations a plan can contain.
type EditKind int

const (
	// EditVersion rewrites the version key of a target package.
	EditVersion EditKind = iota
	// EditConstraint widens a dependent's constraint on a target.
	EditConstraint
)

// Edit is one staged manifest mutation.
type Edit struct {
	Kind       EditKind
	Package    string // manifest owner
	Dependency string // constrained target, set for EditConstraint
	Old        string // previous version or constraint
	New        string // replacement version or constraint
}

func (e Edit) String() string {
	if e.Kind == EditVersion {
		return fmt.Sprintf("%s: version %s -> %s", e.Package, e.Old, e.New)
	}
	return fmt.Sprintf("%s: constraint on %s %q -> %q", e.Package, e.Dependency, e.Old, e.New)
}

// Plan holds a fully staged set of manifest edits, ready to apply.
type Plan struct {
	// Versions maps each bump target to its resolved new version.
	Versions map[string]semver.Version
	// Edits lists every staged mutation in application order: targets
	// first, then dependents in topological order.
	Edits []Edit

	docs  map[string]*manifest.Document // package name -> edited document
	order []string                      // package names in write order
}

// Compute resolves the requested bumps against the graph and stages every
// manifest edit the bumps require. Nothing is written to disk.
//
// A bump target that is not part of the graph is a hard error: guessing at
// a near-miss name would rewrite the wrong manifests.
func Compute(g *depgraph.Graph, bumps []Bump) (*Plan, error) {
	if len(bumps) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no bump targets given")
	}

	plan := &Plan{
		Versions: make(map[string]semver.Version, len(bumps)),
		docs:     make(map[string]*manifest.Document),
	}

	for _, b := range bumps {
		name := manifest.Normalize(b.Target)
		pkg, ok := g.Package(name)
		if !ok {
			return nil, errors.New(errors.ErrCodePackageNotFound,
				"bump target %q is not a package in this repository", b.Target)
		}
		if _, dup := plan.Versions[name]; dup {
			return nil, errors.New(errors.ErrCodeInvalidInput, "package %q bumped twice", name)
		}

		next := b.Version
		if next.IsZero() {
			var err error
			next, err = semver.Bump(pkg.Version, b.Kind, b.Label)
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodePropagation, err, "bump %s", name)
			}
		}
		if semver.Compare(next, pkg.Version) == 0 {
			return nil, errors.New(errors.ErrCodeInvalidVersion,
				"package %q is already at version %s", name, next)
		}
		plan.Versions[name] = next
	}

	if err := plan.stage(g); err != nil {
		return nil, err
	}
	return plan, nil
}

// stage loads the affected manifests and applies every edit in memory.
func (p *Plan) stage(g *depgraph.Graph) error {
	targets := make([]string, 0, len(p.Versions))
	for name := range p.Versions {
		targets = append(targets, name)
	}
	sort.Strings(targets)

	affected := g.Ancestors(targets)

	// Version edits first, one per target, in name order.
	for _, name := range targets {
		pkg, _ := g.Package(name)
		doc, err := p.document(pkg)
		if err != nil {
			return err
		}
		next := p.Versions[name]
		if err := doc.SetVersion(next.String()); err != nil {
			return errors.Wrap(errors.ErrCodePropagation, err, "set version of %s", name)
		}
		p.Edits = append(p.Edits, Edit{
			Kind:    EditVersion,
			Package: name,
			Old:     pkg.Version.String(),
			New:     next.String(),
		})
	}

	// Constraint edits follow the topological order so the plan reads
	// bottom-up, the same order installs run in.
	for _, name := range g.TopoOrder() {
		if !affected[name] {
			continue
		}
		pkg, _ := g.Package(name)
		for _, depName := range g.Dependencies(name) {
			next, bumped := p.Versions[depName]
			if !bumped {
				continue
			}
			dep, ok := pkg.Dependency(depName)
			if !ok {
				continue
			}

			widened, changed, err := semver.Widen(dep.Constraint, next)
			if err != nil {
				return errors.Wrap(errors.ErrCodePropagation, err,
					"widen %s's constraint on %s", name, depName)
			}
			if !changed {
				continue
			}

			doc, err := p.document(pkg)
			if err != nil {
				return err
			}
			ok, err = doc.SetConstraint(depName, widened)
			if err != nil {
				return errors.Wrap(errors.ErrCodePropagation, err,
					"rewrite %s's constraint on %s", name, depName)
			}
			if !ok {
				// Declared without a version key; nothing to widen.
				continue
			}
			p.Edits = append(p.Edits, Edit{
				Kind:       EditConstraint,
				Package:    name,
				Dependency: depName,
				Old:        dep.Constraint,
				New:        widened,
			})
		}
	}
	return nil
}

// document returns the staged document for pkg, loading it on first use.
func (p *Plan) document(pkg *manifest.Package) (*manifest.Document, error) {
	if doc, ok := p.docs[pkg.Name]; ok {
		return doc, nil
	}
	doc, err := manifest.LoadDocument(pkg.ManifestPath())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePropagation, err, "load manifest of %s", pkg.Name)
	}
	p.docs[pkg.Name] = doc
	p.order = append(p.order, pkg.Name)
	return doc, nil
}

// Manifests returns the paths of every manifest the plan would rewrite,
// sorted, for display and for failure reports.
func (p *Plan) Manifests() []string {
	paths := make([]string, 0, len(p.docs))
	for _, doc := range p.docs {
		paths = append(paths, doc.Path())
	}
	sort.Strings(paths)
	return paths
}

// Empty reports whether the plan contains no edits.
func (p *Plan) Empty() bool { return len(p.Edits) == 0 }

// Apply writes every staged manifest. Each file is replaced atomically; on
// the first write failure Apply stops and reports both the failure and the
// full set of manifests the plan covers, since files written before the
// failure have already changed on disk.
func (p *Plan) Apply() error {
	for _, name := range p.order {
		if err := p.docs[name].Save(); err != nil {
			return errors.Wrap(errors.ErrCodePropagation, err,
				"aborted while writing %s; plan covered: %s",
				name, strings.Join(p.Manifests(), ", "))
		}
	}
	return nil
}
