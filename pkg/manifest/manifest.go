// Package manifest provides the typed in-memory model of one package's
// pyproject.toml: its identity, version, dependency declarations, optional
// dependency groups, and the native-extension marker.
//
// Parsing follows a parse-don't-validate approach: Load rejects malformed
// documents at the boundary and returns a fully validated Package, so the
// graph and orchestration layers never see ambiguous data.
//
// Write-back for bump and add operations is handled by [Document], which
// applies diff-minimizing line edits to the original text instead of
// regenerating the file.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
	"github.com/polyrepo-tools/polybuild/pkg/semver"
)

// Filename is the manifest file recognized during discovery.
const Filename = "pyproject.toml"

// DependencyKind discriminates how a dependency is resolved.
type DependencyKind int

const (
	// KindPublished resolves against a package index by version range.
	KindPublished DependencyKind = iota
	// KindLocalPath resolves to another package inside the monorepo.
	KindLocalPath
)

// String returns "published" or "local".
func (k DependencyKind) String() string {
	if k == KindLocalPath {
		return "local"
	}
	return "published"
}

// Dependency is one declared dependency edge.
type Dependency struct {
	Name       string         // normalized target name
	Kind       DependencyKind // path-based vs version-range-based
	Constraint string         // version range; "*" when the declaration has none
	Path       string         // relative path, set only for KindLocalPath
	Develop    bool           // editable flag on local-path declarations
	Optional   bool           // marked optional in the manifest
	Group      string         // optional-dependency group, "" for the main group
}

// Package is the validated in-memory representation of one manifest.
type Package struct {
	Name     string // normalized package name
	Version  semver.Version
	RootPath string // canonical absolute directory containing the manifest

	// Dependencies holds the main dependency group, sorted by name.
	// Target names are unique within the group.
	Dependencies []Dependency

	// Groups maps optional-dependency group names to their dependencies,
	// each sorted by name. Local dependencies inside a group only
	// contribute graph edges when the operation context includes it.
	Groups map[string][]Dependency

	// HasNativeExtension is set when the build backend is maturin, i.e.
	// the package carries a compiled extension module that must be built
	// after its local dependencies are available.
	HasNativeExtension bool
}

// ManifestPath returns the absolute path of the package's manifest file.
func (p *Package) ManifestPath() string {
	return filepath.Join(p.RootPath, Filename)
}

// Dependency returns the declared dependency on target (searching the main
// group first, then optional groups in sorted order) and true if found.
func (p *Package) Dependency(target string) (Dependency, bool) {
	target = Normalize(target)
	for _, d := range p.Dependencies {
		if d.Name == target {
			return d, true
		}
	}
	for _, group := range sortedKeys(p.Groups) {
		for _, d := range p.Groups[group] {
			if d.Name == target {
				return d, true
			}
		}
	}
	return Dependency{}, false
}

// AllDependencies returns the main group followed by every optional group
// whose name is in groups ("*" selects all groups).
func (p *Package) AllDependencies(groups []string) []Dependency {
	out := make([]Dependency, 0, len(p.Dependencies))
	out = append(out, p.Dependencies...)

	all := len(groups) == 1 && groups[0] == "*"
	want := make(map[string]bool, len(groups))
	for _, g := range groups {
		want[g] = true
	}
	for _, name := range sortedKeys(p.Groups) {
		if all || want[name] {
			out = append(out, p.Groups[name]...)
		}
	}
	return out
}

// normalizeRe collapses runs of separator characters per PEP 503.
var normalizeRe = regexp.MustCompile(`[-_.]+`)

// Normalize lowercases a package name and collapses separator runs to a
// single hyphen, so "My_Pkg" and "my-pkg" denote the same package.
func Normalize(name string) string {
	return normalizeRe.ReplaceAllString(strings.ToLower(name), "-")
}

// pyproject mirrors the subset of pyproject.toml that polybuild reads.
type pyproject struct {
	Tool struct {
		Poetry struct {
			Name         string         `toml:"name"`
			Version      string         `toml:"version"`
			Dependencies map[string]any `toml:"dependencies"`
			Group        map[string]struct {
				Dependencies map[string]any `toml:"dependencies"`
			} `toml:"group"`
		} `toml:"poetry"`
	} `toml:"tool"`
	BuildSystem struct {
		Requires     []string `toml:"requires"`
		BuildBackend string   `toml:"build-backend"`
	} `toml:"build-system"`
}

// Load reads and validates the manifest at dir/pyproject.toml.
// RootPath is set to the symlink-resolved absolute form of dir so two
// discoveries of the same physical package compare equal.
func Load(dir string) (*Package, error) {
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiscoveryIO, err, "resolve %s", dir)
	}
	canonical, err = filepath.Abs(canonical)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiscoveryIO, err, "resolve %s", dir)
	}

	path := filepath.Join(canonical, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiscoveryIO, err, "read %s", path)
	}
	return parse(data, canonical)
}

func parse(data []byte, rootPath string) (*Package, error) {
	path := filepath.Join(rootPath, Filename)

	var doc pyproject
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiscoveryManifest, err, "parse %s", path)
	}

	poetry := doc.Tool.Poetry
	if poetry.Name == "" {
		return nil, errors.New(errors.ErrCodeDiscoveryManifest, "%s: missing tool.poetry.name", path)
	}
	name := Normalize(poetry.Name)
	if err := errors.ValidatePackageName(name); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiscoveryManifest, err, "%s", path)
	}

	version, err := semver.ParseVersion(poetry.Version)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiscoveryManifest, err, "%s: tool.poetry.version", path)
	}

	pkg := &Package{
		Name:               name,
		Version:            version,
		RootPath:           rootPath,
		HasNativeExtension: strings.Contains(doc.BuildSystem.BuildBackend, "maturin"),
	}

	pkg.Dependencies, err = parseGroup(poetry.Dependencies, "", path)
	if err != nil {
		return nil, err
	}

	if len(poetry.Group) > 0 {
		pkg.Groups = make(map[string][]Dependency, len(poetry.Group))
		for groupName, group := range poetry.Group {
			deps, err := parseGroup(group.Dependencies, groupName, path)
			if err != nil {
				return nil, err
			}
			pkg.Groups[groupName] = deps
		}
	}

	return pkg, nil
}

func parseGroup(raw map[string]any, group, path string) ([]Dependency, error) {
	deps := make([]Dependency, 0, len(raw))
	for key, value := range raw {
		name := Normalize(key)
		if name == "python" {
			// Interpreter constraint, not a package dependency.
			continue
		}
		dep, err := parseDependency(name, value, group)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeDiscoveryManifest, err, "%s: dependency %q", path, key)
		}
		deps = append(deps, dep)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return deps, nil
}

func parseDependency(name string, value any, group string) (Dependency, error) {
	dep := Dependency{Name: name, Kind: KindPublished, Constraint: "*", Group: group}

	switch v := value.(type) {
	case string:
		if v == "" {
			return Dependency{}, fmt.Errorf("empty version constraint")
		}
		dep.Constraint = v

	case map[string]any:
		if path, ok := v["path"].(string); ok {
			if err := errors.ValidateRelPath(path); err != nil {
				return Dependency{}, err
			}
			dep.Kind = KindLocalPath
			dep.Path = path
		}
		if develop, ok := v["develop"].(bool); ok {
			dep.Develop = develop
		}
		if optional, ok := v["optional"].(bool); ok {
			dep.Optional = optional
		}
		if constraint, ok := v["version"].(string); ok && constraint != "" {
			dep.Constraint = constraint
		}
		if dep.Kind == KindPublished && dep.Constraint == "*" {
			return Dependency{}, fmt.Errorf("declaration has neither path nor version")
		}

	default:
		return Dependency{}, fmt.Errorf("unsupported declaration type %T", value)
	}

	if _, err := semver.ParseConstraint(dep.Constraint); err != nil {
		return Dependency{}, err
	}
	return dep, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
