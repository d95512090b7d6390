package propagate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/polyrepo-tools/polybuild/pkg/depgraph"
	"github.com/polyrepo-tools/polybuild/pkg/errors"
	"github.com/polyrepo-tools/polybuild/pkg/manifest"
	"github.com/polyrepo-tools/polybuild/pkg/semver"
)

const (
	coreManifest = `[tool.poetry]
name = "core"
version = "0.4.2"

[tool.poetry.dependencies]
requests = ">=2.28, <3.0"
`

	appManifest = `[tool.poetry]
name = "app"
version = "1.0.0"

[tool.poetry.dependencies]
core = { path = "../core", develop = true, version = ">=0.4, <0.5" }
`

	toolManifest = `[tool.poetry]
name = "tool"
version = "0.9.0"

[tool.poetry.dependencies]
core = { path = "../core", develop = true }
`
)

// setupRepo writes the fixture packages and builds their graph.
func setupRepo(t *testing.T) (string, *depgraph.Graph) {
	t.Helper()
	root := t.TempDir()
	// Canonicalize so paths match the canonical roots packages report.
	root, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatal(err)
	}

	pkgs := make(map[string]*manifest.Package)
	for name, content := range map[string]string{
		"core": coreManifest,
		"app":  appManifest,
		"tool": toolManifest,
	} {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, manifest.Filename), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		pkg, err := manifest.Load(dir)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		pkgs[pkg.Name] = pkg
	}

	g, err := depgraph.Build(pkgs, depgraph.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return root, g
}

func readManifest(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, name, manifest.Filename))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestComputePatchBumpLeavesSatisfiedConstraints(t *testing.T) {
	_, g := setupRepo(t)

	plan, err := Compute(g, []Bump{{Target: "core", Kind: semver.BumpPatch}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if got := plan.Versions["core"].String(); got != "0.4.3" {
		t.Errorf("new version = %s, want 0.4.3", got)
	}
	// 0.4.3 still satisfies ">=0.4, <0.5", so only the version edit remains.
	if len(plan.Edits) != 1 || plan.Edits[0].Kind != EditVersion {
		t.Fatalf("Edits = %v, want single version edit", plan.Edits)
	}
}

func TestComputeMinorBumpWidensConstraints(t *testing.T) {
	_, g := setupRepo(t)

	plan, err := Compute(g, []Bump{{Target: "core", Kind: semver.BumpMinor}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := plan.Versions["core"].String(); got != "0.5.0" {
		t.Errorf("new version = %s, want 0.5.0", got)
	}

	var widen *Edit
	for i := range plan.Edits {
		if plan.Edits[i].Kind == EditConstraint {
			if widen != nil {
				t.Fatalf("Edits = %v, want exactly one constraint edit", plan.Edits)
			}
			widen = &plan.Edits[i]
		}
	}
	if widen == nil {
		t.Fatalf("Edits = %v, missing constraint edit", plan.Edits)
	}
	if widen.Package != "app" || widen.Dependency != "core" {
		t.Errorf("constraint edit on %s->%s, want app->core", widen.Package, widen.Dependency)
	}
	if widen.New != ">=0.4, <1.0.0" {
		t.Errorf("widened constraint = %q, want %q", widen.New, ">=0.4, <1.0.0")
	}
}

func TestComputePrereleaseBumpWidensConstraints(t *testing.T) {
	_, g := setupRepo(t)

	plan, err := Compute(g, []Bump{{Target: "core", Kind: semver.BumpPrerelease}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := plan.Versions["core"].String(); got != "0.4.3-rc.1" {
		t.Errorf("new version = %s, want 0.4.3-rc.1", got)
	}

	var widen *Edit
	for i := range plan.Edits {
		if plan.Edits[i].Kind == EditConstraint {
			if widen != nil {
				t.Fatalf("Edits = %v, want exactly one constraint edit", plan.Edits)
			}
			widen = &plan.Edits[i]
		}
	}
	if widen == nil {
		t.Fatalf("Edits = %v, missing constraint edit", plan.Edits)
	}
	if widen.Package != "app" || widen.Dependency != "core" {
		t.Errorf("constraint edit on %s->%s, want app->core", widen.Package, widen.Dependency)
	}
	if widen.New != ">=0.4.3-rc.1, <0.5" {
		t.Errorf("widened constraint = %q, want %q", widen.New, ">=0.4.3-rc.1, <0.5")
	}

	// tool declares core without a version key; the prerelease must not
	// drag its manifest into the plan.
	for _, path := range plan.Manifests() {
		if strings.Contains(path, "tool") {
			t.Errorf("plan touches tool's manifest: %v", plan.Manifests())
		}
	}
}

func TestComputeExplicitVersion(t *testing.T) {
	_, g := setupRepo(t)

	plan, err := Compute(g, []Bump{{
		Target:  "core",
		Version: semver.MustParseVersion("2.0.0"),
	}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := plan.Versions["core"].String(); got != "2.0.0" {
		t.Errorf("new version = %s, want 2.0.0", got)
	}
}

func TestComputeUnknownTarget(t *testing.T) {
	_, g := setupRepo(t)

	_, err := Compute(g, []Bump{{Target: "nosuch", Kind: semver.BumpPatch}})
	if !errors.Is(err, errors.ErrCodePackageNotFound) {
		t.Fatalf("Compute error = %v, want %s", err, errors.ErrCodePackageNotFound)
	}
}

func TestComputeDuplicateTarget(t *testing.T) {
	_, g := setupRepo(t)

	_, err := Compute(g, []Bump{
		{Target: "core", Kind: semver.BumpPatch},
		{Target: "Core", Kind: semver.BumpMinor},
	})
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("Compute error = %v, want %s", err, errors.ErrCodeInvalidInput)
	}
}

func TestComputeDoesNotTouchDisk(t *testing.T) {
	root, g := setupRepo(t)
	before := readManifest(t, root, "app")

	if _, err := Compute(g, []Bump{{Target: "core", Kind: semver.BumpMajor}}); err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if after := readManifest(t, root, "app"); after != before {
		t.Error("Compute modified a manifest on disk")
	}
}

func TestApplyRewritesManifests(t *testing.T) {
	root, g := setupRepo(t)

	plan, err := Compute(g, []Bump{{Target: "core", Kind: semver.BumpMinor}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if err := plan.Apply(); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	core := readManifest(t, root, "core")
	if !strings.Contains(core, `version = "0.5.0"`) {
		t.Errorf("core manifest not bumped:\n%s", core)
	}
	// Untouched keys keep their exact spelling.
	if !strings.Contains(core, `requests = ">=2.28, <3.0"`) {
		t.Errorf("core manifest lost unrelated content:\n%s", core)
	}

	app := readManifest(t, root, "app")
	if !strings.Contains(app, `version = ">=0.4, <1.0.0"`) {
		t.Errorf("app constraint not widened:\n%s", app)
	}
	if !strings.Contains(app, `path = "../core"`) || !strings.Contains(app, "develop = true") {
		t.Errorf("app inline table damaged:\n%s", app)
	}

	// The bare local declaration in tool has no version key to widen.
	tool := readManifest(t, root, "tool")
	if !strings.Contains(tool, `core = { path = "../core", develop = true }`) {
		t.Errorf("tool manifest changed unexpectedly:\n%s", tool)
	}

	// The rewritten tree must load and validate cleanly.
	pkgs := make(map[string]*manifest.Package)
	for _, name := range []string{"core", "app", "tool"} {
		pkg, err := manifest.Load(filepath.Join(root, name))
		if err != nil {
			t.Fatalf("reload %s: %v", name, err)
		}
		pkgs[pkg.Name] = pkg
	}
	g2, err := depgraph.Build(pkgs, depgraph.Options{})
	if err != nil {
		t.Fatalf("rebuild graph: %v", err)
	}
	if err := g2.Validate(); err != nil {
		t.Errorf("Validate after apply: %v", err)
	}
}

func TestPlanManifests(t *testing.T) {
	root, g := setupRepo(t)

	plan, err := Compute(g, []Bump{{Target: "core", Kind: semver.BumpMinor}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	paths := plan.Manifests()
	want := []string{
		filepath.Join(root, "app", manifest.Filename),
		filepath.Join(root, "core", manifest.Filename),
	}
	if len(paths) != len(want) {
		t.Fatalf("Manifests() = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("Manifests()[%d] = %s, want %s", i, paths[i], want[i])
		}
	}
}
