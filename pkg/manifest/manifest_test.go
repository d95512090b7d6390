package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `[tool.poetry]
name = "My_App"
version = "1.2.3"
description = "demo"

[tool.poetry.dependencies]
python = "^3.11"
requests = ">=2.28, <3.0"
lib-core = { path = "../lib-core", develop = true, version = ">=0.4, <0.5" }
lib-native = { path = "../lib-native", develop = true }

[tool.poetry.group.dev.dependencies]
pytest = "^7.0"
lib-testkit = { path = "../lib-testkit", develop = true }

[build-system]
requires = ["poetry-core>=1.0.0"]
build-backend = "poetry.core.masonry.api"
`

const nativeManifest = `[tool.poetry]
name = "lib-native"
version = "0.2.0"

[tool.poetry.dependencies]
python = "^3.11"

[build-system]
requires = ["maturin>=1.0,<2.0"]
build-backend = "maturin"
`

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, Filename), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeManifest(t, filepath.Join(t.TempDir(), "my-app"), sampleManifest)

	pkg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if pkg.Name != "my-app" {
		t.Errorf("Name = %q, want normalized %q", pkg.Name, "my-app")
	}
	if pkg.Version.String() != "1.2.3" {
		t.Errorf("Version = %s, want 1.2.3", pkg.Version)
	}
	if pkg.HasNativeExtension {
		t.Error("HasNativeExtension = true for poetry-core backend")
	}
	if !filepath.IsAbs(pkg.RootPath) {
		t.Errorf("RootPath %q is not absolute", pkg.RootPath)
	}

	// python is an interpreter constraint, not a dependency.
	wantMain := []string{"lib-core", "lib-native", "requests"}
	if len(pkg.Dependencies) != len(wantMain) {
		t.Fatalf("got %d main dependencies, want %d", len(pkg.Dependencies), len(wantMain))
	}
	for i, name := range wantMain {
		if pkg.Dependencies[i].Name != name {
			t.Errorf("Dependencies[%d].Name = %q, want %q (sorted)", i, pkg.Dependencies[i].Name, name)
		}
	}

	core, ok := pkg.Dependency("lib-core")
	if !ok {
		t.Fatal("lib-core not found")
	}
	if core.Kind != KindLocalPath || core.Path != "../lib-core" || !core.Develop {
		t.Errorf("lib-core = %+v, want local develop path dep", core)
	}
	if core.Constraint != ">=0.4, <0.5" {
		t.Errorf("lib-core constraint = %q", core.Constraint)
	}

	native, _ := pkg.Dependency("lib-native")
	if native.Constraint != "*" {
		t.Errorf("bare local dep constraint = %q, want *", native.Constraint)
	}

	req, _ := pkg.Dependency("requests")
	if req.Kind != KindPublished {
		t.Errorf("requests kind = %v, want published", req.Kind)
	}

	dev, ok := pkg.Groups["dev"]
	if !ok {
		t.Fatal("dev group missing")
	}
	if len(dev) != 2 {
		t.Fatalf("dev group has %d deps, want 2", len(dev))
	}
	if dev[0].Group != "dev" {
		t.Errorf("group tag = %q, want dev", dev[0].Group)
	}
}

func TestLoadNativeExtension(t *testing.T) {
	dir := writeManifest(t, filepath.Join(t.TempDir(), "lib-native"), nativeManifest)

	pkg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !pkg.HasNativeExtension {
		t.Error("HasNativeExtension = false for maturin backend")
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"broken toml", "[tool.poetry\nname ="},
		{"missing name", "[tool.poetry]\nversion = \"1.0.0\"\n"},
		{"bad version", "[tool.poetry]\nname = \"x\"\nversion = \"one\"\n"},
		{"bad constraint", "[tool.poetry]\nname = \"x\"\nversion = \"1.0.0\"\n[tool.poetry.dependencies]\nfoo = \"not valid !!\"\n"},
		{"absolute dep path", "[tool.poetry]\nname = \"x\"\nversion = \"1.0.0\"\n[tool.poetry.dependencies]\nfoo = { path = \"/abs\" }\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeManifest(t, filepath.Join(t.TempDir(), "pkg"), tt.content)
			if _, err := Load(dir); err == nil {
				t.Error("Load should reject malformed manifest")
			}
		})
	}
}

func TestAllDependencies(t *testing.T) {
	dir := writeManifest(t, filepath.Join(t.TempDir(), "my-app"), sampleManifest)
	pkg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if got := len(pkg.AllDependencies(nil)); got != 3 {
		t.Errorf("AllDependencies(nil) = %d deps, want 3 (main only)", got)
	}
	if got := len(pkg.AllDependencies([]string{"dev"})); got != 5 {
		t.Errorf("AllDependencies(dev) = %d deps, want 5", got)
	}
	if got := len(pkg.AllDependencies([]string{"*"})); got != 5 {
		t.Errorf("AllDependencies(*) = %d deps, want 5", got)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"My_Pkg", "my-pkg"},
		{"foo.bar", "foo-bar"},
		{"A__B--C", "a-b-c"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadDeduplicatesSymlinkedRoot(t *testing.T) {
	root := t.TempDir()
	real := writeManifest(t, filepath.Join(root, "real"), nativeManifest)
	link := filepath.Join(root, "alias")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	a, err := Load(real)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Load(link)
	if err != nil {
		t.Fatal(err)
	}
	if a.RootPath != b.RootPath {
		t.Errorf("RootPath mismatch across symlink: %q vs %q", a.RootPath, b.RootPath)
	}
}
