// Package discover locates the monorepo's packages on disk.
//
// The discoverer recursively walks a root directory, loads a manifest for
// every directory containing pyproject.toml, and deduplicates packages that
// are reachable through more than one logical path (symlinked workspace
// layouts). Descent stops at ignored directories; nested package roots are
// legal and descent continues through them.
package discover

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
	"github.com/polyrepo-tools/polybuild/pkg/manifest"
	"github.com/polyrepo-tools/polybuild/pkg/observability"
)

// Options configures one discovery pass.
type Options struct {
	// IgnoreDirs are exact directories (absolute) never descended into.
	IgnoreDirs []string

	// IgnoreNames are directory basenames never descended into.
	IgnoreNames []string

	// IgnoreInvalid demotes a manifest parse failure from a hard error to
	// a warning, skipping the offending package.
	IgnoreInvalid bool

	// Concurrency bounds parallel manifest parsing. Defaults to 8.
	Concurrency int

	// Logf receives warnings (unreadable directories, skipped invalid
	// packages). A nil Logf discards them.
	Logf func(format string, args ...any)
}

func (o *Options) logf(format string, args ...any) {
	if o.Logf != nil {
		o.Logf(format, args...)
	}
}

// Discover walks root and returns the discovered packages keyed by name.
//
// Unreadable directories are reported through Options.Logf and skipped; an
// unparseable manifest is a hard error (unless Options.IgnoreInvalid) since
// orchestration over an untrusted manifest cannot proceed safely. Two
// packages resolving to the same canonical directory collapse into one; two
// distinct directories declaring the same package name are a hard error.
func Discover(root string, opts Options) (map[string]*manifest.Package, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve root %s", root)
	}
	if _, err := os.Stat(absRoot); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiscoveryIO, err, "scan root %s", root)
	}

	ctx := context.Background()
	observability.Discovery().OnScanStart(ctx, absRoot)
	start := time.Now()

	w := &walker{
		opts:    opts,
		ignore:  cleanAll(opts.IgnoreDirs),
		visited: make(map[string]bool),
	}
	w.walk(absRoot)

	pkgs, err := parseAll(w.candidates, opts)
	if err != nil {
		observability.Discovery().OnScanComplete(ctx, absRoot, 0, time.Since(start), err)
		return nil, err
	}
	byName, err := indexByName(pkgs)
	observability.Discovery().OnScanComplete(ctx, absRoot, len(byName), time.Since(start), err)
	return byName, err
}

type walker struct {
	opts       Options
	ignore     []string
	visited    map[string]bool // canonical directories already descended into
	candidates []string        // canonical package roots, in discovery order
}

// walk descends into dir, which must be canonical (symlink-resolved).
func (w *walker) walk(dir string) {
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		w.opts.logf("skipping unreadable directory %s: %v", dir, err)
		return
	}
	if w.visited[canonical] {
		// Second logical path to the same physical directory; not an
		// error, monorepos commonly symlink packages into workspaces.
		return
	}
	w.visited[canonical] = true

	if w.ignored(canonical) {
		return
	}

	entries, err := os.ReadDir(canonical)
	if err != nil {
		w.opts.logf("skipping unreadable directory %s: %v", canonical, err)
		return
	}

	for _, entry := range entries {
		if entry.Name() == manifest.Filename && entry.Type().IsRegular() {
			w.candidates = append(w.candidates, canonical)
			break
		}
	}

	for _, entry := range entries {
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		child := filepath.Join(canonical, entry.Name())
		if entry.Type()&os.ModeSymlink != 0 {
			info, err := os.Stat(child)
			if err != nil || !info.IsDir() {
				continue
			}
		}
		w.walk(child)
	}
}

func (w *walker) ignored(dir string) bool {
	if slices.Contains(w.opts.IgnoreNames, filepath.Base(dir)) {
		return true
	}
	return slices.Contains(w.ignore, dir)
}

func parseAll(candidates []string, opts Options) ([]*manifest.Package, error) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 8
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		pkgs []*manifest.Package
	)
	g.SetLimit(limit)

	for _, dir := range candidates {
		g.Go(func() error {
			pkg, err := manifest.Load(dir)
			if err != nil {
				if opts.IgnoreInvalid {
					opts.logf("ignoring invalid package at %s: %v", dir, err)
					observability.Discovery().OnManifestSkipped(context.Background(), filepath.Join(dir, manifest.Filename), err)
					return nil
				}
				return err
			}
			mu.Lock()
			pkgs = append(pkgs, pkg)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].RootPath < pkgs[j].RootPath })
	return pkgs, nil
}

func indexByName(pkgs []*manifest.Package) (map[string]*manifest.Package, error) {
	byName := make(map[string]*manifest.Package, len(pkgs))
	for _, pkg := range pkgs {
		if existing, ok := byName[pkg.Name]; ok {
			if existing.RootPath == pkg.RootPath {
				continue
			}
			return nil, errors.New(errors.ErrCodeDiscoveryManifest,
				"package %q declared in both %s and %s", pkg.Name, existing.RootPath, pkg.RootPath)
		}
		byName[pkg.Name] = pkg
	}
	return byName, nil
}

func cleanAll(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		// Ignore rules compare against canonical paths, so canonicalize
		// the rule itself when the directory exists.
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			dir = resolved
		}
		out = append(out, filepath.Clean(dir))
	}
	return out
}
