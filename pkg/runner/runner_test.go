package runner

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/polyrepo-tools/polybuild/pkg/depgraph"
	"github.com/polyrepo-tools/polybuild/pkg/errors"
	"github.com/polyrepo-tools/polybuild/pkg/manifest"
	"github.com/polyrepo-tools/polybuild/pkg/semver"
)

func pkg(name string, localDeps ...string) *manifest.Package {
	p := &manifest.Package{
		Name:     name,
		Version:  semver.MustParseVersion("1.0.0"),
		RootPath: "/repo/" + name,
	}
	for _, dep := range localDeps {
		p.Dependencies = append(p.Dependencies, manifest.Dependency{
			Name: dep,
			Kind: manifest.KindLocalPath,
			Path: "../" + dep,
		})
	}
	return p
}

func buildGraph(t *testing.T, pkgs ...*manifest.Package) *depgraph.Graph {
	t.Helper()
	set := make(map[string]*manifest.Package, len(pkgs))
	for _, p := range pkgs {
		set[p.Name] = p
	}
	g, err := depgraph.Build(set, depgraph.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

// orderRecorder records the completion order of tasks.
type orderRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *orderRecorder) record(name string) {
	r.mu.Lock()
	r.order = append(r.order, name)
	r.mu.Unlock()
}

func (r *orderRecorder) indexOf(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestRunRespectsDependencyOrder(t *testing.T) {
	g := buildGraph(t,
		pkg("app", "core", "extras"),
		pkg("core", "utils"),
		pkg("extras", "utils"),
		pkg("utils"),
	)

	rec := &orderRecorder{}
	report := Run(context.Background(), g, func(ctx context.Context, p *manifest.Package) error {
		rec.record(p.Name)
		return nil
	}, Options{Operation: "install", Workers: 4})

	if !report.OK() {
		t.Fatalf("report not OK: %+v", report.Results)
	}
	if err := report.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}

	for _, edge := range [][2]string{{"utils", "core"}, {"utils", "extras"}, {"core", "app"}, {"extras", "app"}} {
		if rec.indexOf(edge[0]) > rec.indexOf(edge[1]) {
			t.Errorf("%s ran after its dependent %s: order %v", edge[0], edge[1], rec.order)
		}
	}
}

func TestRunFailureBlocksDependentsOnly(t *testing.T) {
	// island is independent of the failing chain and must still run.
	g := buildGraph(t,
		pkg("app", "core"),
		pkg("core", "utils"),
		pkg("utils"),
		pkg("island"),
	)

	report := Run(context.Background(), g, func(ctx context.Context, p *manifest.Package) error {
		if p.Name == "core" {
			return fmt.Errorf("boom")
		}
		return nil
	}, Options{Operation: "build", Workers: 2})

	if got := report.ByStatus(StatusSucceeded); len(got) != 2 || got[0] != "island" || got[1] != "utils" {
		t.Errorf("succeeded = %v, want [island utils]", got)
	}
	if got := report.ByStatus(StatusFailed); len(got) != 1 || got[0] != "core" {
		t.Errorf("failed = %v, want [core]", got)
	}
	if got := report.ByStatus(StatusBlocked); len(got) != 1 || got[0] != "app" {
		t.Errorf("blocked = %v, want [app]", got)
	}

	blocked := report.Results["app"]
	if !errors.Is(blocked.Err, errors.ErrCodeBlocked) {
		t.Errorf("blocked error = %v, want %s", blocked.Err, errors.ErrCodeBlocked)
	}
	if err := report.Err(); !errors.Is(err, errors.ErrCodeBackendFailed) {
		t.Errorf("Err() = %v, want %s", err, errors.ErrCodeBackendFailed)
	}
}

func TestRunFailureBlocksTransitively(t *testing.T) {
	g := buildGraph(t,
		pkg("top", "mid"),
		pkg("mid", "bottom"),
		pkg("bottom"),
	)

	report := Run(context.Background(), g, func(ctx context.Context, p *manifest.Package) error {
		if p.Name == "bottom" {
			return fmt.Errorf("boom")
		}
		return nil
	}, Options{Operation: "build", Workers: 2})

	blocked := report.ByStatus(StatusBlocked)
	if len(blocked) != 2 || blocked[0] != "mid" || blocked[1] != "top" {
		t.Errorf("blocked = %v, want [mid top]", blocked)
	}
}

func TestRunCancellationLetsInFlightFinish(t *testing.T) {
	g := buildGraph(t,
		pkg("second", "first"),
		pkg("first"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	var finished atomic.Bool

	report := Run(ctx, g, func(ctx context.Context, p *manifest.Package) error {
		// Cancel while the first task is in flight; it must still
		// complete, and the dependent must never start.
		cancel()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return nil
	}, Options{Operation: "install", Workers: 2})

	if !finished.Load() {
		t.Error("in-flight task did not run to completion")
	}
	if got := report.Results["first"].Status; got != StatusSucceeded {
		t.Errorf("first status = %v, want %v", got, StatusSucceeded)
	}
	if got := report.Results["second"].Status; got != StatusNotStarted {
		t.Errorf("second status = %v, want %v", got, StatusNotStarted)
	}
	if !report.Canceled {
		t.Error("report not marked canceled")
	}
	if err := report.Err(); !stderrors.Is(err, context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", err)
	}
}

func TestRunWorkerLimit(t *testing.T) {
	g := buildGraph(t, pkg("a"), pkg("b"), pkg("c"), pkg("d"))

	var running, peak atomic.Int32
	report := Run(context.Background(), g, func(ctx context.Context, p *manifest.Package) error {
		now := running.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	}, Options{Operation: "install", Workers: 2})

	if !report.OK() {
		t.Fatalf("report not OK: %+v", report.Results)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestStatusString(t *testing.T) {
	for status, want := range map[Status]string{
		StatusNotStarted: "not started",
		StatusSucceeded:  "succeeded",
		StatusFailed:     "failed",
		StatusBlocked:    "blocked",
	} {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}
