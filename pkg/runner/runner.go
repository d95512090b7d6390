// Package runner executes one task per package over the dependency graph,
// respecting dependency order with a bounded worker pool.
//
// A package runs only after all of its local dependencies finished
// successfully. Failures are contained: a failed package blocks its
// transitive dependents but independent parts of the graph keep running.
// Cancellation stops new tasks from starting while in-flight tasks run to
// completion, so no subprocess is ever abandoned mid-write.
package runner

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polyrepo-tools/polybuild/pkg/depgraph"
	"github.com/polyrepo-tools/polybuild/pkg/errors"
	"github.com/polyrepo-tools/polybuild/pkg/manifest"
	"github.com/polyrepo-tools/polybuild/pkg/observability"
)

// Task is the work performed for one package, e.g. an install or a build.
type Task func(ctx context.Context, pkg *manifest.Package) error

// Options configures a run.
type Options struct {
	// Operation names the run for hooks and reports ("install", "build").
	Operation string
	// Workers is the worker pool size; values below 1 mean 1.
	Workers int
}

// Status is the terminal state of one package in a run.
type Status int

const (
	// StatusNotStarted marks a package whose task never ran because the
	// run was canceled first.
	StatusNotStarted Status = iota
	// StatusSucceeded marks a completed task.
	StatusSucceeded
	// StatusFailed marks a task that ran and returned an error.
	StatusFailed
	// StatusBlocked marks a package skipped because a transitive
	// dependency failed.
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusBlocked:
		return "blocked"
	default:
		return "not started"
	}
}

// Result is the outcome of one package.
type Result struct {
	Package  string
	Status   Status
	Err      error
	Duration time.Duration
}

// Report partitions every package of a run by outcome.
type Report struct {
	Operation string
	Results   map[string]Result
	Duration  time.Duration
	Canceled  bool
}

// ByStatus returns the packages with the given status, sorted by name.
func (r *Report) ByStatus(s Status) []string {
	var names []string
	for name, res := range r.Results {
		if res.Status == s {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// OK reports whether every package succeeded.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if res.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// Err summarizes the run as a single error, or nil when everything
// succeeded. Cancellation without task failures surfaces the context error
// so callers can map it to the interrupt exit path.
func (r *Report) Err() error {
	if failed := r.ByStatus(StatusFailed); len(failed) > 0 {
		return errors.New(errors.ErrCodeBackendFailed,
			"%s failed for %s", r.Operation, strings.Join(failed, ", "))
	}
	if r.Canceled {
		return context.Canceled
	}
	return nil
}

// node is the per-package scheduling state.
type node struct {
	pkg        *manifest.Package
	dependents []*node
	depCount   atomic.Int32
	doneOnce   sync.Once

	mu     sync.Mutex
	status Status
	err    error
	took   time.Duration
}

func (n *node) finish(wg *sync.WaitGroup, status Status, err error, took time.Duration) {
	n.doneOnce.Do(func() {
		n.mu.Lock()
		n.status = status
		n.err = err
		n.took = took
		n.mu.Unlock()
		wg.Done()
	})
}

// Run executes task for every package in g and returns the full report.
// It never returns early: the report always accounts for every package.
func Run(ctx context.Context, g *depgraph.Graph, task Task, opts Options) *Report {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	nodes := make(map[string]*node, g.Len())
	for _, pkg := range g.Packages() {
		nodes[pkg.Name] = &node{pkg: pkg}
	}
	for name, n := range nodes {
		n.depCount.Store(int32(len(g.Dependencies(name))))
		for _, dependent := range g.Dependents(name) {
			n.dependents = append(n.dependents, nodes[dependent])
		}
	}

	observability.Execution().OnRunStart(ctx, opts.Operation, len(nodes), workers)
	start := time.Now()

	readyChan := make(chan *node, len(nodes))
	var wg sync.WaitGroup
	wg.Add(len(nodes))

	// Roots are ready immediately; everything else unlocks as its
	// dependencies complete.
	for _, name := range g.TopoOrder() {
		if nodes[name].depCount.Load() == 0 {
			readyChan <- nodes[name]
		}
	}

	r := &runState{ctx: ctx, task: task, wg: &wg, readyChan: readyChan}
	for i := 0; i < workers; i++ {
		go r.worker()
	}

	wg.Wait()
	close(readyChan)

	report := &Report{
		Operation: opts.Operation,
		Results:   make(map[string]Result, len(nodes)),
		Duration:  time.Since(start),
		Canceled:  ctx.Err() != nil,
	}
	for name, n := range nodes {
		report.Results[name] = Result{
			Package:  name,
			Status:   n.status,
			Err:      n.err,
			Duration: n.took,
		}
	}

	observability.Execution().OnRunComplete(ctx, opts.Operation, report.Duration, report.Err())
	return report
}

type runState struct {
	ctx       context.Context
	task      Task
	wg        *sync.WaitGroup
	readyChan chan *node
}

// worker drains the ready channel until the run closes it.
func (r *runState) worker() {
	for n := range r.readyChan {
		if r.ctx.Err() != nil {
			r.abandon(n)
			continue
		}

		observability.Execution().OnTaskStart(r.ctx, n.pkg.Name)
		taskStart := time.Now()
		err := r.task(r.ctx, n.pkg)
		took := time.Since(taskStart)
		observability.Execution().OnTaskComplete(r.ctx, n.pkg.Name, took, err)

		if err != nil {
			n.finish(r.wg, StatusFailed, err, took)
			r.blockDependents(n)
			continue
		}

		n.finish(r.wg, StatusSucceeded, nil, took)
		for _, dependent := range n.dependents {
			if dependent.depCount.Add(-1) == 0 {
				r.readyChan <- dependent
			}
		}
	}
}

// abandon marks a canceled node and everything downstream as not started.
func (r *runState) abandon(n *node) {
	n.finish(r.wg, StatusNotStarted, context.Cause(r.ctx), 0)
	for _, dependent := range n.dependents {
		r.abandon(dependent)
	}
}

// blockDependents marks the transitive dependents of a failed node.
func (r *runState) blockDependents(failed *node) {
	for _, dependent := range failed.dependents {
		blocked := false
		dependent.doneOnce.Do(func() {
			blocked = true
			dependent.mu.Lock()
			dependent.status = StatusBlocked
			dependent.err = errors.New(errors.ErrCodeBlocked,
				"dependency %q failed", failed.pkg.Name)
			dependent.mu.Unlock()
			r.wg.Done()
		})
		if blocked {
			observability.Execution().OnTaskBlocked(r.ctx, dependent.pkg.Name, failed.pkg.Name)
			r.blockDependents(dependent)
		}
	}
}
