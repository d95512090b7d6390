package observability

import (
	"context"
	"testing"
	"time"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	d := NoopDiscoveryHooks{}
	d.OnScanStart(ctx, "/repo")
	d.OnScanComplete(ctx, "/repo", 12, time.Second, nil)
	d.OnManifestSkipped(ctx, "/repo/broken/pyproject.toml", nil)

	e := NoopExecutionHooks{}
	e.OnRunStart(ctx, "install", 12, 4)
	e.OnRunComplete(ctx, "install", time.Second, nil)
	e.OnTaskStart(ctx, "core")
	e.OnTaskComplete(ctx, "core", time.Second, nil)
	e.OnTaskBlocked(ctx, "app", "core")

	b := NoopBackendHooks{}
	b.OnCommandStart(ctx, "poetry", []string{"install"}, "/repo/core")
	b.OnCommandComplete(ctx, "poetry", []string{"install"}, time.Second, nil)
}

func TestGlobalHooksRegistry(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	custom := &countingExecutionHooks{}
	SetExecutionHooks(custom)
	if Execution() != ExecutionHooks(custom) {
		t.Error("SetExecutionHooks did not register the custom hooks")
	}

	Execution().OnTaskStart(context.Background(), "core")
	if custom.started != 1 {
		t.Errorf("started = %d, want 1", custom.started)
	}

	// Nil registrations are ignored rather than clobbering the registry.
	SetExecutionHooks(nil)
	if Execution() != ExecutionHooks(custom) {
		t.Error("nil registration replaced the hooks")
	}

	Reset()
	if _, ok := Execution().(NoopExecutionHooks); !ok {
		t.Error("Reset did not restore no-op hooks")
	}
}

type countingExecutionHooks struct {
	NoopExecutionHooks
	started int
}

func (h *countingExecutionHooks) OnTaskStart(context.Context, string) { h.started++ }
