// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about package discovery, graph execution, and backend
// subprocess invocations.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// This approach:
//   - Avoids import cycles (hooks are registered by main, not by libraries)
//   - Keeps the core library dependency-free from observability frameworks
//   - Allows different backends (OpenTelemetry, Prometheus, DataDog, etc.)
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetDiscoveryHooks(&myDiscoveryHooks{})
//	    observability.SetExecutionHooks(&myExecutionHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Execution().OnTaskStart(ctx, pkg)
//	// ... run the task ...
//	observability.Execution().OnTaskComplete(ctx, pkg, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Discovery Hooks
// =============================================================================

// DiscoveryHooks receives events from repository scanning.
type DiscoveryHooks interface {
	// OnScanStart records the start of a repository walk.
	OnScanStart(ctx context.Context, root string)

	// OnScanComplete records the end of a repository walk.
	OnScanComplete(ctx context.Context, root string, packages int, duration time.Duration, err error)

	// OnManifestSkipped records a manifest that was ignored as invalid.
	OnManifestSkipped(ctx context.Context, path string, err error)
}

// =============================================================================
// Execution Hooks
// =============================================================================

// ExecutionHooks receives events from the graph task runner.
type ExecutionHooks interface {
	// Run events
	OnRunStart(ctx context.Context, operation string, packages, workers int)
	OnRunComplete(ctx context.Context, operation string, duration time.Duration, err error)

	// Task events
	OnTaskStart(ctx context.Context, pkg string)
	OnTaskComplete(ctx context.Context, pkg string, duration time.Duration, err error)

	// OnTaskBlocked records a task that never ran because a dependency failed.
	OnTaskBlocked(ctx context.Context, pkg, dependency string)
}

// =============================================================================
// Backend Hooks
// =============================================================================

// BackendHooks receives events from build backend subprocesses.
type BackendHooks interface {
	// OnCommandStart records an invoked backend command.
	OnCommandStart(ctx context.Context, tool string, args []string, dir string)

	// OnCommandComplete records a finished backend command.
	OnCommandComplete(ctx context.Context, tool string, args []string, duration time.Duration, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopDiscoveryHooks is a no-op implementation of DiscoveryHooks.
type NoopDiscoveryHooks struct{}

func (NoopDiscoveryHooks) OnScanStart(context.Context, string) {}
func (NoopDiscoveryHooks) OnScanComplete(context.Context, string, int, time.Duration, error) {
}
func (NoopDiscoveryHooks) OnManifestSkipped(context.Context, string, error) {}

// NoopExecutionHooks is a no-op implementation of ExecutionHooks.
type NoopExecutionHooks struct{}

func (NoopExecutionHooks) OnRunStart(context.Context, string, int, int)                 {}
func (NoopExecutionHooks) OnRunComplete(context.Context, string, time.Duration, error)  {}
func (NoopExecutionHooks) OnTaskStart(context.Context, string)                          {}
func (NoopExecutionHooks) OnTaskComplete(context.Context, string, time.Duration, error) {}
func (NoopExecutionHooks) OnTaskBlocked(context.Context, string, string)                {}

// NoopBackendHooks is a no-op implementation of BackendHooks.
type NoopBackendHooks struct{}

func (NoopBackendHooks) OnCommandStart(context.Context, string, []string, string)                {}
func (NoopBackendHooks) OnCommandComplete(context.Context, string, []string, time.Duration, error) {
}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	discoveryHooks DiscoveryHooks = NoopDiscoveryHooks{}
	executionHooks ExecutionHooks = NoopExecutionHooks{}
	backendHooks   BackendHooks   = NoopBackendHooks{}
	hooksMu        sync.RWMutex
)

// SetDiscoveryHooks registers custom discovery hooks.
// This should be called once at application startup before any scans.
func SetDiscoveryHooks(h DiscoveryHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		discoveryHooks = h
	}
}

// SetExecutionHooks registers custom execution hooks.
// This should be called once at application startup before any runs.
func SetExecutionHooks(h ExecutionHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		executionHooks = h
	}
}

// SetBackendHooks registers custom backend hooks.
// This should be called once at application startup before any commands run.
func SetBackendHooks(h BackendHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		backendHooks = h
	}
}

// Discovery returns the registered discovery hooks.
func Discovery() DiscoveryHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return discoveryHooks
}

// Execution returns the registered execution hooks.
func Execution() ExecutionHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return executionHooks
}

// Backend returns the registered backend hooks.
func Backend() BackendHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return backendHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	discoveryHooks = NoopDiscoveryHooks{}
	executionHooks = NoopExecutionHooks{}
	backendHooks = NoopBackendHooks{}
}
