package cli

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// logExecutionHooks reports runner progress through the CLI logger.
type logExecutionHooks struct {
	logger *log.Logger
}

func (h *logExecutionHooks) OnRunStart(_ context.Context, operation string, packages, workers int) {
	h.logger.Debugf("%s: %d packages, %d workers", operation, packages, workers)
}

func (h *logExecutionHooks) OnRunComplete(_ context.Context, operation string, duration time.Duration, err error) {
	if err != nil {
		h.logger.Debugf("%s finished with errors after %s", operation, duration.Round(time.Millisecond))
		return
	}
	h.logger.Debugf("%s finished in %s", operation, duration.Round(time.Millisecond))
}

func (h *logExecutionHooks) OnTaskStart(_ context.Context, pkg string) {
	h.logger.Infof("%s ...", pkg)
}

func (h *logExecutionHooks) OnTaskComplete(_ context.Context, pkg string, duration time.Duration, err error) {
	if err != nil {
		h.logger.Errorf("%s failed after %s", pkg, duration.Round(time.Millisecond))
		return
	}
	h.logger.Infof("%s done (%s)", pkg, duration.Round(time.Millisecond))
}

func (h *logExecutionHooks) OnTaskBlocked(_ context.Context, pkg, dependency string) {
	h.logger.Warnf("%s skipped: dependency %s failed", pkg, dependency)
}

// logDiscoveryHooks reports repository scans through the CLI logger.
type logDiscoveryHooks struct {
	logger *log.Logger
}

func (h *logDiscoveryHooks) OnScanStart(_ context.Context, root string) {
	h.logger.Debugf("scanning %s", root)
}

func (h *logDiscoveryHooks) OnScanComplete(_ context.Context, root string, packages int, duration time.Duration, err error) {
	if err != nil {
		return
	}
	h.logger.Debugf("found %d packages in %s (%s)", packages, root, duration.Round(time.Millisecond))
}

func (h *logDiscoveryHooks) OnManifestSkipped(_ context.Context, path string, err error) {
	h.logger.Warnf("skipping invalid manifest %s: %v", path, err)
}
