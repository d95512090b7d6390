// Package cli implements the polybuild command-line interface.
//
// This package provides commands for installing and building the packages of
// a monorepo in dependency order, bumping versions with constraint
// propagation, and inspecting the dependency graph. The CLI is built using
// cobra and supports verbose logging via the charmbracelet/log library.
//
// # Commands
//
// The main commands are:
//   - install: Install packages and their local dependencies in order
//   - build: Produce distributable artifacts for packages
//   - bump: Raise package versions and widen dependent constraints
//   - add: Declare a new dependency in a package's manifest
//   - graph: Print or render the local dependency graph
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. Task-level
// progress is reported through execution hooks registered at startup.
package cli

import (
	"io"
	"runtime"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/polyrepo-tools/polybuild/pkg/backend"
	"github.com/polyrepo-tools/polybuild/pkg/buildinfo"
	"github.com/polyrepo-tools/polybuild/pkg/config"
	"github.com/polyrepo-tools/polybuild/pkg/depgraph"
	"github.com/polyrepo-tools/polybuild/pkg/discover"
	"github.com/polyrepo-tools/polybuild/pkg/manifest"
	"github.com/polyrepo-tools/polybuild/pkg/observability"
)

// appName is the application name used for display and the lock marker.
const appName = "polybuild"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           level,
		}),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Polybuild installs and builds monorepo packages in dependency order",
		Long:         `Polybuild is a build tool for Python monorepos. It discovers the packages of a repository, links them through their local path dependencies, and runs installs, builds, and version bumps over the resulting dependency graph.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())

	// Register all subcommands
	root.AddCommand(c.installCommand())
	root.AddCommand(c.buildCommand())
	root.AddCommand(c.bumpCommand())
	root.AddCommand(c.addCommand())
	root.AddCommand(c.graphCommand())
	root.AddCommand(c.completionCommand())

	// Task progress flows through execution hooks rather than direct
	// logger plumbing, keeping the library packages free of CLI types.
	observability.SetExecutionHooks(&logExecutionHooks{logger: c.Logger})
	observability.SetDiscoveryHooks(&logDiscoveryHooks{logger: c.Logger})

	return root
}

// workspace bundles everything a command needs after discovery.
type workspace struct {
	cfg      *config.Config
	packages map[string]*manifest.Package
	graph    *depgraph.Graph
}

// loadWorkspace reads the repository config, discovers packages under the
// configured root, and builds the dependency graph.
func (c *CLI) loadWorkspace(root string, groups []string, ignoreInvalid bool) (*workspace, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	pkgs, err := discover.Discover(cfg.Root, discover.Options{
		IgnoreDirs:    cfg.IgnoredDirs(),
		IgnoreNames:   cfg.IgnoreDirectoryNames,
		IgnoreInvalid: ignoreInvalid,
		Logf:          c.Logger.Warnf,
	})
	if err != nil {
		return nil, err
	}

	g, err := depgraph.Build(pkgs, depgraph.Options{Groups: groups})
	if err != nil {
		return nil, err
	}
	return &workspace{cfg: cfg, packages: pkgs, graph: g}, nil
}

// backends constructs the configured poetry and maturin backends.
func (w *workspace) backends(quiet bool) (*backend.Poetry, *backend.Maturin) {
	opts := backend.Options{
		Timeout: w.cfg.BackendTimeout(),
		Quiet:   quiet,
	}
	return &backend.Poetry{Bin: w.cfg.Backend.Poetry, Opts: opts},
		&backend.Maturin{Bin: w.cfg.Backend.Maturin, Opts: opts}
}

// parallelism resolves the worker count: flag value, then config, then the
// machine's CPU count capped at the configured default.
func (w *workspace) parallelism(flag int) int {
	if flag > 0 {
		return flag
	}
	if w.cfg.Parallelism > 0 {
		return w.cfg.Parallelism
	}
	if n := runtime.NumCPU(); n < config.DefaultParallelism {
		return n
	}
	return config.DefaultParallelism
}

// packageCompletion completes package-name arguments from the repository
// named by the command's --cwd flag, skipping names already on the line.
func (c *CLI) packageCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	root, err := cmd.Flags().GetString("cwd")
	if err != nil {
		root = "."
	}
	ws, err := c.loadWorkspace(root, []string{"*"}, true)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var names []string
	for _, name := range ws.graph.Names() {
		if strings.HasPrefix(name, toComplete) && !slices.Contains(args, name) {
			names = append(names, name)
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

// parseGroups parses the --groups flag into group names; "*" selects all.
func parseGroups(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
