package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hdeps/hdeps/internal/cache"
	"github.com/hdeps/hdeps/internal/markers"
	"github.com/hdeps/hdeps/internal/pypi"
	"github.com/hdeps/hdeps/internal/python"
	"github.com/hdeps/hdeps/internal/render"
	"github.com/hdeps/hdeps/internal/reqfile"
	"github.com/hdeps/hdeps/internal/requirement"
	"github.com/hdeps/hdeps/internal/walker"
)

var version = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)

		if errors.Is(err, walker.ErrNoMatchingRelease) {
			os.Exit(2)
		}

		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "hdeps [OPTIONS] [DEPS...]",
		Short:         "Walk and render a Python package's dependency graph",
		Long:          "hdeps resolves and renders the dependency graph a pip install of the given requirements would produce, without installing anything.",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runWalk,
	}

	flags := rootCmd.Flags()
	flags.String("trace", "", "Write a Chrome trace of timed regions to this file")
	flags.Bool("stats", false, "Include CPU stats in the trace (requires --trace)")
	flags.CountP("verbose", "v", "Enable verbose logging (specify multiple times for more)")
	flags.String("vmodule", "", "Comma-separated logger=level pairs, attached to every log record as a vmodule attribute (records are not filtered by it)")
	flags.BoolP("isolate-env", "I", false, "Use the default index URL, ignoring environment overrides")
	flags.Bool("no-cache", false, "Disable the metadata blob cache")
	flags.IntP("parallelism", "p", 24, "Parallelism factor for network i/o")
	flags.String("platform", "linux", "Override platform: linux, win32, darwin")
	flags.String("python-version", "", "Override python version (default: autodetect running interpreter)")
	flags.Bool("install-order", false, "Render a flat install-ordered list instead of a tree")
	flags.Bool("print-legend", false, "Preface tree output with a color legend")
	flags.Bool("color", false, "Force color output on")
	flags.Bool("no-color", false, "Force color output off")
	flags.StringArrayP("requirements-file", "r", nil, "Requirements file to feed (repeatable)")
	flags.StringArray("have", nil, "Register a current-version hint as NAME==VERSION (repeatable)")

	return rootCmd.Execute()
}

func runWalk(cmd *cobra.Command, args []string) error {
	opts, err := parseWalkFlags(cmd, args)
	if err != nil {
		return err
	}

	logger := newLogger(opts.verbose, opts.vmodule)

	var trace *traceWriter
	if opts.tracePath != "" {
		trace, err = newTraceWriter(opts.tracePath)
		if err != nil {
			return fmt.Errorf("opening trace file: %w", err)
		}
		defer trace.Close()

		if opts.stats {
			stop := trace.startStatsSampler(100 * time.Millisecond)
			defer stop()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := buildEnv(ctx, opts)
	if err != nil {
		return err
	}

	blobCache, err := buildCache(opts, logger)
	if err != nil {
		return err
	}

	region := trace.begin("setup")
	client := pypi.New(pypi.WithLogger(logger), pypi.WithBaseURL(indexURL(opts.isolateEnv)))
	w := walker.New(client, env,
		walker.WithParallelism(opts.parallelism),
		walker.WithCache(blobCache),
		walker.WithLogger(logger),
		walker.WithCurrentVersionCallback(opts.currentVersionCallback()),
	)
	region.end()

	seeds, err := feedAll(w, opts, logger)
	if err != nil {
		return err
	}

	region = trace.begin("drain")
	if err := w.Drain(ctx); err != nil {
		return err
	}
	region.end()

	if len(w.KnownConflicts) > 0 {
		region = trace.begin("resolve_conflicts")
		report, err := w.ResolveConflicts(ctx, seeds)
		region.end()

		if err != nil {
			return err
		}

		logConflictReport(logger, report)
	}

	region = trace.begin("render")
	defer region.end()

	return renderResult(cmd, w, opts)
}

// feedAll seeds the walker from every --requirements-file and positional
// DEPS argument, returning the full seed list the conflict driver replays.
func feedAll(w *walker.Walker, opts walkFlags, logger *slog.Logger) ([]walker.Seed, error) {
	var seeds []walker.Seed

	for _, path := range opts.requirementsFiles {
		reqs, err := reqfile.ParseFile(path, logger)
		if err != nil {
			return nil, err
		}

		for _, req := range reqs {
			w.Feed(req, path)
			seeds = append(seeds, walker.Seed{Requirement: req, Source: path})
		}
	}

	for _, arg := range opts.deps {
		req, err := requirement.Parse(arg)
		if err != nil {
			logger.Warn("skipping invalid requirement argument", slog.String("arg", arg), slog.String("error", err.Error()))

			continue
		}

		w.Feed(req, "arg")
		seeds = append(seeds, walker.Seed{Requirement: req, Source: "arg"})
	}

	return seeds, nil
}

func renderResult(cmd *cobra.Command, w *walker.Walker, opts walkFlags) error {
	out := cmd.OutOrStdout()

	if opts.printLegend {
		render.PrintLegend(out, opts.colorMode)
	}

	if opts.installOrder {
		render.InstallOrder(out, w.Root())

		return nil
	}

	render.Tree(out, w.Root(), w.KnownConflicts, opts.currentVersionCallback(), opts.colorMode)

	return nil
}

func logConflictReport(logger *slog.Logger, report walker.ConflictReport) {
	for _, r := range report.Resolved {
		logger.Info("resolved conflict", slog.String("name", string(r.Name)), slog.String("pin", r.Version.String()))
	}

	for _, u := range report.Unresolved {
		versions := make([]string, len(u.Versions))
		for i, v := range u.Versions {
			versions[i] = v.String()
		}

		logger.Warn("unresolved conflict", slog.String("name", string(u.Name)), slog.String("versions", strings.Join(versions, ", ")))
	}
}

func buildEnv(ctx context.Context, opts walkFlags) (*markers.EnvironmentMarkers, error) {
	pythonVersion := opts.pythonVersion

	if pythonVersion == "" {
		detected, err := python.New().Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("autodetecting python interpreter (pass --python-version to skip): %w", err)
		}

		pythonVersion = detected.PythonFullVersion
	}

	env, err := markers.New(pythonVersion, markers.WithSysPlatform(opts.platform))
	if err != nil {
		return nil, fmt.Errorf("building environment markers: %w", err)
	}

	return env, nil
}

func buildCache(opts walkFlags, logger *slog.Logger) (cache.Store, error) {
	if opts.noCache {
		return cache.NoOp{}, nil
	}

	store, err := cache.New(cache.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("opening metadata cache: %w", err)
	}

	return store, nil
}

// newLogger builds the text-to-stderr slog logger spec.md §6's -v count
// selects the level for (0 warn, 1 info, 2+ debug). A non-empty --vmodule
// value is attached verbatim as a "vmodule" attribute on every record; it
// does not narrow logging to named loggers, and the level stays the one the
// -v count chose for all records.
func newLogger(verboseCount int, vmodule string) *slog.Logger {
	level := slog.LevelWarn

	switch {
	case verboseCount >= 2:
		level = slog.LevelDebug
	case verboseCount == 1:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)

	if vmodule != "" {
		logger = logger.With(slog.String("vmodule", vmodule))
	}

	return logger
}
