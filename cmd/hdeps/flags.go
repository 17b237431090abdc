package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hdeps/hdeps/internal/requirement"
	"github.com/hdeps/hdeps/internal/walker"
)

// walkFlags holds every parsed root-command flag for one walk.
type walkFlags struct {
	tracePath         string
	stats             bool
	verbose           int
	vmodule           string
	isolateEnv        bool
	noCache           bool
	parallelism       int
	platform          string
	pythonVersion     string
	installOrder      bool
	printLegend       bool
	colorMode         *bool
	requirementsFiles []string
	have              map[requirement.CanonicalName]string
	deps              []string
}

func parseWalkFlags(cmd *cobra.Command, args []string) (walkFlags, error) {
	f := cmd.Flags()

	var opts walkFlags

	opts.tracePath, _ = f.GetString("trace")
	opts.stats, _ = f.GetBool("stats")
	opts.verbose, _ = f.GetCount("verbose")
	opts.vmodule, _ = f.GetString("vmodule")
	opts.isolateEnv, _ = f.GetBool("isolate-env")
	opts.noCache, _ = f.GetBool("no-cache")
	opts.parallelism, _ = f.GetInt("parallelism")
	opts.platform, _ = f.GetString("platform")
	opts.pythonVersion, _ = f.GetString("python-version")
	opts.installOrder, _ = f.GetBool("install-order")
	opts.printLegend, _ = f.GetBool("print-legend")
	opts.requirementsFiles, _ = f.GetStringArray("requirements-file")
	opts.deps = args

	forceColor, _ := f.GetBool("color")
	forceNoColor, _ := f.GetBool("no-color")

	switch {
	case forceColor && forceNoColor:
		return opts, fmt.Errorf("--color and --no-color are mutually exclusive")
	case forceColor:
		on := true
		opts.colorMode = &on
	case forceNoColor:
		off := false
		opts.colorMode = &off
	default:
		opts.colorMode = colorModeFromEnv()
	}

	haveArgs, _ := f.GetStringArray("have")

	opts.have = make(map[requirement.CanonicalName]string, len(haveArgs))

	for _, h := range haveArgs {
		name, ver, ok := strings.Cut(h, "==")
		if !ok {
			return opts, fmt.Errorf("--have %q: expected NAME==VERSION", h)
		}

		opts.have[requirement.Canonicalize(strings.TrimSpace(name))] = strings.TrimSpace(ver)
	}

	return opts, nil
}

// colorModeFromEnv leaves colorMode nil (letting fatih/color's own isatty
// detection decide) unless NO_COLOR or FORCE_COLOR is set, matching
// spec.md §6's "else honor FORCE_COLOR / NO_COLOR" wording.
func colorModeFromEnv() *bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		off := false

		return &off
	}

	if v := os.Getenv("FORCE_COLOR"); v != "" && v != "0" {
		on := true

		return &on
	}

	return nil
}

// indexURL resolves the simple-index base URL: HDEPS_INDEX_URL unless
// -I/--isolate-env asks to ignore environment overrides, in which case the
// pypi client's own baked-in default (pypi.org) is used by returning "".
func indexURL(isolateEnv bool) string {
	if isolateEnv {
		return ""
	}

	return os.Getenv("HDEPS_INDEX_URL")
}

// currentVersionCallback builds the --have lookup closure the selector and
// renderer both consult for current-version hints.
func (o walkFlags) currentVersionCallback() walker.VersionCallback {
	if len(o.have) == 0 {
		return nil
	}

	return func(name requirement.CanonicalName) (string, bool) {
		v, ok := o.have[name]

		return v, ok
	}
}
