// Package markers evaluates PEP 508 environment marker expressions against
// a target Python environment.
package markers

import (
	"fmt"
	"sort"
	"strings"
)

// EnvironmentMarkers represents the ten standard PEP 508 marker variables
// for a target evaluation environment.
type EnvironmentMarkers struct {
	OSName                       string
	SysPlatform                  string
	PlatformMachine              string
	PlatformPythonImplementation string
	PlatformRelease              string
	PlatformSystem               string
	PlatformVersion              string
	PythonVersion                string
	PythonFullVersion            string
	ImplementationName           string
}

// Option configures an EnvironmentMarkers during construction.
type Option func(*EnvironmentMarkers)

// WithSysPlatform overrides sys_platform (and triggers the coherence rules
// New() applies for win32/darwin/linux).
func WithSysPlatform(platform string) Option {
	return func(m *EnvironmentMarkers) {
		if platform != "" {
			m.SysPlatform = platform
		}
	}
}

// WithPlatformMachine overrides platform_machine.
func WithPlatformMachine(machine string) Option {
	return func(m *EnvironmentMarkers) {
		if machine != "" {
			m.PlatformMachine = machine
		}
	}
}

// New builds an EnvironmentMarkers from a full Python version string (e.g.
// "3.11.2" or "3.11", the latter treated as "3.11.0") and applies the
// post-construction coherence rules.
func New(pythonFullVersion string, opts ...Option) (*EnvironmentMarkers, error) {
	if pythonFullVersion != "" && strings.Count(pythonFullVersion, ".") == 1 {
		pythonFullVersion += ".0"
	}

	m := &EnvironmentMarkers{
		OSName:                       "posix",
		SysPlatform:                  "linux",
		PlatformMachine:              "x86_64",
		PlatformSystem:               "Linux",
		PlatformPythonImplementation: "CPython",
		ImplementationName:           "cpython",
		PythonFullVersion:            pythonFullVersion,
		PythonVersion:                majorMinor(pythonFullVersion),
	}

	for _, opt := range opts {
		opt(m)
	}

	switch m.SysPlatform {
	case "linux":
		if strings.HasPrefix(m.PythonVersion, "2") {
			m.SysPlatform = "linux2"
		}
	case "win32":
		m.PlatformSystem = "Windows"
		m.OSName = "nt"
	case "darwin":
		m.PlatformSystem = "Darwin"
	case "linux2":
		// already normalized above; tolerate being passed explicitly.
	default:
		return nil, fmt.Errorf("unknown sys_platform: %q", m.SysPlatform)
	}

	return m, nil
}

func majorMinor(full string) string {
	idx := strings.LastIndex(full, ".")
	if idx < 0 {
		return full
	}

	return full[:idx]
}

// asMap returns the marker variables as a string-keyed environment, with an
// optional extra value bound to "extra".
func (m *EnvironmentMarkers) asMap(extra string) map[string]string {
	env := map[string]string{
		"os_name":                        m.OSName,
		"sys_platform":                   m.SysPlatform,
		"platform_machine":               m.PlatformMachine,
		"platform_python_implementation": m.PlatformPythonImplementation,
		"platform_release":               m.PlatformRelease,
		"platform_system":                m.PlatformSystem,
		"platform_version":               m.PlatformVersion,
		"python_version":                 m.PythonVersion,
		"python_full_version":            m.PythonFullVersion,
		"implementation_name":            m.ImplementationName,
	}
	if extra != "" {
		env["extra"] = extra
	}

	return env
}

// Match reports whether marker is satisfied. A nil marker always matches.
// When extras is empty, the marker is evaluated once with no "extra" bound.
// When extras is non-empty, Match returns true if the marker is satisfied
// for at least one extra in the (sorted) set — this is how `extra == "x"`
// conditionals in a dependency's own marker are resolved against the
// *parent's* activated extras.
func (m *EnvironmentMarkers) Match(marker *Expr, extras []string) bool {
	if marker == nil {
		return true
	}

	if len(extras) == 0 {
		return marker.Evaluate(m.asMap(""))
	}

	sorted := append([]string(nil), extras...)
	sort.Strings(sorted)

	for _, e := range sorted {
		if marker.Evaluate(m.asMap(e)) {
			return true
		}
	}

	return false
}
