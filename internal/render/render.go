// Package render prints the graph a Walker built, either as a flat
// install-ordered list or as an indented, color-coded tree, per spec.md
// §4.7.
package render

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/hdeps/hdeps/internal/requirement"
	"github.com/hdeps/hdeps/internal/version"
	"github.com/hdeps/hdeps/internal/walker"
)

// visitKey is the (name, version, extras) dedup identity spec.md §3 names
// for a Choice, used by both renderers to track first-visit-ness.
type visitKey struct {
	name   requirement.CanonicalName
	ver    string
	extras string
}

func keyOf(c *walker.Choice) visitKey {
	return visitKey{name: c.Name, ver: c.Version.String(), extras: strings.Join(c.Extras, ",")}
}

// InstallOrder writes a depth-first post-order, first-visit-only flat list:
// `name[extras]==version` once per distinct triple, in dependency-before-
// dependent order.
func InstallOrder(w io.Writer, root *walker.Choice) {
	seen := map[visitKey]bool{}

	var walk func(c *walker.Choice)

	walk = func(c *walker.Choice) {
		for _, e := range c.Deps {
			key := keyOf(e.Target)
			alreadyListed := seen[key]
			seen[key] = true

			if len(e.Target.Deps) > 0 {
				walk(e.Target)
			}

			if !alreadyListed {
				fmt.Fprintf(w, "%s%s==%s\n", e.Target.Name, extrasSuffix(e.Target.Extras, false), e.Target.Version.String())
			}
		}
	}

	walk(root)
}

// tag names a semantic color per spec.md §4.7's policy table.
type tag string

const (
	tagConflict  tag = "conflict"
	tagGood      tag = "good"
	tagHaveReuse tag = "have_reuse"
	tagNoSdist   tag = "no_sdist"
	tagNoWheel   tag = "no_wheel"
)

var tagAttr = map[tag]color.Attribute{
	tagConflict:  color.FgMagenta,
	tagGood:      color.FgGreen,
	tagHaveReuse: color.FgCyan,
	tagNoSdist:   color.FgRed,
	tagNoWheel:   color.FgBlue,
}

// PrintLegend writes the color legend tree output can be prefaced with.
func PrintLegend(w io.Writer, colorMode *bool) {
	fmt.Fprintf(w, "%s is what you hope to see.\n", styled("[good]", tagGood, colorMode))
	fmt.Fprintf(w, "%s means two different versions were found during this walk.\n", styled("[conflict]", tagConflict, colorMode))
	fmt.Fprintf(w, "%s means this project does not have an sdist. (Watch out if you want to build from source.)\n", styled("[no_sdist]", tagNoSdist, colorMode))
	fmt.Fprintf(w, "%s means that a version given with --have was kept.\n", styled("[have_reuse]", tagHaveReuse, colorMode))
	fmt.Fprintln(w)
}

// Tree writes a depth-first pre-order tree with ". "-per-depth indent, per
// spec.md §4.7's node coloring table.
func Tree(
	w io.Writer,
	root *walker.Choice,
	knownConflicts map[requirement.CanonicalName][]version.Version,
	currentVersionCallback walker.VersionCallback,
	colorMode *bool,
) {
	seen := map[visitKey]bool{}

	var walk func(c *walker.Choice, depth int)

	walk = func(c *walker.Choice, depth int) {
		prefix := strings.Repeat(". ", depth)

		for _, e := range c.Deps {
			key := keyOf(e.Target)
			alreadyListed := seen[key]
			seen[key] = true

			extras := extrasSuffix(e.Target.Extras, true)

			markerSuffix := ""
			if e.Marker != nil {
				markerSuffix = "; " + e.Marker.String()
			}

			specifierText := "*"
			if !e.Specifier.Empty() {
				specifierText = e.Specifier.String()
			}

			specifierStyled := maybeColor(specifierText, color.FgYellow, colorMode)

			if alreadyListed {
				t := tag("")
				if isConflicted(e.Target.Name, knownConflicts) && !e.Specifier.Empty() {
					t = tagConflict
				}

				line := fmt.Sprintf("%s (==%s) (already listed)%s via %s",
					styled(string(e.Target.Name), t, colorMode), e.Target.Version.String(), markerSuffix, specifierStyled)
				fmt.Fprintln(w, prefix+line+extras)

				continue
			}

			t := pickTag(e.Target, e.Target.Name, knownConflicts, currentVersionCallback)

			wheelSuffix := ""
			if !e.Target.HasWheel {
				wheelSuffix = maybeColor(" no whl", color.FgBlue, colorMode)
			}

			line := fmt.Sprintf("%s%s (==%s)%s via %s%s",
				styled(string(e.Target.Name), t, colorMode), extras, e.Target.Version.String(), markerSuffix, specifierStyled, wheelSuffix)
			fmt.Fprintln(w, prefix+line)

			if len(e.Target.Deps) > 0 {
				walk(e.Target, depth+1)
			}
		}
	}

	walk(root, 0)
}

// pickTag applies spec.md §4.7's color-policy table, first row wins. Unlike
// the already-listed branch in Tree (which only flags a conflict when the
// edge carries a non-empty specifier, per resolution.py's `print_tree`),
// a first-visit node belonging to a known_conflicts project is colored
// tagConflict unconditionally — matching resolution.py:322-324, where the
// specifier-emptiness gate applies only to the "already listed" case.
func pickTag(
	choice *walker.Choice,
	name requirement.CanonicalName,
	knownConflicts map[requirement.CanonicalName][]version.Version,
	currentVersionCallback walker.VersionCallback,
) tag {
	if isConflicted(name, knownConflicts) {
		return tagConflict
	}

	if currentVersionCallback != nil {
		if s, ok := currentVersionCallback(name); ok && s != "" {
			if v, err := version.Parse(s); err == nil && v.Compare(choice.Version) == 0 {
				return tagHaveReuse
			}
		}
	}

	if !choice.HasSdist {
		return tagNoSdist
	}

	return tagGood
}

func isConflicted(name requirement.CanonicalName, knownConflicts map[requirement.CanonicalName][]version.Version) bool {
	_, ok := knownConflicts[name]

	return ok
}

// styled applies t's color to a project name when colorMode permits, and
// appends a bracketed `[tag]` annotation when colorization is explicitly
// off so the semantic stays legible even with color disabled.
func styled(s string, t tag, colorMode *bool) string {
	if t == "" {
		return s
	}

	if colorMode != nil && !*colorMode {
		return s + fmt.Sprintf(" [%s]", t)
	}

	attr, ok := tagAttr[t]
	if !ok {
		return s
	}

	return maybeColor(s, attr, colorMode)
}

// maybeColor applies attr unless colorMode explicitly forces color off; a
// nil colorMode lets the color package's own auto-detection (FORCE_COLOR /
// NO_COLOR / isatty) decide.
func maybeColor(s string, attr color.Attribute, colorMode *bool) string {
	c := color.New(attr)
	if colorMode != nil {
		if *colorMode {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return c.Sprint(s)
}

func extrasSuffix(extras []string, sortThem bool) string {
	if len(extras) == 0 {
		return ""
	}

	list := extras
	if sortThem {
		list = append([]string(nil), extras...)
		sort.Strings(list)
	}

	return "[" + strings.Join(list, ", ") + "]"
}
