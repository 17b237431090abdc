// Package walker implements the dependency graph builder: a bounded-
// concurrency scheduler that turns seed requirements into a DAG of Choices
// by repeatedly fetching project pages and release metadata.
package walker

import (
	"fmt"
	"strings"

	"github.com/hdeps/hdeps/internal/markers"
	"github.com/hdeps/hdeps/internal/requirement"
	"github.com/hdeps/hdeps/internal/version"
)

// Choice is a node in the output graph: one selected version of one
// project, activated with a particular set of extras.
type Choice struct {
	Name     requirement.CanonicalName
	Version  version.Version
	Extras   []string
	Deps     []*Edge
	HasSdist bool
	HasWheel bool
}

// Key returns the deduplication identity (name, version, extras). Extras
// are kept in their original (requirement) order, not sorted: two edges
// reaching the same project+version by way of differently-ordered extras
// lists are vanishingly rare in practice and the original walk order is
// preserved rather than imposing one here.
func (c *Choice) Key() string {
	return fmt.Sprintf("%s==%s[%s]", c.Name, c.Version.String(), strings.Join(c.Extras, ","))
}

// Edge is a labeled arc from a parent Choice to a child Choice.
type Edge struct {
	Target    *Choice
	Specifier version.Specifiers
	Marker    *markers.Expr
	Note      string
}

// rootName and rootVersion identify the sentinel root of every walk.
const rootName = requirement.CanonicalName("-")

var rootVersion = version.MustParse("0")

// newRoot returns a fresh sentinel root Choice.
func newRoot() *Choice {
	return &Choice{Name: rootName, Version: rootVersion}
}
