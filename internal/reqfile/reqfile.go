// Package reqfile parses the simplified requirements-file grammar spec.md
// §6 describes: one requirement per line, "#" end-of-line comments, blank
// lines skipped, and "-"-prefixed option lines ignored with a one-time
// warning.
package reqfile

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hdeps/hdeps/internal/requirement"
)

// ParseFile reads path and parses it with Parse.
func ParseFile(path string, logger *slog.Logger) ([]requirement.Requirement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading requirements file %s: %w", path, err)
	}

	return Parse(string(data), logger)
}

// Parse parses requirements-file text. Invalid requirement lines are
// logged and dropped, never fatal (spec.md §7: *InvalidRequirement* is
// always locally recovered). The "ignoring non-simple directives" warning
// is shown at most once per call, matching spec.md §9's direction to make
// the latch per-reader rather than a hidden global.
func Parse(text string, logger *slog.Logger) ([]requirement.Requirement, error) {
	var (
		reqs      []requirement.Requirement
		shownOnce bool
	)

	for _, line := range strings.Split(text, "\n") {
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "-") {
			if !shownOnce {
				logger.Warn("non-simple requirements-file directives are ignored (this message only prints once)")

				shownOnce = true
			}

			logger.Info("ignoring requirements-file line", slog.String("line", line))

			continue
		}

		req, err := requirement.Parse(line)
		if err != nil {
			logger.Warn("skipping invalid requirement line", slog.String("line", line), slog.String("error", err.Error()))

			continue
		}

		reqs = append(reqs, req)
	}

	return reqs, nil
}
