package project

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/hdeps/hdeps/internal/requirement"
)

// Metadata is the subset of a distribution's core metadata the walker acts
// on: its declared dependencies and extras, plus which archive kinds the
// release was published as.
type Metadata struct {
	Requires []requirement.Requirement
	Extras   []string
	HasSdist bool
	HasWheel bool
}

// ParseMetadata reads an RFC 5322-style METADATA or PKG-INFO payload (or one
// synthesized from a requires.txt translation) and extracts Requires-Dist
// and Provides-Extra headers. Invalid Requires-Dist lines are logged and
// dropped rather than failing the whole parse, matching the leniency a real
// index full of imperfectly-published packages requires.
func ParseMetadata(logger *slog.Logger, raw []byte) (*Metadata, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("metadata is not valid UTF-8")
	}

	// net/mail.ReadMessage errors on a message with no body; append a
	// blank line so a headers-only payload still parses.
	buf := bytes.NewBuffer(raw)
	buf.WriteByte('\n')

	msg, err := mail.ReadMessage(buf)
	if err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}

	md := &Metadata{}

	for _, line := range msg.Header["Requires-Dist"] {
		req, err := requirement.Parse(line)
		if err != nil {
			logger.Warn("skipping invalid requirement", slog.String("raw", line), slog.String("error", err.Error()))

			continue
		}

		md.Requires = append(md.Requires, req)
	}

	for _, extra := range msg.Header["Provides-Extra"] {
		if extra = strings.TrimSpace(extra); extra != "" {
			md.Extras = append(md.Extras, extra)
		}
	}

	return md, nil
}
