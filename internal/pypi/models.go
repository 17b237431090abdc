package pypi

import "encoding/json"

// ProjectPage is the PEP 691 JSON "simple" index response for one project:
// GET {index}/simple/{project}/ with Accept: application/vnd.pypi.simple.v1+json
type ProjectPage struct {
	Name  string `json:"name"`
	Files []File `json:"files"`
}

// File describes one distribution (wheel or sdist) listed on a project page.
type File struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Size           int64             `json:"size"`
	Hashes         map[string]string `json:"hashes"`
	RequiresPython string            `json:"requires-python"`
	// Yanked is either a bool or a free-form reason string on the wire; both
	// only matter here insofar as "is it yanked at all", so it is decoded
	// loosely and normalized by UnmarshalJSON.
	Yanked bool `json:"-"`
	// CoreMetadata reports whether the index exposes a pre-extracted
	// {filename}.metadata sidecar for this file (PEP 658 / PEP 714).
	CoreMetadata bool `json:"-"`
}

// PackageType classifies a File by its filename extension.
func (f File) PackageType() string {
	switch {
	case hasSuffix(f.Filename, ".whl"):
		return "wheel"
	case hasSuffix(f.Filename, ".tar.gz"), hasSuffix(f.Filename, ".tgz"), hasSuffix(f.Filename, ".zip"):
		return "sdist"
	default:
		return "other"
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// UnmarshalJSON decodes a simple-index file entry, tolerating the union
// types the PEP 691 wire format uses: "yanked" is a bool or a reason string,
// and "core-metadata" is a bool or a per-hash-algorithm object.
func (f *File) UnmarshalJSON(data []byte) error {
	type alias File

	var wire struct {
		alias
		Yanked       json.RawMessage `json:"yanked"`
		CoreMetadata json.RawMessage `json:"core-metadata"`
	}

	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*f = File(wire.alias)

	f.Yanked = decodeBoolOrNonEmpty(wire.Yanked)
	f.CoreMetadata = decodeBoolOrNonEmpty(wire.CoreMetadata)

	return nil
}

// decodeBoolOrNonEmpty interprets a JSON value that is either a bool, a
// non-empty object/string (both treated as "true"), or absent/null/false.
func decodeBoolOrNonEmpty(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}

	return string(raw) != `""` && string(raw) != "{}"
}
