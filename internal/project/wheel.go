package project

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"
)

// wheelDistInfoMetadataPath derives the expected METADATA path from a wheel
// filename, per spec.md's rule that name and version come from the first two
// dash-separated segments of the filename (PEP 427 file-name convention).
func wheelDistInfoMetadataPath(filename string) (string, error) {
	base := strings.TrimSuffix(filename, ".whl")

	parts := strings.SplitN(base, "-", 3)
	if len(parts) < 2 {
		return "", fmt.Errorf("invalid wheel filename %q", filename)
	}

	return parts[0] + "-" + parts[1] + ".dist-info/METADATA", nil
}

// ExtractWheelMetadata reads the {name}-{version}.dist-info/METADATA entry
// out of a wheel opened as a zip archive. Wheels can't carry a setup.py, so
// their METADATA is guaranteed to hold any declared dependencies.
func ExtractWheelMetadata(r io.ReaderAt, size int64, filename string) ([]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("opening wheel %s as zip: %w", filename, err)
	}

	wantPath, err := wheelDistInfoMetadataPath(filename)
	if err != nil {
		return nil, err
	}

	var fallback *zip.File

	for _, f := range zr.File {
		if f.Name == wantPath {
			return readZipFile(f)
		}

		dir, name, ok := strings.Cut(f.Name, "/")
		if ok && strings.HasSuffix(dir, ".dist-info") && name == "METADATA" {
			fallback = f
		}
	}

	if fallback != nil {
		return readZipFile(fallback)
	}

	return nil, fmt.Errorf("no METADATA entry found in wheel %s", filename)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}

	return data, nil
}
