package project

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
)

// ExtractZipSdistMetadata builds a synthetic RFC 5322 metadata payload from
// a zip sdist: PKG-INFO if present, supplemented with Requires-Dist/
// Provides-Extra headers translated from requires.txt when PKG-INFO itself
// declares no dependencies (the common case for setuptools-era packages).
func ExtractZipSdistMetadata(r io.ReaderAt, size int64) ([]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("opening sdist as zip: %w", err)
	}

	var names []string

	fileByName := map[string]*zip.File{}

	for _, f := range zr.File {
		_, rel, ok := strings.Cut(f.Name, "/")
		if !ok {
			continue
		}

		names = append(names, f.Name)
		fileByName[rel] = f
	}

	var pkgInfo, requiresTxt []byte

	if f, ok := fileByName["PKG-INFO"]; ok {
		if pkgInfo, err = readZipFile(f); err != nil {
			return nil, err
		}
	}

	for _, candidate := range FilterRequiresTxtNames(names) {
		f, err := findZipFile(zr, candidate)
		if err != nil {
			return nil, err
		}

		if requiresTxt, err = readZipFile(f); err != nil {
			return nil, err
		}

		break
	}

	return combineSdistMetadata(pkgInfo, requiresTxt)
}

// ExtractTarSdistMetadata is the tar-sdist counterpart of
// ExtractZipSdistMetadata. r should be the raw (optionally gzip-compressed)
// archive bytes; gzipped is true for .tar.gz/.tgz archives.
func ExtractTarSdistMetadata(r io.Reader, gzipped bool) ([]byte, error) {
	if gzipped {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip sdist: %w", err)
		}
		defer func() { _ = gz.Close() }()

		r = gz
	}

	tr := tar.NewReader(r)

	var pkgInfo, requiresTxt []byte

	var names []string

	contents := map[string][]byte{}

	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading tar sdist: %w", err)
		}

		if h.Typeflag != tar.TypeReg {
			continue
		}

		_, rel, ok := strings.Cut(h.Name, "/")
		if !ok {
			continue
		}

		names = append(names, h.Name)

		if rel == "PKG-INFO" || strings.HasSuffix(h.Name, "/requires.txt") {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", h.Name, err)
			}

			contents[h.Name] = data

			if rel == "PKG-INFO" {
				pkgInfo = data
			}
		}
	}

	for _, candidate := range FilterRequiresTxtNames(names) {
		if data, ok := contents[candidate]; ok {
			requiresTxt = data

			break
		}
	}

	return combineSdistMetadata(pkgInfo, requiresTxt)
}

func findZipFile(zr *zip.Reader, name string) (*zip.File, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f, nil
		}
	}

	return nil, fmt.Errorf("zip entry %s not found", name)
}

// combineSdistMetadata assembles a logical metadata payload out of an
// optional PKG-INFO body and an optional requires.txt body. PKG-INFO's own
// Requires-Dist headers win when present; requires.txt is only consulted as
// a fallback, per §4.4.1.
func combineSdistMetadata(pkgInfo, requiresTxt []byte) ([]byte, error) {
	if pkgInfo == nil && requiresTxt == nil {
		return nil, fmt.Errorf("no PKG-INFO or requires.txt found in sdist")
	}

	var buf bytes.Buffer

	hasRequiresDist := bytes.Contains(pkgInfo, []byte("Requires-Dist:"))

	if pkgInfo != nil {
		buf.Write(pkgInfo)

		if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
			buf.WriteByte('\n')
		}
	}

	if !hasRequiresDist && requiresTxt != nil {
		lines, extras := ConvertRequiresTxt(string(requiresTxt))

		for _, line := range lines {
			fmt.Fprintf(&buf, "Requires-Dist: %s\n", line)
		}

		for _, extra := range extras {
			fmt.Fprintf(&buf, "Provides-Extra: %s\n", extra)
		}
	}

	buf.WriteByte('\n')

	return buf.Bytes(), nil
}
