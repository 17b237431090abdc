package pypi

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// RangeReader is an io.ReaderAt over an HTTP resource that serves Range
// requests, letting archive/zip read a remote wheel or zip sdist without
// downloading the whole file. Digest validation is intentionally skipped
// per spec.md §4.4 ("without etag validation") — the blob cache, not this
// reader, is the source of truth for repeat access.
type RangeReader struct {
	ctx        context.Context
	httpClient *http.Client
	url        string
	size       int64
}

// NewRangeReader creates a RangeReader for url. It issues a HEAD request to
// learn the resource's total size, as required by archive/zip.NewReader; if
// the HEAD response reports no positive Content-Length, it fails, with no
// ranged-GET fallback.
func NewRangeReader(ctx context.Context, httpClient *http.Client, url string) (*RangeReader, error) {
	size, err := discoverSize(ctx, httpClient, url)
	if err != nil {
		return nil, fmt.Errorf("discovering size of %s: %w", url, err)
	}

	return &RangeReader{ctx: ctx, httpClient: httpClient, url: url, size: size}, nil
}

// Size returns the total size of the remote resource.
func (r *RangeReader) Size() int64 { return r.size }

// ReadAt implements io.ReaderAt via a single-range HTTP GET.
func (r *RangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}

	end := off + int64(len(p)) - 1
	if end >= r.size {
		end = r.size - 1
	}

	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return 0, err
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, &retryableError{err: fmt.Errorf("ranged GET %s: %w", r.url, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= http.StatusInternalServerError {
			return 0, &retryableError{err: fmt.Errorf("server error %d ranging %s", resp.StatusCode, r.url)}
		}

		return 0, fmt.Errorf("unexpected status %d ranging %s", resp.StatusCode, r.url)
	}

	n, err := io.ReadFull(resp.Body, p[:end-off+1])
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, err
	}

	if int64(n) < int64(len(p)) && off+int64(n) < r.size {
		return n, io.ErrUnexpectedEOF
	}

	return n, nil
}

func discoverSize(ctx context.Context, httpClient *http.Client, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.ContentLength <= 0 {
		return 0, fmt.Errorf("HEAD %s did not report a content length", url)
	}

	return resp.ContentLength, nil
}
