// Package pypi implements the index client contract spec.md §6 names: a
// project-page fetch and a metadata-sidecar fetch, both over HTTP with
// retry/backoff, plus a ranged reader for incremental archive access.
package pypi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://pypi.org/simple"
	maxRetries     = 3
	clientTimeout  = 30 * time.Second

	acceptSimpleJSON = "application/vnd.pypi.simple.v1+json"
)

// Client is the index client contract the walker depends on.
type Client interface {
	// GetProjectPage fetches the simple-index page for a canonicalized
	// project name.
	GetProjectPage(ctx context.Context, name string) (*ProjectPage, error)
	// GetMetadata fetches an index-exposed {filename}.metadata sidecar as
	// text.
	GetMetadata(ctx context.Context, fileURL string) (string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the HTTP client used for index requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithBaseURL sets a custom simple-index base URL (useful for testing with
// httptest.Server, or for an internal index mirror).
func WithBaseURL(url string) Option {
	return func(s *Service) {
		if url != "" {
			s.baseURL = url
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service communicates with a PEP 691 JSON simple index over HTTP.
type Service struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// compile-time proof that Service implements Client.
var _ Client = (*Service)(nil)

// New creates a new simple-index client.
func New(opts ...Option) *Service {
	s := &Service{
		httpClient: &http.Client{Timeout: clientTimeout},
		baseURL:    defaultBaseURL,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GetProjectPage fetches GET {baseURL}/{name}/ as JSON.
func (s *Service) GetProjectPage(ctx context.Context, name string) (*ProjectPage, error) {
	url := fmt.Sprintf("%s/%s/", s.baseURL, name)

	body, err := s.fetchWithRetry(ctx, url, name)
	if err != nil {
		return nil, err
	}

	var page ProjectPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decoding project page for %s: %w", name, err)
	}

	return &page, nil
}

// GetMetadata fetches an index-exposed .metadata sidecar as text.
func (s *Service) GetMetadata(ctx context.Context, fileURL string) (string, error) {
	body, err := s.fetchWithRetry(ctx, fileURL+".metadata", fileURL)
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// fetchWithRetry performs an HTTP GET with retry and exponential backoff.
// Only transient errors (5xx, network errors) are retried; permanent errors
// (404, decode failures) are returned immediately.
func (s *Service) fetchWithRetry(ctx context.Context, url, label string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond
			s.logger.Debug("retrying index request",
				slog.String("label", label),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetching %s: %w", label, ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := s.doRequest(ctx, url)
		if err == nil {
			return body, nil
		}

		var re *retryableError
		if !errors.As(err, &re) {
			return nil, fmt.Errorf("fetching %s: %w", label, err)
		}

		lastErr = err
		s.logger.Debug("index request failed",
			slog.String("label", label),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("fetching %s after %d attempts: %w", label, maxRetries, lastErr)
}

// retryableError wraps errors that are transient and can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// doRequest performs a single HTTP GET and returns the response body.
// Returns a retryableError for transient failures (5xx, network errors).
func (s *Service) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}

	req.Header.Set("Accept", acceptSimpleJSON)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("requesting %s: %w", url, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("not found at %s", url)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &retryableError{err: fmt.Errorf("server error %d from %s", resp.StatusCode, url)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("reading response from %s: %w", url, err)}
	}

	return body, nil
}
