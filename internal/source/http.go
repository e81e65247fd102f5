package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HeaderTransport sets fixed headers on every request.
type HeaderTransport struct {
	Headers map[string]string
	Base    http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// HTTPSource fetches http and https locations.
type HTTPSource struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTP creates an HTTPSource. A positive timeout bounds each fetch.
func NewHTTP(timeout time.Duration, headers map[string]string) *HTTPSource {
	client := &http.Client{}
	if len(headers) > 0 {
		client.Transport = &HeaderTransport{
			Headers: headers,
			Base:    http.DefaultTransport,
		}
	}

	return &HTTPSource{
		client:  client,
		timeout: timeout,
	}
}

// Fetch performs a GET and returns the body of a 200 response.
func (s *HTTPSource) Fetch(ctx context.Context, location string) ([]byte, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRetrieval, location, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRetrieval, location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrRetrieval, location, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %w", ErrRetrieval, location, err)
	}

	return data, nil
}
