package common

import (
	"fmt"
	"net/http"
)

// HttpClient is the transport the request client sends through.
// The request's context carries the abort signal: a per-attempt timeout
// cancels the in-flight call. This allows mocking or custom transport layers in testing.
type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
	CloseIdleConnections()
}

// HTTPError is a custom error that captures unexpected status codes and response bodies.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// userAgentRoundTripper is a custom RoundTripper that adds a User-Agent header.
type userAgentRoundTripper struct {
	Wrapped   http.RoundTripper
	UserAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone request to avoid mutating the original
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.UserAgent)
	return rt.Wrapped.RoundTrip(clone)
}

// Implementation of HttpClient that wraps a standard *http.Client.
type httpClient struct {
	client *http.Client
}

// NewHttpClient returns a new HttpClient with a custom User-Agent.
// No client-wide timeout is set; deadlines come from each request's context.
func NewHttpClient(userAgent string, base *http.Client) HttpClient {
	if base == nil {
		base = &http.Client{}
	}
	if base.Transport == nil {
		base.Transport = http.DefaultTransport
	}
	if userAgent != "" {
		base.Transport = &userAgentRoundTripper{
			Wrapped:   base.Transport,
			UserAgent: userAgent,
		}
	}

	return &httpClient{
		client: base,
	}
}

func (h *httpClient) Do(req *http.Request) (*http.Response, error) {
	return h.client.Do(req)
}

func (h *httpClient) CloseIdleConnections() {
	h.client.CloseIdleConnections()
}
