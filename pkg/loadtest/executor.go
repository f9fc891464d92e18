package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Executor sends a single request described by an EndpointSpec. It returns
// nil for any HTTP response regardless of status code, and a *TransportError
// when the request could not be delivered.
type Executor interface {
	Execute(ctx context.Context, endpoint EndpointSpec) error
}

// HTTPExecutor is the net/http backed Executor
type HTTPExecutor struct {
	httpClient *http.Client
}

// NewHTTPExecutor creates an executor sized for the given number of workers
func NewHTTPExecutor(concurrency int) *HTTPExecutor {
	if concurrency < 1 {
		concurrency = 1
	}

	// Persistent connections, one idle slot per worker
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        concurrency * 2,
		MaxIdleConnsPerHost: concurrency,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
	}

	// No client timeout: per-request limits come from the context
	return &HTTPExecutor{
		httpClient: &http.Client{Transport: transport},
	}
}

// NewHTTPExecutorWithClient wraps an existing client
func NewHTTPExecutorWithClient(client *http.Client) *HTTPExecutor {
	return &HTTPExecutor{httpClient: client}
}

// Execute implements Executor
func (e *HTTPExecutor) Execute(ctx context.Context, endpoint EndpointSpec) error {
	req, err := buildRequest(ctx, endpoint)
	if err != nil {
		return &TransportError{Method: endpoint.Method, URL: endpoint.URL, Err: err}
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: endpoint.Method, URL: endpoint.URL, Err: err}
	}
	defer resp.Body.Close()

	// Drain so the connection goes back to the pool
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// CloseIdleConnections releases pooled connections after a run
func (e *HTTPExecutor) CloseIdleConnections() {
	e.httpClient.CloseIdleConnections()
}

func buildRequest(ctx context.Context, endpoint EndpointSpec) (*http.Request, error) {
	u, err := url.Parse(endpoint.URL)
	if err != nil {
		return nil, fmt.Errorf("malformed url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("malformed url: %q is not absolute", endpoint.URL)
	}

	if len(endpoint.QueryParams) > 0 {
		q := u.Query()
		for k, v := range endpoint.QueryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	isJSON := false
	if endpoint.Method.HasBody() && endpoint.Body != nil {
		payload, raw, err := encodeBody(endpoint.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
		isJSON = !raw
	}

	req, err := http.NewRequestWithContext(ctx, string(endpoint.Method), u.String(), body)
	if err != nil {
		return nil, err
	}

	// Names are sent as given, without canonicalization
	hasContentType := false
	for k, v := range endpoint.Headers {
		switch {
		case strings.EqualFold(k, "Host"):
			req.Host = v
			continue
		case strings.EqualFold(k, "Content-Type"):
			hasContentType = true
		}
		req.Header[k] = []string{v}
	}
	if isJSON && !hasContentType {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// encodeBody serializes a structured body as JSON. Strings and byte slices
// are sent as-is.
func encodeBody(v any) ([]byte, bool, error) {
	switch b := v.(type) {
	case string:
		return []byte(b), true, nil
	case []byte:
		return b, true, nil
	case json.RawMessage:
		return b, false, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode body: %w", err)
	}
	return data, false, nil
}
