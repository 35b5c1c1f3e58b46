// Package httpexec defines the outbound HTTP executor interface the
// offshore dispatcher depends on. It is a pluggable external collaborator,
// not a subject of the core protocol: this package provides a default
// net/http-backed implementation behind a small interface so it can be
// swapped freely.
package httpexec

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// Response is the buffered result of an outbound HTTP call.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Executor performs one outbound HTTP request and returns a fully buffered
// response. Streaming response bodies is not supported.
type Executor interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error)
}

// StdlibExecutor is the default Executor, backed by net/http.Client.
type StdlibExecutor struct {
	client *http.Client
}

// NewStdlibExecutor builds an Executor with the given per-request timeout
// (0 disables the timeout).
func NewStdlibExecutor(timeout time.Duration) *StdlibExecutor {
	return &StdlibExecutor{client: &http.Client{Timeout: timeout}}
}

func (e *StdlibExecutor) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	outHeaders := make(map[string]string, len(resp.Header))
	for k, values := range resp.Header {
		if len(values) > 0 {
			outHeaders[k] = values[0]
		}
	}

	return &Response{StatusCode: resp.StatusCode, Headers: outHeaders, Body: respBody}, nil
}
