// Package httpoffload sends measurement processing requests to the remote
// offload endpoint over HTTP.
package httpoffload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBytes = 1 << 20

// Transport POSTs JSON payloads to a fixed endpoint URL. It satisfies the
// offload client's transport interface.
type Transport struct {
	url    string
	client *http.Client
}

// New creates a transport for the given endpoint. The timeout bounds the
// whole request including connect and body read.
func New(url string, timeout time.Duration) (*Transport, error) {
	if url == "" {
		return nil, fmt.Errorf("httpoffload: endpoint url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Transport{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Request performs one offload round trip and returns the raw response body.
func (t *Transport) Request(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("httpoffload: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpoffload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("httpoffload: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("httpoffload: endpoint returned status %d", resp.StatusCode)
	}
	return body, nil
}
