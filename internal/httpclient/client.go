// Package httpclient constructs the shared HTTP client and the JSON POST
// helper every flow uses. One client backs the whole run; its connection pool
// must tolerate all flows firing simultaneously.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const maxBodyReadSize = 1024 * 1024

// NewClient builds a pooled HTTP client suitable for many concurrent
// logical requests against a single host.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Response carries an HTTP status and the raw response body.
type Response struct {
	Status int
	Body   []byte
}

// PostJSON sends payload as a JSON POST and reads the full response body
// (up to 1MB). A non-nil error means the request never produced a response;
// HTTP-level status codes are the caller's concern.
func PostJSON(ctx context.Context, client *http.Client, url string, payload any, headers http.Header) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, values := range headers {
		for _, val := range values {
			req.Header.Add(key, val)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyReadSize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{Status: resp.StatusCode, Body: raw}, nil
}
