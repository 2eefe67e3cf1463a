package interservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client makes signed calls to the other service.
type Client struct {
	baseURL   string
	secretHex string
	http      *http.Client
}

// NewClient constructs a Client bound to baseURL.
func NewClient(baseURL, secretHex string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretHex: secretHex,
		http:      &http.Client{Timeout: timeout},
	}
}

// GetJSON signs and sends a GET request (path may carry a query
// string), decoding the JSON response into out. The signature covers
// an empty body, matching SignRequest's treatment of bodyless requests.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("interservice: build request: %w", err)
	}
	if err := SignRequest(req, c.secretHex, nil); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("interservice: request failed: %w", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("interservice: decode response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp, nil
}

// PostJSON signs and sends a JSON POST, decoding the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) (*http.Response, error) {
	var body []byte
	var err error
	if in != nil {
		body, err = json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("interservice: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("interservice: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := SignRequest(req, c.secretHex, body); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("interservice: request failed: %w", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("interservice: decode response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp, nil
}
