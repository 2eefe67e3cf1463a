// Package nameregistry implements arns.Registry against the name
// system's HTTP facade, following the same thin-wire-client shape
// pkg/chaingateway uses for the storage chain: this repository never
// implements name-system consensus, only calls out to it.
package nameregistry

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

	"github.com/shopspring/decimal"
)

// DefaultCallTimeout bounds a single registry call.
const DefaultCallTimeout = 30 * time.Second

// ErrUnavailable wraps any connectivity or 5xx failure talking to the
// name registry, for callers mapping to apierr.UpstreamUnavailable.
var ErrUnavailable = fmt.Errorf("nameregistry: unavailable")

// HTTPClient is an HTTP-backed arns.Registry.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient constructs a client bound to baseURL, authenticated
// with apiKey if non-empty.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: DefaultCallTimeout},
	}
}

func (c *HTTPClient) authHeader(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("nameregistry: encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("nameregistry: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("nameregistry: %w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("nameregistry: %w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("nameregistry: request rejected: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Price reads the governance-token cost of intent on name.
func (c *HTTPClient) Price(ctx context.Context, intent, name string) (decimal.Decimal, error) {
	var out struct {
		CostNative decimal.Decimal `json:"costNative"`
	}
	path := "/price/" + url.PathEscape(intent) + "/" + url.PathEscape(name)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.CostNative, nil
}

// Submit performs the registry write and returns the resulting
// receipt id once the name system has accepted it.
func (c *HTTPClient) Submit(ctx context.Context, intent, name, payer string) (string, error) {
	var out struct {
		ResultID string `json:"resultId"`
	}
	req := struct {
		Payer string `json:"payer"`
	}{Payer: payer}
	path := "/submit/" + url.PathEscape(intent) + "/" + url.PathEscape(name)
	if err := c.doJSON(ctx, http.MethodPost, path, req, &out); err != nil {
		return "", err
	}
	return out.ResultID, nil
}
