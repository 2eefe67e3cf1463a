// Package oracle implements pricing.FiatOracle against an HTTP feed,
// the same thin-wire-client shape pkg/chaingateway uses for the
// storage chain: this repository never computes exchange rates, it
// only calls out to a service that does.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCallTimeout bounds a single rate lookup.
const DefaultCallTimeout = 15 * time.Second

// ErrUnavailable wraps any connectivity or 5xx failure talking to the
// rate feed, for callers mapping to apierr.UpstreamUnavailable.
var ErrUnavailable = fmt.Errorf("oracle: unavailable")

// HTTPClient is an HTTP-backed pricing.FiatOracle.
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
			return fmt.Errorf("oracle: encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("oracle: %w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("oracle: %w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("oracle: request rejected: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// USDPerNative reports the USD price of one whole unit of the storage
// chain's native token.
func (c *HTTPClient) USDPerNative(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/native/usd", nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Rate, nil
}

// FiatPerUSD reports how many units of currency one USD buys, for
// converting a USD-denominated cost into the buyer's checkout
// currency.
func (c *HTTPClient) FiatPerUSD(ctx context.Context, currency string) (decimal.Decimal, error) {
	var out struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/fiat/"+strings.ToLower(currency)+"/usd", nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Rate, nil
}

// USDPerStablecoin reports the USD price of one whole unit of the
// named stablecoin network's settlement asset; nominally ~1 but
// tracked live so depegs don't silently overcredit or undercredit.
func (c *HTTPClient) USDPerStablecoin(ctx context.Context, network string) (decimal.Decimal, error) {
	var out struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/stablecoin/"+strings.ToLower(network)+"/usd", nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Rate, nil
}
