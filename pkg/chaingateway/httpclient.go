package chaingateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPClient talks to the chain gateway's HTTP facade. The gateway
// itself (consensus, lite-client proofs, mempool) is out of scope per
// spec §1; this is only the thin wire client.
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
			return fmt.Errorf("chaingateway: encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("chaingateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chaingateway: %w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("chaingateway: %w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		return fmt.Errorf("chaingateway: %w: status %d", ErrInsufficientBalance, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("chaingateway: request rejected: status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ErrUnavailable wraps any connectivity or 5xx failure talking to the
// chain gateway, for callers mapping to apierr.UpstreamUnavailable.
var ErrUnavailable = fmt.Errorf("chaingateway: unavailable")

// ErrInsufficientBalance wraps a 402 rejecting SubmitTx because the
// bundler wallet cannot cover the transaction's native-token fee. The
// poster stage treats this as unrecoverable rather than retrying a
// submission the gateway will keep rejecting.
var ErrInsufficientBalance = fmt.Errorf("chaingateway: insufficient wallet balance")

func (c *HTTPClient) CurrentHeight(ctx context.Context) (int64, error) {
	var out struct {
		Height int64 `json:"height"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/height", nil, &out); err != nil {
		return 0, err
	}
	return out.Height, nil
}

func (c *HTTPClient) PricePerUnit(ctx context.Context) (string, error) {
	var out struct {
		PricePerUnit string `json:"price_per_unit"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/price", nil, &out); err != nil {
		return "", err
	}
	return out.PricePerUnit, nil
}

func (c *HTTPClient) SubmitTx(ctx context.Context, signedTxBytes []byte) (string, error) {
	var out struct {
		TxID string `json:"tx_id"`
	}
	req := struct {
		Data []byte `json:"data"`
	}{Data: signedTxBytes}
	if err := c.doJSON(ctx, http.MethodPost, "/tx", req, &out); err != nil {
		return "", err
	}
	return out.TxID, nil
}

func (c *HTTPClient) SeedChunks(ctx context.Context, txID string, payload io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultSeedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chunk/"+txID, payload)
	if err != nil {
		return fmt.Errorf("chaingateway: build seed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.authHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chaingateway: %w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("chaingateway: seed rejected: status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) GetTxStatus(ctx context.Context, txID string) (TxStatus, error) {
	var out TxStatus
	if err := c.doJSON(ctx, http.MethodGet, "/tx/"+txID+"/status", nil, &out); err != nil {
		return TxStatus{}, err
	}
	return out, nil
}

func (c *HTTPClient) QueryIndexed(ctx context.Context, itemIDs []string) (map[string]bool, error) {
	var out struct {
		Indexed map[string]bool `json:"indexed"`
	}
	req := struct {
		ItemIDs []string `json:"item_ids"`
	}{ItemIDs: itemIDs}
	if err := c.doJSON(ctx, http.MethodPost, "/query/indexed", req, &out); err != nil {
		return nil, err
	}
	return out.Indexed, nil
}

func (c *HTTPClient) WalletBalance(ctx context.Context) (string, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/wallet/balance", nil, &out); err != nil {
		return "", err
	}
	return out.Balance, nil
}

func (c *HTTPClient) InspectDeposit(ctx context.Context, chainTxID string) (DepositInfo, error) {
	var out DepositInfo
	if err := c.doJSON(ctx, http.MethodGet, "/deposit/"+chainTxID, nil, &out); err != nil {
		return DepositInfo{}, err
	}
	return out, nil
}

var _ Client = (*HTTPClient)(nil)
