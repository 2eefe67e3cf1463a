// Package paymentclient is the upload service's interservice client
// into the payment service's protected balance and gasless-payment
// endpoints (spec §4.2, §4.3, §4.5).
package paymentclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/certen/bundler-gateway/pkg/interservice"
)

// ErrInsufficientBalance mirrors the payment service's 402 response.
var ErrInsufficientBalance = fmt.Errorf("paymentclient: insufficient balance")

type Client struct {
	inter *interservice.Client
}

func New(baseURL, sharedSecret string, callTimeoutSeconds int) *Client {
	return &Client{inter: interservice.NewClient(baseURL, sharedSecret, time.Duration(callTimeoutSeconds)*time.Second)}
}

// CheckResult mirrors HandleCheck's response body.
type CheckResult struct {
	Sufficient bool            `json:"sufficient"`
	Cost       decimal.Decimal `json:"cost"`
	Spendable  decimal.Decimal `json:"spendable"`
}

// Check calls GET /check-balance/:scheme/:address, the balance-check
// performed before a one-shot ingest falls back to the ledger (spec
// §4.5 step 6).
func (c *Client) Check(ctx context.Context, scheme, address string, declaredBytes int64, paidBy []string, directive string) (*CheckResult, error) {
	path := fmt.Sprintf("/check-balance/%s/%s?%s", scheme, address, balanceQuery(declaredBytes, "", directive, paidBy))
	var result CheckResult
	resp, err := c.inter.GetJSON(ctx, path, &result)
	if err != nil {
		return nil, fmt.Errorf("paymentclient: check-balance: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("paymentclient: check-balance returned %d", resp.StatusCode)
	}
	return &result, nil
}

// ReserveResult mirrors HandleReserve's response body.
type ReserveResult struct {
	ReservationID string          `json:"reservationId"`
	Amount        decimal.Decimal `json:"amount"`
}

// Reserve calls GET /reserve-balance/:scheme/:address, encumbering
// balance for a data item before it is accepted (spec §4.5 step 6).
func (c *Client) Reserve(ctx context.Context, scheme, address string, declaredBytes int64, paidBy []string, directive, dataItemID string) (*ReserveResult, error) {
	path := fmt.Sprintf("/reserve-balance/%s/%s?%s", scheme, address, balanceQuery(declaredBytes, dataItemID, directive, paidBy))
	var result ReserveResult
	resp, err := c.inter.GetJSON(ctx, path, &result)
	if err != nil {
		return nil, fmt.Errorf("paymentclient: reserve-balance: %w", err)
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		return nil, ErrInsufficientBalance
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("paymentclient: reserve-balance returned %d", resp.StatusCode)
	}
	return &result, nil
}

// Refund calls GET /refund-balance/:scheme/:address, releasing a
// reservation when the upload it backed ultimately fails (spec §4.5
// step 7's abort path, and multipart abort).
func (c *Client) Refund(ctx context.Context, scheme, address, dataItemID string) error {
	path := fmt.Sprintf("/refund-balance/%s/%s?dataItemId=%s", scheme, address, url.QueryEscape(dataItemID))
	resp, err := c.inter.GetJSON(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("paymentclient: refund-balance: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("paymentclient: refund-balance returned %d", resp.StatusCode)
	}
	return nil
}

// GaslessPayload is the client-supplied X-PAYMENT payload, relayed
// verbatim to the payment service's gasless verify+settle endpoint.
type GaslessPayload map[string]interface{}

// SettleResult mirrors HandlePayment's response body.
type SettleResult struct {
	Status      string `json:"status"`
	ChainTxHash string `json:"chainTxHash"`
	PaymentID   string `json:"paymentId"`
	Network     string `json:"network"`
}

// VerifyAndSettle calls POST /x402/payment/:scheme/:address, verifying
// and settling a gasless stablecoin payment and binding it to
// dataItemID (spec §4.5 step 6's gasless branch).
func (c *Client) VerifyAndSettle(ctx context.Context, scheme, address string, payload GaslessPayload, declaredBytes int64, dataItemID, mode string) (*SettleResult, error) {
	req := map[string]interface{}{
		"payload":       payload,
		"declaredBytes": declaredBytes,
		"dataItemId":    dataItemID,
		"mode":          mode,
	}
	path := fmt.Sprintf("/x402/payment/%s/%s", scheme, address)
	var result SettleResult
	resp, err := c.inter.PostJSON(ctx, path, req, &result)
	if err != nil {
		return nil, fmt.Errorf("paymentclient: x402 payment: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("paymentclient: x402 payment returned %d", resp.StatusCode)
	}
	return &result, nil
}

// Finalize calls POST /x402/finalize once an item's actual byte count
// is known, settling any overage/underage against the reservation
// (spec §4.5 step 6, §8 penalty case).
func (c *Client) Finalize(ctx context.Context, dataItemID string, actualByteCount int64) error {
	req := map[string]interface{}{"dataItemId": dataItemID, "actualByteCount": actualByteCount}
	resp, err := c.inter.PostJSON(ctx, "/x402/finalize", req, nil)
	if err != nil {
		return fmt.Errorf("paymentclient: x402 finalize: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("paymentclient: x402 finalize returned %d", resp.StatusCode)
	}
	return nil
}

func balanceQuery(declaredBytes int64, dataItemID, directive string, paidBy []string) string {
	v := url.Values{}
	v.Set("bytes", strconv.FormatInt(declaredBytes, 10))
	if dataItemID != "" {
		v.Set("dataItemId", dataItemID)
	}
	if directive != "" {
		v.Set("directive", directive)
	}
	for _, p := range paidBy {
		v.Add("paidBy", p)
	}
	return v.Encode()
}
