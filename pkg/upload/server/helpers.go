package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/certen/bundler-gateway/pkg/upload/ingest"
	"github.com/certen/bundler-gateway/pkg/upload/paymentclient"
)

// xPaymentHeader carries the client's gasless-stablecoin authorization
// as base64-encoded JSON (spec §4.5 step 6, §6).
const xPaymentHeader = "X-PAYMENT"

// parseGaslessParams decodes the X-PAYMENT header when present. Its
// absence is not an error: callers fall back to the balance path.
func parseGaslessParams(r *http.Request) (ingest.GaslessParams, error) {
	raw := r.Header.Get(xPaymentHeader)
	if raw == "" {
		return ingest.GaslessParams{}, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return ingest.GaslessParams{}, fmt.Errorf("malformed %s header: %w", xPaymentHeader, err)
	}
	var body struct {
		Scheme  string                      `json:"scheme"`
		Address string                      `json:"address"`
		Mode    string                      `json:"mode"`
		Payload paymentclient.GaslessPayload `json:"payload"`
	}
	if err := json.Unmarshal(decoded, &body); err != nil {
		return ingest.GaslessParams{}, fmt.Errorf("malformed %s header payload: %w", xPaymentHeader, err)
	}
	if body.Mode == "" {
		body.Mode = "hybrid"
	}
	return ingest.GaslessParams{
		Present: true,
		Scheme:  body.Scheme,
		Address: body.Address,
		Payload: body.Payload,
		Mode:    body.Mode,
	}, nil
}

// parseBalanceParams reads the ledger-fallback query parameters used
// when no gasless payment header is present (spec §4.5 step 6's else
// branch; same parameter names the payment service's reserve/check
// endpoints accept).
func parseBalanceParams(r *http.Request) ingest.BalanceParams {
	q := r.URL.Query()
	return ingest.BalanceParams{
		Scheme:    q.Get("scheme"),
		Address:   q.Get("address"),
		PaidBy:    q["paidBy"],
		Directive: q.Get("directive"),
	}
}

// pathAfter strips prefix from path and splits the remainder on "/".
func pathAfter(prefix, path string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
