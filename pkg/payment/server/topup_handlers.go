package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/certen/bundler-gateway/pkg/payment/cryptotopup"
	"github.com/certen/bundler-gateway/pkg/payment/fiat"
)

// TopupHandlers exposes the three ways a balance can be funded: a
// submitted crypto deposit tx, a fiat checkout session, and the
// processor's webhook confirming that session (spec §4.1, §6).
type TopupHandlers struct {
	crypto *cryptotopup.Service
	fiat   *fiat.Service
	logger *log.Logger
}

type cryptoTopupRequest struct {
	Address   string `json:"address"`
	ChainTxID string `json:"chainTxId"`
}

// HandleCryptoTopup serves POST /account/balance/:scheme.
func (h *TopupHandlers) HandleCryptoTopup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	scheme := strings.TrimPrefix(r.URL.Path, "/account/balance/")
	if scheme == "" {
		writeJSONError(w, http.StatusBadRequest, "scheme path segment is required")
		return
	}
	var req cryptoTopupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	status, err := h.crypto.Submit(r.Context(), scheme, req.Address, req.ChainTxID)
	switch status {
	case cryptotopup.StatusConfirmed:
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	case cryptotopup.StatusPending:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
	default:
		msg := status
		if err != nil {
			msg = err.Error()
		}
		writeJSONError(w, http.StatusBadRequest, msg)
	}
}

// HandleCheckoutSession serves
// GET /top-up/checkout-session/:address/:currency/:amount and the
// payment-intent variant, both routed here: this gateway only
// supports Checkout Sessions, so both paths start the same flow.
func (h *TopupHandlers) HandleCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := r.URL.Path
	for _, prefix := range []string{"/top-up/checkout-session/", "/top-up/payment-intent/"} {
		rest = strings.TrimPrefix(rest, prefix)
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 3 {
		writeJSONError(w, http.StatusBadRequest, "expected /top-up/.../:address/:currency/:amount")
		return
	}
	address, currency, amountStr := parts[0], parts[1], parts[2]
	amount, err := decimal.NewFromString(amountStr)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		writeJSONError(w, http.StatusBadRequest, "malformed amount")
		return
	}

	quote, checkoutURL, err := h.fiat.CreateCheckoutSession(r.Context(), address, amount, currency)
	if err != nil {
		h.logger.Printf("checkout session failed for %s: %v", address, err)
		writeJSONError(w, http.StatusServiceUnavailable, "checkout session unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"checkoutUrl": checkoutURL, "creditAmount": quote.CreditAmount, "expiresAt": quote.ExpiresAt,
	})
}

// HandleStripeWebhook serves POST /stripe-webhook.
func (h *TopupHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	if err := h.fiat.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.logger.Printf("stripe webhook rejected: %v", err)
		writeJSONError(w, http.StatusBadRequest, "webhook rejected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
