// Package server exposes the payment service's HTTP surface (spec
// §6). Each concern gets its own handler struct wrapping the
// services it needs, following the teacher's per-concern handler
// pattern; a single Deps struct wires them all explicitly rather than
// reaching for process-global state (spec §9 redesign note).
package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/certen/bundler-gateway/pkg/payment/arns"
	"github.com/certen/bundler-gateway/pkg/payment/cryptotopup"
	"github.com/certen/bundler-gateway/pkg/payment/fiat"
	"github.com/certen/bundler-gateway/pkg/payment/gasless"
	"github.com/certen/bundler-gateway/pkg/payment/ledger"
	"github.com/certen/bundler-gateway/pkg/payment/pricing"
)

// Deps wires every service the payment HTTP surface depends on.
type Deps struct {
	Ledger      *ledger.Engine
	Pricing     *pricing.Service
	Gasless     *gasless.Engine
	Fiat        *fiat.Service
	CryptoTopup *cryptotopup.Service
	Arns        *arns.Service

	// SharedSecret authenticates the interservice-only endpoints
	// (reserve/refund/check-balance, x402 finalize): the upload
	// service is the only caller.
	SharedSecret string
	Logger       *log.Logger

	SupportedCurrencies []string
	SupportedCountries  []string
}

// NewRouter builds the full mux for the payment service.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[payment-http] ", log.LstdFlags)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	x402 := &GaslessHandlers{engine: deps.Gasless, secret: deps.SharedSecret, logger: deps.Logger}
	mux.HandleFunc("/x402/price/", x402.HandlePrice)
	mux.HandleFunc("/x402/payment/", x402.HandlePayment)
	mux.HandleFunc("/x402/finalize", requireInterservice(deps.SharedSecret, x402.HandleFinalize))

	balance := &BalanceHandlers{ledger: deps.Ledger, secret: deps.SharedSecret, logger: deps.Logger}
	mux.HandleFunc("/balance", balance.HandleBalance)
	mux.HandleFunc("/reserve-balance/", requireInterservice(deps.SharedSecret, balance.HandleReserve))
	mux.HandleFunc("/refund-balance/", requireInterservice(deps.SharedSecret, balance.HandleRefund))
	mux.HandleFunc("/check-balance/", requireInterservice(deps.SharedSecret, balance.HandleCheck))
	mux.HandleFunc("/account/approvals", balance.HandleApprovals)
	mux.HandleFunc("/account/approvals/", balance.HandleApprovalByID)

	topup := &TopupHandlers{crypto: deps.CryptoTopup, fiat: deps.Fiat, logger: deps.Logger}
	mux.HandleFunc("/account/balance/", topup.HandleCryptoTopup)
	mux.HandleFunc("/top-up/checkout-session/", topup.HandleCheckoutSession)
	mux.HandleFunc("/top-up/payment-intent/", topup.HandleCheckoutSession)
	mux.HandleFunc("/stripe-webhook", topup.HandleStripeWebhook)

	names := &ArnsHandlers{service: deps.Arns, logger: deps.Logger}
	mux.HandleFunc("/arns/price/", names.HandlePrice)
	mux.HandleFunc("/arns/purchase/", names.HandlePurchaseOrGet)

	pr := &PricingHandlers{pricing: deps.Pricing, SupportedCurrencies: deps.SupportedCurrencies, SupportedCountries: deps.SupportedCountries}
	mux.HandleFunc("/price/", pr.HandlePrice)
	mux.HandleFunc("/rates", pr.HandleRates)
	mux.HandleFunc("/currencies", pr.HandleCurrencies)
	mux.HandleFunc("/countries", pr.HandleCountries)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireInterservice wraps a handler so it only answers requests
// carrying a valid shared-secret signature, for the endpoints the
// upload service alone is meant to call.
func requireInterservice(secretHex string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readAndRestoreBody(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "cannot read request body")
			return
		}
		if err := verifyInterservice(secretHex, r, body); err != nil {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}
