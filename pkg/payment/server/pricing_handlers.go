package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/certen/bundler-gateway/pkg/payment/pricing"
)

// PricingHandlers exposes the read-only pricing tables (spec §6
// `/price/*`, `/rates`, `/currencies`, `/countries`).
type PricingHandlers struct {
	pricing             *pricing.Service
	SupportedCurrencies []string
	SupportedCountries  []string
}

// HandlePrice serves GET /price/:bytes.
func (h *PricingHandlers) HandlePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	numBytes, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/price/"), 10, 64)
	if err != nil || numBytes <= 0 {
		writeJSONError(w, http.StatusBadRequest, "expected /price/:bytes")
		return
	}
	quote, err := h.pricing.CreditsForBytes(r.Context(), numBytes, nil)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "price unavailable")
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// HandleRates serves GET /rates: the current credits-per-pricing-unit
// rate the ledger and gasless protocol are quoting against.
func (h *PricingHandlers) HandleRates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	creditsPerUnit, err := h.pricing.PricePerUnitCredits(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "rates unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"creditsPerPricingUnit": creditsPerUnit})
}

// HandleCurrencies serves GET /currencies.
func (h *PricingHandlers) HandleCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies := h.SupportedCurrencies
	if len(currencies) == 0 {
		currencies = []string{"usd", "eur", "gbp"}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"currencies": currencies})
}

// HandleCountries serves GET /countries.
func (h *PricingHandlers) HandleCountries(w http.ResponseWriter, r *http.Request) {
	countries := h.SupportedCountries
	if len(countries) == 0 {
		countries = []string{"US", "GB", "DE", "FR", "CA"}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"countries": countries})
}
