package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/certen/bundler-gateway/pkg/payment/arns"
)

// ArnsHandlers exposes the name-system price/purchase/lookup flow
// (spec §4.10, §6).
type ArnsHandlers struct {
	service *arns.Service
	logger  *log.Logger
}

// HandlePrice serves GET /arns/price/:intent/:name.
func (h *ArnsHandlers) HandlePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	intent, name, ok := pathTail("/arns/price/", r.URL.Path)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "expected /arns/price/:intent/:name")
		return
	}
	costNative, costCredits, err := h.service.Quote(r.Context(), intent, name)
	if err != nil {
		h.logger.Printf("arns price failed for %s/%s: %v", intent, name, err)
		writeJSONError(w, http.StatusServiceUnavailable, "price unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"costNative": costNative, "costCredits": costCredits})
}

type purchaseRequest struct {
	Payers    []string `json:"payers"`
	Directive string   `json:"directive"`
}

// HandlePurchaseOrGet serves POST /arns/purchase/:intent/:name and
// GET /arns/purchase/:nonce, distinguished by method.
func (h *ArnsHandlers) HandlePurchaseOrGet(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		intent, name, ok := pathTail("/arns/purchase/", r.URL.Path)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "expected /arns/purchase/:intent/:name")
			return
		}
		var req purchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if req.Directive == "" {
			req.Directive = "list-or-self"
		}
		purchase, err := h.service.Purchase(r.Context(), intent, name, req.Payers, req.Directive)
		if err != nil {
			h.logger.Printf("arns purchase failed for %s/%s: %v", intent, name, err)
			writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, purchase)
	case http.MethodGet:
		nonce := strings.TrimPrefix(r.URL.Path, "/arns/purchase/")
		purchase, err := h.service.Get(r.Context(), nonce)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "purchase not found")
			return
		}
		writeJSON(w, http.StatusOK, purchase)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
