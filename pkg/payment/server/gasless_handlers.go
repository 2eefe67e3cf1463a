package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/certen/bundler-gateway/pkg/payment/gasless"
)

// GaslessHandlers exposes the x402-style gasless-stablecoin payment
// protocol (spec §4.3, §6).
type GaslessHandlers struct {
	engine *gasless.Engine
	secret string
	logger *log.Logger
}

// HandlePrice serves GET /x402/price/:scheme/:address?bytes=N. A
// browser client (Accept: text/html) gets a minimal paywall page
// instead of the JSON requirements body.
func (h *GaslessHandlers) HandlePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	declaredBytes, err := strconv.ParseInt(r.URL.Query().Get("bytes"), 10, 64)
	if err != nil || declaredBytes <= 0 {
		writeJSONError(w, http.StatusBadRequest, "bytes query parameter is required")
		return
	}

	requirements, err := h.engine.Quote(r.Context(), declaredBytes)
	if err != nil {
		h.logger.Printf("quote failed: %v", err)
		writeJSONError(w, http.StatusServiceUnavailable, "price quote unavailable")
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(paywallHTML(requirements))
		return
	}
	w.Header().Set("X-Payment-Required", "x402-1")
	writeJSON(w, http.StatusOK, requirements)
}

type paymentRequest struct {
	Payload       gasless.Payload `json:"payload"`
	DeclaredBytes int64           `json:"declaredBytes"`
	DataItemID    string          `json:"dataItemId"`
	Mode          string          `json:"mode"`
}

// HandlePayment serves POST /x402/payment/:scheme/:address: the
// upload service relays the client's X-PAYMENT payload here to
// verify the signature, settle on-chain via the facilitator, and bind
// the resulting reservation to the in-flight upload.
func (h *GaslessHandlers) HandlePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := readAndRestoreBody(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	if err := verifyInterservice(h.secret, r, body); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req paymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	payment, err := h.engine.VerifyAndSettle(r.Context(), req.Payload, req.DeclaredBytes, req.Mode)
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.engine.Accept(r.Context(), payment, req.DataItemID); err != nil {
		h.logger.Printf("accept failed for payment %s: %v", payment.ID, err)
		writeJSONError(w, http.StatusInternalServerError, "payment accepted but reservation failed")
		return
	}

	result := gasless.AcceptResult{
		Status: payment.Status, ChainTxHash: payment.ChainTxHash,
		PaymentID: payment.ID.String(), Network: payment.Network,
	}
	w.Header().Set("X-Payment-Response", gasless.EncodeAcceptResponse(result))
	writeJSON(w, http.StatusOK, result)
}

type finalizeRequest struct {
	DataItemID      string `json:"dataItemId"`
	ActualByteCount int64  `json:"actualByteCount"`
}

// HandleFinalize serves POST /x402/finalize (interservice-only).
func (h *GaslessHandlers) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.engine.Finalize(r.Context(), req.DataItemID, req.ActualByteCount); err != nil {
		h.logger.Printf("finalize failed for %s: %v", req.DataItemID, err)
		writeJSONError(w, http.StatusInternalServerError, "finalize failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func paywallHTML(req gasless.PaymentRequirements) []byte {
	var b strings.Builder
	b.WriteString("<!doctype html><html><head><title>Payment required</title></head><body>")
	b.WriteString("<p>This upload requires payment. Accepted networks:</p><ul>")
	for _, a := range req.Accepts {
		b.WriteString("<li>" + a.Network + ": " + a.Amount + " atomic units to " + a.PayTo + "</li>")
	}
	b.WriteString("</ul></body></html>")
	return []byte(b.String())
}
