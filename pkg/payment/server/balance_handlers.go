package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certen/bundler-gateway/pkg/payment/ledger"
)

// BalanceHandlers exposes balance queries, the protected reserve/
// refund/check operations the upload service calls (spec §4.2), and
// delegation (approval) management.
type BalanceHandlers struct {
	ledger *ledger.Engine
	secret string
	logger *log.Logger
}

// HandleBalance serves GET /balance?address=...
func (h *BalanceHandlers) HandleBalance(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeJSONError(w, http.StatusBadRequest, "address query parameter is required")
		return
	}
	summary, err := h.ledger.Balance(r.Context(), address)
	if err != nil {
		h.logger.Printf("balance lookup failed for %s: %v", address, err)
		writeJSONError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spendable": summary.Spendable, "owned": summary.Owned, "effective": summary.Effective,
		"given": summary.Given, "received": summary.Received,
	})
}

// pathTail splits "/reserve-balance/:scheme/:address" style paths
// into their scheme/address components.
func pathTail(prefix, path string) (scheme, address string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func parseBalanceQuery(r *http.Request) (declaredBytes int64, dataItemID, directive string, paidBy []string, ok bool) {
	q := r.URL.Query()
	var err error
	declaredBytes, err = strconv.ParseInt(q.Get("bytes"), 10, 64)
	if err != nil || declaredBytes <= 0 {
		return 0, "", "", nil, false
	}
	dataItemID = q.Get("dataItemId")
	directive = q.Get("directive")
	if directive == "" {
		directive = ledger.DirectiveListOrSelf
	}
	paidBy = q["paidBy"]
	return declaredBytes, dataItemID, directive, paidBy, true
}

// HandleCheck serves GET /check-balance/:scheme/:address (interservice only).
func (h *BalanceHandlers) HandleCheck(w http.ResponseWriter, r *http.Request) {
	_, address, ok := pathTail("/check-balance/", r.URL.Path)
	declaredBytes, _, directive, paidBy, qok := parseBalanceQuery(r)
	if !ok || !qok {
		writeJSONError(w, http.StatusBadRequest, "malformed check-balance request")
		return
	}
	result, err := h.ledger.Check(r.Context(), address, declaredBytes, paidBy, directive)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sufficient": result.Sufficient, "cost": result.Cost, "spendable": result.Spendable,
	})
}

// HandleReserve serves GET /reserve-balance/:scheme/:address (interservice only).
func (h *BalanceHandlers) HandleReserve(w http.ResponseWriter, r *http.Request) {
	_, address, ok := pathTail("/reserve-balance/", r.URL.Path)
	declaredBytes, dataItemID, directive, paidBy, qok := parseBalanceQuery(r)
	if !ok || !qok || dataItemID == "" {
		writeJSONError(w, http.StatusBadRequest, "malformed reserve-balance request")
		return
	}
	reservationID, amount, err := h.ledger.Reserve(r.Context(), address, declaredBytes, paidBy, directive, dataItemID)
	if err != nil {
		if err == ledger.ErrInsufficientBalance {
			writeJSONError(w, http.StatusPaymentRequired, "insufficient balance")
			return
		}
		h.logger.Printf("reserve failed for %s: %v", dataItemID, err)
		writeJSONError(w, http.StatusInternalServerError, "reserve failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reservationId": reservationID, "amount": amount,
	})
}

// HandleRefund serves GET /refund-balance/:scheme/:address (interservice only).
func (h *BalanceHandlers) HandleRefund(w http.ResponseWriter, r *http.Request) {
	dataItemID := r.URL.Query().Get("dataItemId")
	if dataItemID == "" {
		writeJSONError(w, http.StatusBadRequest, "dataItemId query parameter is required")
		return
	}
	if err := h.ledger.Refund(r.Context(), dataItemID); err != nil {
		h.logger.Printf("refund failed for %s: %v", dataItemID, err)
		writeJSONError(w, http.StatusInternalServerError, "refund failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createApprovalRequest struct {
	Grantor   string     `json:"grantor"`
	Grantee   string     `json:"grantee"`
	Approved  string     `json:"approved"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// HandleApprovals serves POST /account/approvals (create) and
// GET /account/approvals?address=... (list granted+received).
func (h *BalanceHandlers) HandleApprovals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createApprovalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		amount, err := parseDecimalField(req.Approved)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed approved amount")
			return
		}
		d, err := h.ledger.CreateApproval(r.Context(), req.Grantor, req.Grantee, amount, req.ExpiresAt)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "create approval failed")
			return
		}
		writeJSON(w, http.StatusCreated, d)
	case http.MethodGet:
		address := r.URL.Query().Get("address")
		if address == "" {
			writeJSONError(w, http.StatusBadRequest, "address query parameter is required")
			return
		}
		given, err := h.ledger.ListApprovalsGranted(r.Context(), address)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "list approvals failed")
			return
		}
		received, err := h.ledger.ListApprovalsReceived(r.Context(), address)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "list approvals failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"given": given, "received": received})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandleApprovalByID serves DELETE /account/approvals/:id (revoke).
func (h *BalanceHandlers) HandleApprovalByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/account/approvals/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed approval id")
		return
	}
	if err := h.ledger.RevokeApproval(r.Context(), id); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "revoke failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
