package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/certen/bundler-gateway/pkg/apierr"
	"github.com/certen/bundler-gateway/pkg/envelope"
	"github.com/certen/bundler-gateway/pkg/upload/ingest"
	"github.com/certen/bundler-gateway/pkg/upload/offsetindex"
	"github.com/certen/bundler-gateway/pkg/upload/store"
)

// TxHandlers exposes one-shot/raw ingestion and the item/offset status
// reads (spec §4.5, §4.9, §6).
type TxHandlers struct {
	ingest  *ingest.Service
	items   *store.DataItemRepository
	offsets *offsetindex.Index
	chain   statusChecker
	logger  *log.Logger
}

// HandleOneShot serves POST /tx.
func (h *TxHandlers) HandleOneShot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	correlationID := uuid.New().String()

	gasless, err := parseGaslessParams(r)
	if err != nil {
		apierr.Write(w, h.logger, correlationID, apierr.Wrap(apierr.ClientMalformed, "malformed X-PAYMENT header", err))
		return
	}
	if gasless.Present && r.Header.Get("Content-Length") == "" {
		apierr.Write(w, h.logger, correlationID, apierr.New(apierr.ContentLengthRequired, "Content-Length is required when X-PAYMENT is present"))
		return
	}

	env, err := envelope.Parse(r.Body, h.ingest.MaxItemSizeBytes())
	if err != nil {
		code := apierr.ClientMalformed
		if errors.Is(err, envelope.ErrPayloadTooLarge) {
			code = apierr.PayloadTooLarge
		}
		apierr.Write(w, h.logger, correlationID, apierr.Wrap(code, "malformed envelope", err))
		return
	}

	balance := parseBalanceParams(r)
	receipt, settle, err := h.ingest.OneShot(r.Context(), env, gasless, balance)
	if err != nil {
		apierr.Write(w, h.logger, correlationID, err)
		return
	}
	if settle != nil {
		if header, herr := ingest.EncodeSettleHeader(settle); herr == nil {
			w.Header().Set("X-Payment-Response", header)
		}
	}
	writeJSON(w, http.StatusOK, receipt)
}

// HandleRaw serves POST /tx/raw.
func (h *TxHandlers) HandleRaw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	correlationID := uuid.New().String()

	gasless, err := parseGaslessParams(r)
	if err != nil {
		apierr.Write(w, h.logger, correlationID, apierr.Wrap(apierr.ClientMalformed, "malformed X-PAYMENT header", err))
		return
	}

	limited := http.MaxBytesReader(w, r.Body, h.ingest.MaxItemSizeBytes())
	payload, err := io.ReadAll(limited)
	if err != nil {
		apierr.Write(w, h.logger, correlationID, apierr.Wrap(apierr.PayloadTooLarge, "request body too large or unreadable", err))
		return
	}

	receipt, settle, err := h.ingest.Raw(r.Context(), payload, gasless)
	if err != nil {
		apierr.Write(w, h.logger, correlationID, err)
		return
	}
	if settle != nil {
		if header, herr := ingest.EncodeSettleHeader(settle); herr == nil {
			w.Header().Set("X-Payment-Response", header)
		}
	}
	writeJSON(w, http.StatusOK, receipt)
}

// HandleItemPath dispatches GET /tx/:id and GET /tx/:id/offset.
func (h *TxHandlers) HandleItemPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	parts := pathAfter("/tx/", r.URL.Path)
	if len(parts) == 0 {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[0]
	if len(parts) == 2 && parts[1] == "offset" {
		h.handleOffset(w, r, id)
		return
	}
	if len(parts) == 1 {
		h.handleItemStatus(w, r, id)
		return
	}
	writeJSONError(w, http.StatusNotFound, "not found")
}

func (h *TxHandlers) handleItemStatus(w http.ResponseWriter, r *http.Request, id string) {
	item, err := h.items.ByID(r.Context(), nil, id)
	if err != nil {
		if err == store.ErrItemNotFound {
			writeJSONError(w, http.StatusNotFound, "item not found")
			return
		}
		h.logger.Printf("item status lookup failed for %s: %v", id, err)
		writeJSONError(w, http.StatusInternalServerError, "item status lookup failed")
		return
	}

	resp := map[string]interface{}{
		"status":         itemStatusResponse(item.Status),
		"creditsCharged": item.PriceCredits.String(),
	}
	if item.Status == store.ItemStatusPermanent {
		if rec, oerr := h.offsets.Lookup(r.Context(), id); oerr == nil {
			resp["offset"] = rec.StartOffset
			if h.chain != nil {
				if ts, cerr := h.chain.GetTxStatus(r.Context(), rec.RootBundleID); cerr == nil {
					resp["blockHeight"] = ts.BlockHeight
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// itemStatusResponse maps the internal new/planned/permanent/failed
// discriminator onto the public FINALIZED/CONFIRMED/FAILED vocabulary
// (spec §6): new and planned both read as "finalized" to an external
// caller, the planning/posting/seeding/verifying machinery behind that
// being an implementation detail.
func itemStatusResponse(status string) string {
	switch status {
	case store.ItemStatusPermanent:
		return "CONFIRMED"
	case store.ItemStatusFailed:
		return "FAILED"
	default:
		return "FINALIZED"
	}
}

func (h *TxHandlers) handleOffset(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := h.offsets.Lookup(r.Context(), id)
	if err != nil {
		if err == store.ErrOffsetNotFound {
			writeJSONError(w, http.StatusNotFound, "offset record not found")
			return
		}
		h.logger.Printf("offset lookup failed for %s: %v", id, err)
		writeJSONError(w, http.StatusInternalServerError, "offset lookup failed")
		return
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", offsetindex.CacheControlSeconds))
	writeJSON(w, http.StatusOK, rec)
}
