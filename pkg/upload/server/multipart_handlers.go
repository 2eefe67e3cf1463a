package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/certen/bundler-gateway/pkg/apierr"
	"github.com/certen/bundler-gateway/pkg/upload/ingest"
)

// MultipartHandlers exposes chunked upload session management (spec
// §4.5, §6).
type MultipartHandlers struct {
	ingest *ingest.Service
	logger *log.Logger
}

type createSessionRequest struct {
	OwnerAddress string `json:"ownerAddress"`
	Size         int64  `json:"size"`
	ChunkSize    int64  `json:"chunkSize"`
}

// HandleCreate serves POST /multipart.
func (h *MultipartHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	correlationID := uuid.New().String()

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, h.logger, correlationID, apierr.Wrap(apierr.ClientMalformed, "malformed request body", err))
		return
	}
	sess, err := h.ingest.CreateSession(r.Context(), req.OwnerAddress, req.Size, req.ChunkSize)
	if err != nil {
		apierr.Write(w, h.logger, correlationID, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// HandleSessionPath dispatches every /multipart/:sid... route: chunk
// upload (PUT), finalize (POST), abort (DELETE), and status (GET).
func (h *MultipartHandlers) HandleSessionPath(w http.ResponseWriter, r *http.Request) {
	correlationID := uuid.New().String()
	parts := pathAfter("/multipart/", r.URL.Path)
	if len(parts) == 0 {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	sessionID, err := uuid.Parse(parts[0])
	if err != nil {
		apierr.Write(w, h.logger, correlationID, apierr.New(apierr.ClientMalformed, "malformed session id"))
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodPut:
		h.handleChunk(w, r, correlationID, sessionID, parts[1])
	case len(parts) == 2 && parts[1] == "finalize" && r.Method == http.MethodPost:
		h.handleFinalize(w, r, correlationID, sessionID)
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodGet:
		h.handleStatus(w, r, correlationID, sessionID)
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleStatus(w, r, correlationID, sessionID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.handleAbort(w, r, correlationID, sessionID)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

func (h *MultipartHandlers) handleChunk(w http.ResponseWriter, r *http.Request, correlationID string, sessionID uuid.UUID, offsetStr string) {
	offset, err := strconv.ParseInt(offsetStr, 10, 64)
	if err != nil || offset < 0 {
		apierr.Write(w, h.logger, correlationID, apierr.New(apierr.ClientMalformed, "malformed chunk offset"))
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, ingest.MaxChunkSize+1))
	if err != nil {
		apierr.Write(w, h.logger, correlationID, apierr.Wrap(apierr.Internal, "reading chunk body failed", err))
		return
	}
	if int64(len(data)) > ingest.MaxChunkSize {
		apierr.Write(w, h.logger, correlationID, apierr.New(apierr.PayloadTooLarge, "chunk exceeds maximum chunk size"))
		return
	}
	if err := h.ingest.UploadChunk(r.Context(), sessionID, offset, data); err != nil {
		apierr.Write(w, h.logger, correlationID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MultipartHandlers) handleFinalize(w http.ResponseWriter, r *http.Request, correlationID string, sessionID uuid.UUID) {
	gasless, err := parseGaslessParams(r)
	if err != nil {
		apierr.Write(w, h.logger, correlationID, apierr.Wrap(apierr.ClientMalformed, "malformed X-PAYMENT header", err))
		return
	}
	balance := parseBalanceParams(r)

	receipt, settle, err := h.ingest.Finalize(r.Context(), sessionID, gasless, balance)
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

func (h *MultipartHandlers) handleStatus(w http.ResponseWriter, r *http.Request, correlationID string, sessionID uuid.UUID) {
	sess, err := h.ingest.SessionStatus(r.Context(), sessionID)
	if err != nil {
		apierr.Write(w, h.logger, correlationID, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *MultipartHandlers) handleAbort(w http.ResponseWriter, r *http.Request, correlationID string, sessionID uuid.UUID) {
	balance := parseBalanceParams(r)
	if err := h.ingest.Abort(r.Context(), sessionID, balance); err != nil {
		apierr.Write(w, h.logger, correlationID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
