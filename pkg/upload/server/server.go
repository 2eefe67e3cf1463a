// Package server exposes the upload service's HTTP surface (spec §6).
// Each concern gets its own handler struct wrapping the services it
// needs, following the payment service's pkg/payment/server pattern
// (itself the teacher's per-concern handler idiom); a single Deps
// struct wires them explicitly rather than reaching for process-global
// state (spec §9 redesign note).
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/certen/bundler-gateway/pkg/chaingateway"
	"github.com/certen/bundler-gateway/pkg/upload/ingest"
	"github.com/certen/bundler-gateway/pkg/upload/offsetindex"
	"github.com/certen/bundler-gateway/pkg/upload/store"
)

// Deps wires every service the upload HTTP surface depends on.
type Deps struct {
	Ingest  *ingest.Service
	Items   *store.DataItemRepository
	Offsets *offsetindex.Index
	Chain   statusChecker

	ProtocolVersion       string
	BundlerAddresses      []string
	FreeUploadLimitBytes  int64
	DownstreamGatewayURLs []string

	Logger *log.Logger
}

// statusChecker is the narrow slice of chaingateway.Client that
// GET /tx/:id needs to report a confirmed item's block height.
type statusChecker interface {
	GetTxStatus(ctx context.Context, txID string) (chaingateway.TxStatus, error)
}

// NewRouter builds the full mux for the upload service.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[upload-http] ", log.LstdFlags)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	tx := &TxHandlers{ingest: deps.Ingest, items: deps.Items, offsets: deps.Offsets, chain: deps.Chain, logger: deps.Logger}
	mux.HandleFunc("/tx", tx.HandleOneShot)
	mux.HandleFunc("/tx/raw", tx.HandleRaw)
	mux.HandleFunc("/tx/", tx.HandleItemPath)

	mp := &MultipartHandlers{ingest: deps.Ingest, logger: deps.Logger}
	mux.HandleFunc("/multipart", mp.HandleCreate)
	mux.HandleFunc("/multipart/", mp.HandleSessionPath)

	info := &InfoHandlers{
		protocolVersion:       deps.ProtocolVersion,
		bundlerAddresses:      deps.BundlerAddresses,
		freeUploadLimitBytes:  deps.FreeUploadLimitBytes,
		downstreamGatewayURLs: deps.DownstreamGatewayURLs,
	}
	mux.HandleFunc("/info", info.Handle)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
