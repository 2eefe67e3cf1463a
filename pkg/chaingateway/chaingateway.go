// Copyright 2025 Certen Protocol
//
// Package chaingateway is the interface boundary to the underlying
// permanent-storage blockchain, an external collaborator per spec §1:
// this repository never implements chain consensus or a chain-specific
// lite client, it only calls out to one.
package chaingateway

import (
	"context"
	"io"
	"time"
)

// TxStatus mirrors the chain's view of a submitted transaction.
type TxStatus struct {
	Confirmations int64
	BlockHeight   int64
	Confirmed     bool
}

// Client is implemented by a concrete chain-gateway HTTP/RPC adapter
// (see httpclient.go) and by a deterministic stub for tests.
type Client interface {
	// CurrentHeight returns the chain's current block height.
	CurrentHeight(ctx context.Context) (int64, error)

	// PricePerUnit returns the current sampled price (in native token)
	// per money.BytesPerPricingUnit bytes of storage.
	PricePerUnit(ctx context.Context) (nativeTokenPerUnit string, err error)

	// SubmitTx submits a signed bundle transaction, returning its
	// chain-assigned transaction id.
	SubmitTx(ctx context.Context, signedTxBytes []byte) (txID string, err error)

	// SeedChunks streams the bundle payload to the chain's chunk API.
	// Bounded to a 5-minute timeout per spec §5.
	SeedChunks(ctx context.Context, txID string, payload io.Reader) error

	// GetTxStatus polls confirmation status for a previously submitted
	// transaction.
	GetTxStatus(ctx context.Context, txID string) (TxStatus, error)

	// QueryIndexed checks whether a batch of item ids have been indexed
	// by the chain's query interface (used by the verifier stage,
	// batch size 100 / concurrency 10 per spec §4.8).
	QueryIndexed(ctx context.Context, itemIDs []string) (map[string]bool, error)

	// WalletBalance returns the bundler wallet's native-token balance,
	// consulted by the poster stage on submit failure.
	WalletBalance(ctx context.Context) (string, error)

	// InspectDeposit looks up an arbitrary on-chain transaction by id,
	// for crypto top-up verification: who sent it, how much native
	// token, and whether it has reached finality.
	InspectDeposit(ctx context.Context, chainTxID string) (DepositInfo, error)
}

// DepositInfo is the chain's view of a claimed top-up transaction.
type DepositInfo struct {
	SenderAddress string `json:"sender_address"`
	AmountNative  string `json:"amount_native"`
	Confirmed     bool   `json:"confirmed"`
	Rejected      bool   `json:"rejected"`
}

// DefaultSeedTimeout is the bound on SeedChunks per spec §5.
const DefaultSeedTimeout = 5 * time.Minute

// DefaultCallTimeout is the bound on other gateway calls per spec §5.
const DefaultCallTimeout = 60 * time.Second
