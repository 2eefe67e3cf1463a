package chaingateway

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Stub is a deterministic, in-memory Client for tests and local
// development without a live chain gateway.
type Stub struct {
	mu sync.Mutex

	Height       int64
	PriceValue   string
	WalletValue  string
	// RejectSubmit, when non-nil, makes SubmitTx fail every call with
	// this error instead of accepting the transaction.
	RejectSubmit error
	submitted    map[string][]byte
	statuses     map[string]TxStatus
	indexed      map[string]bool
	nextTxSeq    int
}

// NewStub constructs a stub seeded with a starting height.
func NewStub(startHeight int64) *Stub {
	return &Stub{
		Height:      startHeight,
		PriceValue:  "1000000000000",
		WalletValue: "1000000000000000",
		submitted:   make(map[string][]byte),
		statuses:    make(map[string]TxStatus),
		indexed:     make(map[string]bool),
	}
}

func (s *Stub) CurrentHeight(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Height, nil
}

// AdvanceHeight moves the stub chain forward, used by tests simulating
// confirmation progress.
func (s *Stub) AdvanceHeight(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Height += n
}

func (s *Stub) PricePerUnit(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PriceValue, nil
}

func (s *Stub) SubmitTx(_ context.Context, signedTxBytes []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RejectSubmit != nil {
		return "", s.RejectSubmit
	}
	s.nextTxSeq++
	txID := fmt.Sprintf("stub-tx-%d", s.nextTxSeq)
	s.submitted[txID] = signedTxBytes
	s.statuses[txID] = TxStatus{}
	return txID, nil
}

func (s *Stub) SeedChunks(_ context.Context, _ string, payload io.Reader) error {
	_, err := io.Copy(io.Discard, payload)
	return err
}

func (s *Stub) GetTxStatus(_ context.Context, txID string) (TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[txID]
	if !ok {
		return TxStatus{}, fmt.Errorf("chaingateway/stub: unknown tx %s", txID)
	}
	return status, nil
}

// SetConfirmations lets tests drive a submitted tx toward or away from
// the confirmation target.
func (s *Stub) SetConfirmations(txID string, confirmations, blockHeight int64, confirmed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[txID] = TxStatus{Confirmations: confirmations, BlockHeight: blockHeight, Confirmed: confirmed}
}

func (s *Stub) QueryIndexed(_ context.Context, itemIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		out[id] = s.indexed[id]
	}
	return out, nil
}

// MarkIndexed lets tests simulate the chain's query interface catching
// up to recently posted items.
func (s *Stub) MarkIndexed(itemIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range itemIDs {
		s.indexed[id] = true
	}
}

func (s *Stub) WalletBalance(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WalletValue, nil
}

func (s *Stub) InspectDeposit(_ context.Context, chainTxID string) (DepositInfo, error) {
	return DepositInfo{}, fmt.Errorf("chaingateway/stub: unknown deposit %s", chainTxID)
}

var _ Client = (*Stub)(nil)
