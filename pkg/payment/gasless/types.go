package gasless

import "math/big"

// Requirement is one entry in the payment-requirements object returned
// by the price quote endpoint, one per enabled stablecoin network
// (spec §4.3).
type Requirement struct {
	Scheme              string `json:"scheme"` // always "exact"
	Network             string `json:"network"`
	Asset               string `json:"asset"` // stablecoin contract address
	PayTo               string `json:"payTo"`
	Amount              string `json:"amount"` // atomic units, decimal string
	MaxTimeoutSeconds   int    `json:"maxTimeoutSeconds"`
	ExtraName           string `json:"extraName"`
	ExtraVersion        string `json:"extraVersion"`
}

// PaymentRequirements is the full 200 JSON body the quote endpoint
// returns when no payment header is present.
type PaymentRequirements struct {
	X402Version int           `json:"x402Version"`
	Accepts     []Requirement `json:"accepts"`
}

// Authorization is the client-signed EIP-3009 TransferWithAuthorization.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

// Payload is the base64-decoded JSON body of the client's X-PAYMENT
// header.
type Payload struct {
	Scheme        string        `json:"scheme"`
	Network       string        `json:"network"`
	Asset         string        `json:"asset"`
	Authorization Authorization `json:"authorization"`
}

// AcceptResult is returned to the caller after a successful
// verify+settle, and is base64-JSON-encoded into X-Payment-Response.
type AcceptResult struct {
	Status      string `json:"status"`
	ChainTxHash string `json:"chainTxHash"`
	PaymentID   string `json:"paymentId"`
	Network     string `json:"network"`
}

func mustAtomic(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return n
}
