// Package signer implements the upload service's own envelope-signing
// identity: the key used to wrap raw-blob uploads (spec §4.5 POST
// /tx/raw) and to sign the assembled bundle transaction the preparer
// stage submits to the chain (spec §4.8).
package signer

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/certen/bundler-gateway/pkg/envelope"
)

// Ed25519Signer wraps a single Ed25519 keypair. It is the concrete
// implementation of ingest.Signer, reused by the preparer stage to
// sign bundle payloads, since both are "build an envelope around bytes
// we did not receive pre-signed" operations over the same wire format.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// New wraps an existing Ed25519 private key.
func New(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// LoadFromHexFile reads a hex-encoded Ed25519 seed or private key from
// path, as pointed to by the bundler's signing-key configuration.
func LoadFromHexFile(path string) (*Ed25519Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read key file: %w", err)
	}
	return LoadFromHex(string(raw))
}

// LoadFromHex decodes a hex-encoded 32-byte seed or 64-byte expanded
// private key.
func LoadFromHex(hexKey string) (*Ed25519Signer, error) {
	raw, err := hex.DecodeString(trimHex(hexKey))
	if err != nil {
		return nil, fmt.Errorf("signer: decode key hex: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return New(ed25519.NewKeyFromSeed(raw)), nil
	case ed25519.PrivateKeySize:
		return New(ed25519.PrivateKey(raw)), nil
	default:
		return nil, fmt.Errorf("signer: key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

func trimHex(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

// Address returns the signer's hex-encoded public key, the same form
// ed25519Recognizer.Verify returns as an owner address.
func (s *Ed25519Signer) Address() string {
	return hex.EncodeToString(s.pub)
}

// Sign builds an envelope around payload with no target/anchor,
// signing owner+target+anchor+tags+payload as envelope.SignatureBase
// expects.
func (s *Ed25519Signer) Sign(payload []byte, tags []envelope.Tag) (*envelope.Envelope, error) {
	unsigned := envelope.Build(envelope.SchemeEd25519, make([]byte, ed25519.SignatureSize), s.pub, nil, nil, tags, payload)
	// SignatureBase is everything after the scheme byte and signature
	// placeholder; slicing unsigned the same way Parse would keeps the
	// signed bytes identical to what a verifier recomputes.
	signedMessage := unsigned[1+ed25519.SignatureSize:]
	sig := ed25519.Sign(s.priv, signedMessage)

	raw := envelope.Build(envelope.SchemeEd25519, sig, s.pub, nil, nil, tags, payload)
	return envelope.Parse(bytes.NewReader(raw), int64(len(raw)))
}
