package envelope

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// moveVMBase58Recognizer is the first Move-VM-style variant: same
// Ed25519 signature math as the plain scheme, but the address is the
// base58-encoded public key (Solana-style), not hex.
type moveVMBase58Recognizer struct{}

func (moveVMBase58Recognizer) Verify(signature, pubKey, signedMessage []byte) (string, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: bad key length %d", ErrMalformed, len(pubKey))
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), signedMessage, signature) {
		return "", ErrSignatureInvalid
	}
	return base58.Encode(pubKey), nil
}
