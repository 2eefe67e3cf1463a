package envelope

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// ed25519Recognizer is the plain Ed25519 scheme: address is just the
// hex-encoded public key, with no chain-specific encoding layered on
// top (the two Move-VM variants below add their own address forms).
type ed25519Recognizer struct{}

func (ed25519Recognizer) Verify(signature, pubKey, signedMessage []byte) (string, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: bad ed25519 key length %d", ErrMalformed, len(pubKey))
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), signedMessage, signature) {
		return "", ErrSignatureInvalid
	}
	return hex.EncodeToString(pubKey), nil
}
