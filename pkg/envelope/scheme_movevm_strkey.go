package envelope

import (
	"crypto/ed25519"
	"fmt"

	"github.com/stellar/go/strkey"
)

// moveVMStrkeyRecognizer is the second Move-VM-style variant: same
// Ed25519 signature math again, but the address uses Stellar's
// checksummed strkey base32 account-id encoding instead of base58.
type moveVMStrkeyRecognizer struct{}

func (moveVMStrkeyRecognizer) Verify(signature, pubKey, signedMessage []byte) (string, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: bad key length %d", ErrMalformed, len(pubKey))
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), signedMessage, signature) {
		return "", ErrSignatureInvalid
	}
	addr, err := strkey.Encode(strkey.VersionByteAccountID, pubKey)
	if err != nil {
		return "", fmt.Errorf("address encoding: %w", err)
	}
	return addr, nil
}
