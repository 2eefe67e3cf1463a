package envelope

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// typedStructuredDataRecognizer verifies an EIP-712-style signature:
// the signer signs the raw keccak256 digest of signedMessage directly,
// with no EIP-191 personal-message prefix. This is the envelope-level
// counterpart to the gasless payment protocol's own, separate EIP-712
// domain handling in pkg/payment/gasless.
type typedStructuredDataRecognizer struct{}

func (typedStructuredDataRecognizer) Verify(signature, ownerKey, signedMessage []byte) (string, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("%w: bad signature length %d", ErrMalformed, len(signature))
	}
	digest := crypto.Keccak256(signedMessage)

	sig := normalizeRecoveryID(signature)
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	recovered := crypto.FromECDSAPub(pub)
	if !bytesEqual(recovered, ownerKey) {
		return "", fmt.Errorf("%w: recovered key does not match owner field", ErrSignatureInvalid)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
