package envelope

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// personalSignRecognizer verifies Ethereum's personal_sign convention:
// the digest is keccak256 of the EIP-191 prefixed message, distinct
// from the raw-digest typed-structured-data scheme below.
type personalSignRecognizer struct{}

func (personalSignRecognizer) Verify(signature, ownerKey, signedMessage []byte) (string, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("%w: bad signature length %d", ErrMalformed, len(signature))
	}
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(signedMessage))
	digest := crypto.Keccak256([]byte(prefixed), signedMessage)

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
