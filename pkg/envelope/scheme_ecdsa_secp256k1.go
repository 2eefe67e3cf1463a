package envelope

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ecdsaSecp256k1Recognizer verifies a 65-byte recoverable secp256k1
// signature (r, s, v) over keccak256(signedMessage), recovering the
// signer's address the way go-ethereum's accounts package does.
type ecdsaSecp256k1Recognizer struct{}

func (ecdsaSecp256k1Recognizer) Verify(signature, ownerKey, signedMessage []byte) (string, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("%w: bad ecdsa signature length %d", ErrMalformed, len(signature))
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

// normalizeRecoveryID rewrites a v of 27/28 into the 0/1 form
// go-ethereum's SigToPub expects.
func normalizeRecoveryID(sig []byte) []byte {
	out := make([]byte, len(sig))
	copy(out, sig)
	if out[64] >= 27 {
		out[64] -= 27
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
