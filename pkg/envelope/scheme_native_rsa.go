package envelope

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// nativeRSARecognizer verifies the chain's native signature scheme:
// RSA-PSS over a SHA-256 digest, key size up to 4096 bits. No RSA-PSS
// library appears anywhere in the retrieval pack for this scheme, so
// it is implemented directly on crypto/rsa (stdlib; see DESIGN.md).
type nativeRSARecognizer struct{}

// nativePublicExponent is fixed per the native chain's key convention:
// the owner field carries only the modulus, not a full ASN.1 key.
const nativePublicExponent = 65537

func (nativeRSARecognizer) Verify(signature, modulus, signedMessage []byte) (string, error) {
	n := new(big.Int).SetBytes(modulus)
	if n.Sign() <= 0 {
		return "", fmt.Errorf("%w: zero modulus", ErrMalformed)
	}
	pub := &rsa.PublicKey{N: n, E: nativePublicExponent}

	digest := sha256.Sum256(signedMessage)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	addr := sha256.Sum256(modulus)
	return hex.EncodeToString(addr[:]), nil
}
