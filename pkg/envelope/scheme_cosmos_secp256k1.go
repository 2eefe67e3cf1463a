package envelope

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for Cosmos-style address derivation
)

// cosmosSecp256k1Recognizer verifies a non-recoverable 64-byte (r||s)
// secp256k1 signature over sha256(signedMessage), and derives a
// bech32 address the way Cosmos SDK chains do:
// bech32(hrp, ripemd160(sha256(compressed pubkey))).
type cosmosSecp256k1Recognizer struct{}

const cosmosAddressHRP = "cosmos"

func (cosmosSecp256k1Recognizer) Verify(signature, pubKeyBytes, signedMessage []byte) (string, error) {
	if len(signature) != 64 {
		return "", fmt.Errorf("%w: bad cosmos signature length %d", ErrMalformed, len(signature))
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var r, s btcec.ModNScalar
	r.SetByteSlice(signature[:32])
	s.SetByteSlice(signature[32:])
	sig := ecdsa.NewSignature(&r, &s)

	digest := sha256.Sum256(signedMessage)
	if !sig.Verify(digest[:], pubKey) {
		return "", ErrSignatureInvalid
	}

	shaHash := sha256.Sum256(pubKey.SerializeCompressed())
	ripe := ripemd160.New()
	ripe.Write(shaHash[:])
	addrBytes := ripe.Sum(nil)

	converted, err := bech32.ConvertBits(addrBytes, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("address encoding: %w", err)
	}
	addr, err := bech32.Encode(cosmosAddressHRP, converted)
	if err != nil {
		return "", fmt.Errorf("address encoding: %w", err)
	}
	return addr, nil
}
