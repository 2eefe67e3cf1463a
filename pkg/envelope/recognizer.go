package envelope

import "fmt"

// Recognizer verifies one scheme's signature over signedMessage and,
// on success, returns the owning address in that scheme's native
// string form.
type Recognizer interface {
	Verify(signature, ownerKey, signedMessage []byte) (address string, err error)
}

var registry = map[Scheme]Recognizer{
	SchemeNativeRSA:           nativeRSARecognizer{},
	SchemeEd25519:             ed25519Recognizer{},
	SchemeECDSASecp256k1:      ecdsaSecp256k1Recognizer{},
	SchemeCosmosSecp256k1:     cosmosSecp256k1Recognizer{},
	SchemeMoveVMVariantBase58: moveVMBase58Recognizer{},
	SchemeMoveVMVariantStrkey: moveVMStrkeyRecognizer{},
	SchemePersonalSign:        personalSignRecognizer{},
	SchemeTypedStructuredData: typedStructuredDataRecognizer{},
}

// ErrSignatureInvalid means the recognizer ran but the signature did
// not verify.
var ErrSignatureInvalid = fmt.Errorf("envelope: signature invalid")

// Verify dispatches to the recognizer for e.Scheme and returns the
// recovered owner address.
func Verify(e *Envelope) (address string, err error) {
	r, ok := registry[e.Scheme]
	if !ok {
		return "", fmt.Errorf("%w: no recognizer for scheme %s", ErrMalformed, e.Scheme)
	}
	return r.Verify(e.Signature, e.Owner, e.SignatureBase())
}
