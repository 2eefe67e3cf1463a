package envelope

import "golang.org/x/crypto/sha3"

// ContentID is a 32-byte hash-like identifier computed over the
// envelope's signature region, per the ingestion rule in spec §4.5
// step 3 ("compute the content id, hash of the signature region").
type ContentID [32]byte

// ComputeContentID hashes the envelope's signature bytes.
func ComputeContentID(e *Envelope) ContentID {
	return sha3.Sum256(e.Signature)
}
