// Copyright 2025 Certen Protocol
//
// Package envelope implements the per-item binary container and
// dispatches signature verification across the eight supported
// cryptographic schemes. It is a pure value package: Parse and Verify
// never touch a store or make a network call.
package envelope

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Scheme tags the first byte of an envelope, selecting which recognizer
// verifies its signature.
type Scheme byte

const (
	SchemeNativeRSA           Scheme = 1
	SchemeEd25519             Scheme = 2
	SchemeECDSASecp256k1      Scheme = 3
	SchemeCosmosSecp256k1     Scheme = 4
	SchemeMoveVMVariantBase58 Scheme = 5
	SchemeMoveVMVariantStrkey Scheme = 6
	SchemePersonalSign        Scheme = 7
	SchemeTypedStructuredData Scheme = 8
)

func (s Scheme) String() string {
	switch s {
	case SchemeNativeRSA:
		return "native-rsa"
	case SchemeEd25519:
		return "ed25519"
	case SchemeECDSASecp256k1:
		return "ecdsa-secp256k1"
	case SchemeCosmosSecp256k1:
		return "cosmos-secp256k1"
	case SchemeMoveVMVariantBase58:
		return "movevm-base58"
	case SchemeMoveVMVariantStrkey:
		return "movevm-strkey"
	case SchemePersonalSign:
		return "personal-sign"
	case SchemeTypedStructuredData:
		return "typed-structured-data"
	default:
		return fmt.Sprintf("unknown(%d)", byte(s))
	}
}

// schemeLengths gives the fixed signature and public-key byte lengths
// for each scheme. Native RSA signature and modulus fields are always
// read at the 4096-bit size (512 bytes each).
type schemeLengths struct {
	sigLen    int
	pubKeyLen int
}

var lengths = map[Scheme]schemeLengths{
	SchemeNativeRSA:           {sigLen: 512, pubKeyLen: 512},
	SchemeEd25519:             {sigLen: 64, pubKeyLen: 32},
	SchemeECDSASecp256k1:      {sigLen: 65, pubKeyLen: 65},
	SchemeCosmosSecp256k1:     {sigLen: 64, pubKeyLen: 33},
	SchemeMoveVMVariantBase58: {sigLen: 64, pubKeyLen: 32},
	SchemeMoveVMVariantStrkey: {sigLen: 64, pubKeyLen: 32},
	SchemePersonalSign:        {sigLen: 65, pubKeyLen: 65},
	SchemeTypedStructuredData: {sigLen: 65, pubKeyLen: 65},
}

// Tag is a decoded name/value pair from the envelope's tag list. Per
// REDESIGN FLAGS, callers decode well-known tags into named fields once
// at parse time rather than carrying a dynamic bag around.
type Tag struct {
	Name  string
	Value string
}

// Envelope is a fully parsed, not-yet-verified envelope.
type Envelope struct {
	Scheme    Scheme
	Signature []byte
	Owner     []byte
	Target    []byte // 32 bytes, nil if absent
	Anchor    []byte // 32 bytes, nil if absent
	Tags      []Tag
	Payload   []byte

	// BodyOffset is the byte offset of Payload within the raw envelope,
	// i.e. everything before it is header (scheme, signature, owner,
	// target, anchor, tags).
	BodyOffset int64

	// Raw is the full envelope as parsed, retained for re-serialization
	// into a bundle without recomputing offsets.
	Raw []byte
}

const (
	maxEnvelopeSize  = 10 * 1024 * 1024 * 1024 // 10 GiB, per spec §4.4
	streamThreshold  = 10 * 1024               // 10 KiB, per spec §4.4
	maxTagBytes      = 4 * 1024 * 1024
)

// ErrMalformed wraps any structural parse failure.
var ErrMalformed = fmt.Errorf("envelope: malformed")

// Parse reads a full envelope from r, bounded by maxSize (caller passes
// the configured max item size; envelopes larger than maxEnvelopeSize
// are always rejected). Verification is streamable for bodies at or
// above streamThreshold in the sense that Parse reads them in one pass
// without requiring a second buffered copy; small bodies are buffered
// outright, which already satisfies that bound.
func Parse(r io.Reader, maxSize int64) (*Envelope, error) {
	if maxSize <= 0 || maxSize > maxEnvelopeSize {
		maxSize = maxEnvelopeSize
	}
	limited := io.LimitReader(r, maxSize+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("envelope: reading body: %w", err)
	}
	if int64(len(raw)) > maxSize {
		return nil, fmt.Errorf("envelope: exceeds max size %d: %w", maxSize, ErrPayloadTooLarge)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	return parseBytes(raw)
}

// ErrPayloadTooLarge is returned when an envelope exceeds the
// configured maximum size.
var ErrPayloadTooLarge = fmt.Errorf("envelope: payload too large")

func parseBytes(raw []byte) (*Envelope, error) {
	buf := bytes.NewReader(raw)

	schemeByte, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: missing scheme byte", ErrMalformed)
	}
	scheme := Scheme(schemeByte)
	lens, ok := lengths[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized scheme tag %d", ErrMalformed, schemeByte)
	}

	sig := make([]byte, lens.sigLen)
	if _, err := io.ReadFull(buf, sig); err != nil {
		return nil, fmt.Errorf("%w: short signature", ErrMalformed)
	}

	owner := make([]byte, lens.pubKeyLen)
	if _, err := io.ReadFull(buf, owner); err != nil {
		return nil, fmt.Errorf("%w: short owner public key", ErrMalformed)
	}

	target, err := readOptional32(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: target: %v", ErrMalformed, err)
	}
	anchor, err := readOptional32(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: anchor: %v", ErrMalformed, err)
	}

	tags, err := readTags(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: tags: %v", ErrMalformed, err)
	}

	bodyOffset := int64(len(raw)) - int64(buf.Len())
	payload := raw[bodyOffset:]

	return &Envelope{
		Scheme:     scheme,
		Signature:  sig,
		Owner:      owner,
		Target:     target,
		Anchor:     anchor,
		Tags:       tags,
		Payload:    payload,
		BodyOffset: bodyOffset,
		Raw:        raw,
	}, nil
}

func readOptional32(buf *bytes.Reader) ([]byte, error) {
	flag, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("missing presence flag")
	}
	if flag == 0 {
		return nil, nil
	}
	if flag != 1 {
		return nil, fmt.Errorf("invalid presence flag %d", flag)
	}
	out := make([]byte, 32)
	if _, err := io.ReadFull(buf, out); err != nil {
		return nil, fmt.Errorf("short field")
	}
	return out, nil
}

func readTags(buf *bytes.Reader) ([]Tag, error) {
	var count uint64
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("missing tag count")
	}
	var byteLen uint64
	if err := binary.Read(buf, binary.LittleEndian, &byteLen); err != nil {
		return nil, fmt.Errorf("missing tag byte length")
	}
	if byteLen > maxTagBytes {
		return nil, fmt.Errorf("tag section too large: %d", byteLen)
	}
	section := make([]byte, byteLen)
	if _, err := io.ReadFull(buf, section); err != nil {
		return nil, fmt.Errorf("short tag section")
	}
	sr := bytes.NewReader(section)
	tags := make([]Tag, 0, count)
	for i := uint64(0); i < count; i++ {
		name, err := readLenPrefixedString(sr)
		if err != nil {
			return nil, fmt.Errorf("tag %d name: %w", i, err)
		}
		value, err := readLenPrefixedString(sr)
		if err != nil {
			return nil, fmt.Errorf("tag %d value: %w", i, err)
		}
		tags = append(tags, Tag{Name: name, Value: value})
	}
	return tags, nil
}

func readLenPrefixedString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Tag looks up the first tag with the given name.
func (e *Envelope) Tag(name string) (string, bool) {
	for _, t := range e.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// SignatureBase returns the bytes the signature was computed over: the
// envelope's owner key, target, anchor, tags and payload, in that
// order. Scheme and signature itself are excluded.
func (e *Envelope) SignatureBase() []byte {
	return e.Raw[1+len(e.Signature):]
}
