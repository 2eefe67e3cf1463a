// Copyright 2025 Certen Protocol
//
// Package bundle implements the ANS-104-compatible binary bundle wire
// format: a 32-byte item count followed by count*64 bytes of
// (size, content id) pairs, followed by each item's raw envelope bytes
// concatenated in order. It is a pure value package.
package bundle

import (
	"bytes"
	"fmt"

	"github.com/certen/bundler-gateway/pkg/envelope"
)

// littleEndian256 encodes n as a 32-byte little-endian field, matching
// the wire format's 256-bit count and size slots.
func littleEndian256(n uint64) []byte {
	out := make([]byte, entryCountBytes)
	for i := 0; i < 8; i++ {
		out[i] = byte(n >> (8 * i))
	}
	return out
}

// Item is one entry bound for a bundle: its content id and raw
// envelope bytes, in the order it will be written.
type Item struct {
	ContentID envelope.ContentID
	Raw       []byte
}

// Offset records where Item ended up once assembled: the byte range of
// its raw envelope within the bundle payload, and where within that
// range the item's own payload (post-header) data begins.
type Offset struct {
	ContentID        envelope.ContentID
	StartOffset      int64
	RawLength        int64
	PayloadDataStart int64 // StartOffset + the item's own envelope header length
	ContentType      string
}

const headerEntrySize = 64 // 32 bytes size + 32 bytes content id

// entryCountBytes is the width of the leading item-count field. The
// wire format reserves 32 bytes (little-endian) even though no bundle
// will ever approach 2^64 items, let alone 2^256.
const entryCountBytes = 32

// Build assembles items into a bundle payload and returns the payload
// bytes alongside the per-item offsets computed during assembly.
// Offsets are relative to the start of the returned payload.
func Build(items []Item) (payload []byte, offsets []Offset, err error) {
	if len(items) == 0 {
		return nil, nil, fmt.Errorf("bundle: cannot build an empty bundle")
	}

	headerSize := entryCountBytes + len(items)*headerEntrySize
	totalSize := headerSize
	for _, it := range items {
		totalSize += len(it.Raw)
	}

	out := make([]byte, 0, totalSize)

	out = append(out, littleEndian256(uint64(len(items)))...)

	for _, it := range items {
		out = append(out, littleEndian256(uint64(len(it.Raw)))...)
		out = append(out, it.ContentID[:]...)
	}

	offsets = make([]Offset, 0, len(items))
	cursor := int64(headerSize)
	for _, it := range items {
		env, parseErr := parseForOffset(it.Raw)
		contentType := ""
		bodyOffset := int64(0)
		if parseErr == nil {
			bodyOffset = env.BodyOffset
			contentType, _ = env.Tag("Content-Type")
		}
		offsets = append(offsets, Offset{
			ContentID:        it.ContentID,
			StartOffset:      cursor,
			RawLength:        int64(len(it.Raw)),
			PayloadDataStart: cursor + bodyOffset,
			ContentType:      contentType,
		})
		out = append(out, it.Raw...)
		cursor += int64(len(it.Raw))
	}

	return out, offsets, nil
}

func parseForOffset(raw []byte) (*envelope.Envelope, error) {
	return envelope.Parse(bytes.NewReader(raw), int64(len(raw)))
}

// PayloadSize returns the total byte size an assembled bundle payload
// would have for the given items, without building it.
func PayloadSize(items []Item) int64 {
	size := int64(entryCountBytes + len(items)*headerEntrySize)
	for _, it := range items {
		size += int64(len(it.Raw))
	}
	return size
}

// ValidOffset reports whether an offset record is consistent with a
// bundle of the given total payload size (spec §3 invariant: start +
// raw length <= bundle payload size).
func ValidOffset(o Offset, bundlePayloadSize int64) bool {
	return o.StartOffset >= 0 && o.StartOffset+o.RawLength <= bundlePayloadSize
}
