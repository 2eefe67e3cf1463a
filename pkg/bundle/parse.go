package bundle

import (
	"encoding/binary"
	"fmt"

	"github.com/certen/bundler-gateway/pkg/envelope"
)

// Entry is one decoded header slot: the declared size and content id
// of an item, before its raw bytes have been sliced out.
type Entry struct {
	Size      int64
	ContentID envelope.ContentID
}

// ParseHeader decodes the leading item-count and (size, content id)
// table from a bundle payload, returning the entries and the byte
// offset at which item bodies begin.
func ParseHeader(payload []byte) (entries []Entry, bodyStart int64, err error) {
	if len(payload) < entryCountBytes {
		return nil, 0, fmt.Errorf("bundle: payload shorter than count field")
	}
	count, err := decodeLittleEndian256(payload[:entryCountBytes])
	if err != nil {
		return nil, 0, err
	}
	headerSize := entryCountBytes + int(count)*headerEntrySize
	if len(payload) < headerSize {
		return nil, 0, fmt.Errorf("bundle: payload shorter than declared header (count=%d)", count)
	}

	entries = make([]Entry, 0, count)
	cursor := entryCountBytes
	for i := uint64(0); i < count; i++ {
		size, err := decodeLittleEndian256(payload[cursor : cursor+32])
		if err != nil {
			return nil, 0, err
		}
		var cid envelope.ContentID
		copy(cid[:], payload[cursor+32:cursor+64])
		entries = append(entries, Entry{Size: int64(size), ContentID: cid})
		cursor += headerEntrySize
	}
	return entries, int64(headerSize), nil
}

// Items splits a bundle payload into its raw item bytes using a
// previously decoded header.
func Items(payload []byte, entries []Entry, bodyStart int64) ([][]byte, error) {
	out := make([][]byte, 0, len(entries))
	cursor := bodyStart
	for i, e := range entries {
		end := cursor + e.Size
		if end > int64(len(payload)) {
			return nil, fmt.Errorf("bundle: entry %d overruns payload", i)
		}
		out = append(out, payload[cursor:end])
		cursor = end
	}
	return out, nil
}

func decodeLittleEndian256(b []byte) (uint64, error) {
	// Only the low 8 bytes are meaningful for any bundle this service
	// will ever produce; the remaining 24 bytes of the 256-bit field
	// are validated as zero to catch corruption.
	for _, x := range b[8:32] {
		if x != 0 {
			return 0, fmt.Errorf("bundle: 256-bit field exceeds 64 bits")
		}
	}
	return binary.LittleEndian.Uint64(b[:8]), nil
}
