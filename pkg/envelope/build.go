package envelope

import (
	"bytes"
	"encoding/binary"
)

// Build serializes an envelope's fields into the wire layout Parse
// expects. Used by tests and by the raw-blob ingestion path, which
// constructs an envelope around client bytes using the upload
// service's own signing key.
func Build(scheme Scheme, signature, owner, target, anchor []byte, tags []Tag, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(scheme))
	buf.Write(signature)
	buf.Write(owner)
	writeOptional32(&buf, target)
	writeOptional32(&buf, anchor)
	writeTags(&buf, tags)
	buf.Write(payload)
	return buf.Bytes()
}

func writeOptional32(buf *bytes.Buffer, field []byte) {
	if len(field) == 0 {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	buf.Write(field)
}

func writeTags(buf *bytes.Buffer, tags []Tag) {
	var section bytes.Buffer
	for _, t := range tags {
		writeLenPrefixedString(&section, t.Name)
		writeLenPrefixedString(&section, t.Value)
	}
	_ = binary.Write(buf, binary.LittleEndian, uint64(len(tags)))
	_ = binary.Write(buf, binary.LittleEndian, uint64(section.Len()))
	buf.Write(section.Bytes())
}

func writeLenPrefixedString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}
