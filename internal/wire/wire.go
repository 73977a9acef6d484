// Package wire implements the minimal protobuf wire encoding Steam's
// authentication API uses: varint (0), fixed64 (1) and length-delimited (2)
// fields. Steam's messages never use packed-repeated or 32-bit scalars, so
// those are read but never written.
package wire

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"
)

const (
	typeVarint  = 0
	typeFixed64 = 1
	typeBytes   = 2
	typeFixed32 = 5
)

// Writer builds a protobuf message field by field.
//
// Field presence follows the behavior of the real Steam mobile client:
// empty strings, empty byte slices and false bools are omitted, while
// uint64, fixed64 and enum fields are always written even when zero.
// Omitting a zero enum or uint64 makes Steam reject or misread requests.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty message writer.
func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) writeVarint(v uint64) {
	for v >= 0x80 {
		w.buf.WriteByte(byte(v&0x7F | 0x80))
		v >>= 7
	}
	w.buf.WriteByte(byte(v & 0x7F))
}

func (w *Writer) writeTag(field, wireType int) {
	w.writeVarint(uint64(field)<<3 | uint64(wireType))
}

// String writes a length-delimited UTF-8 string field. Empty strings are
// omitted.
func (w *Writer) String(field int, s string) {
	if s == "" {
		return
	}
	w.writeTag(field, typeBytes)
	w.writeVarint(uint64(len(s)))
	w.buf.WriteString(s)
}

// Bytes writes a length-delimited bytes field. Empty slices are omitted.
func (w *Writer) Bytes(field int, b []byte) {
	if len(b) == 0 {
		return
	}
	w.writeTag(field, typeBytes)
	w.writeVarint(uint64(len(b)))
	w.buf.Write(b)
}

// Uint64 writes a varint field. Zero values are written, not omitted.
func (w *Writer) Uint64(field int, v uint64) {
	w.writeTag(field, typeVarint)
	w.writeVarint(v)
}

// Fixed64 writes an 8-byte little-endian field. Zero values are written,
// not omitted.
func (w *Writer) Fixed64(field int, v uint64) {
	w.writeTag(field, typeFixed64)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// Enum writes an enum as a varint field. Zero values are written.
func (w *Writer) Enum(field int, v int32) {
	w.Uint64(field, uint64(uint32(v)))
}

// Bool writes a bool field as varint 1. False is omitted.
func (w *Writer) Bool(field int, v bool) {
	if !v {
		return
	}
	w.Uint64(field, 1)
}

// Marshal returns the serialized message.
func (w *Writer) Marshal() []byte {
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out
}

// value is one decoded field. Length-delimited payloads keep both the raw
// bytes and, when the payload is valid UTF-8, a string view.
type value struct {
	num  uint64
	raw  []byte
	str  string
	text bool
}

// Message is a decoded protobuf message. Unknown fields are stored but never
// inspected; repeated occurrences of a field keep the last value, which is
// all Steam's auth responses need.
type Message struct {
	fields map[int]value
}

// Parse decodes data into a Message. Malformed trailing data silently stops
// parsing: Parse never fails, and callers must check for the specific fields
// they need, treating a missing mandatory field as a protocol error.
func Parse(data []byte) *Message {
	m := &Message{fields: make(map[int]value)}
	pos := 0
	for pos < len(data) {
		tag, n := readVarint(data[pos:])
		if n == 0 || tag == 0 {
			break
		}
		pos += n
		field := int(tag >> 3)
		wireType := int(tag & 0x7)

		switch wireType {
		case typeVarint:
			v, n := readVarint(data[pos:])
			if n == 0 {
				return m
			}
			pos += n
			m.fields[field] = value{num: v}
		case typeFixed64:
			if pos+8 > len(data) {
				return m
			}
			m.fields[field] = value{num: binary.LittleEndian.Uint64(data[pos:])}
			pos += 8
		case typeBytes:
			length, n := readVarint(data[pos:])
			if n == 0 {
				return m
			}
			pos += n
			if length > uint64(len(data)-pos) {
				return m
			}
			raw := make([]byte, length)
			copy(raw, data[pos:pos+int(length)])
			pos += int(length)
			v := value{raw: raw}
			if utf8.Valid(raw) {
				v.str = string(raw)
				v.text = true
			}
			m.fields[field] = v
		case typeFixed32:
			if pos+4 > len(data) {
				return m
			}
			m.fields[field] = value{num: uint64(binary.LittleEndian.Uint32(data[pos:]))}
			pos += 4
		default:
			// Unknown wire type, cannot know the payload size.
			return m
		}
	}
	return m
}

func readVarint(data []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i := 0; i < len(data); i++ {
		b := data[i]
		if shift >= 64 {
			return 0, 0
		}
		v |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
	}
	return 0, 0
}

// Has reports whether the field was present in the message.
func (m *Message) Has(field int) bool {
	_, ok := m.fields[field]
	return ok
}

// Uint64 returns a varint or fixed64 field, or 0 when absent.
func (m *Message) Uint64(field int) uint64 {
	return m.fields[field].num
}

// Bool returns a varint field interpreted as a bool.
func (m *Message) Bool(field int) bool {
	return m.fields[field].num != 0
}

// String returns a length-delimited field decoded as UTF-8, or "" when the
// field is absent or not valid text.
func (m *Message) String(field int) string {
	return m.fields[field].str
}

// Bytes returns the raw payload of a length-delimited field, or nil when
// absent.
func (m *Message) Bytes(field int) []byte {
	return m.fields[field].raw
}
