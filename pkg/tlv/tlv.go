// Package tlv implements the BER-TLV subset used by ISO/IEC 7816-4 cards:
// multi-byte tags, short and long form definite lengths, constructed values.
package tlv

import (
	"fmt"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
)

const maxTagBytes = 4

// Record is one decoded TLV object. Tag holds the raw tag octets big-endian,
// e.g. 0x7F49 or 0xBF8101.
type Record struct {
	Tag   uint32
	Value []byte
	// Raw holds the record as decoded, tag and length octets included.
	// It is nil for records built in code.
	Raw []byte
}

// Encode returns the canonical encoding of tag and value.
func Encode(tag uint32, value []byte) []byte {
	t := tagBytes(tag)
	l := lengthBytes(len(value))
	buf := make([]byte, 0, len(t)+len(l)+len(value))
	buf = append(buf, t...)
	buf = append(buf, l...)
	buf = append(buf, value...)

	return buf
}

// Bytes returns the encoding of r: the octets it was decoded from, or the
// canonical encoding when r was built in code.
func (r Record) Bytes() []byte {
	if r.Raw != nil {
		return r.Raw
	}

	return Encode(r.Tag, r.Value)
}

// Constructed reports whether the tag's first octet has the constructed bit set.
func (r Record) Constructed() bool {
	return tagBytes(r.Tag)[0]&0x20 != 0
}

// Children decodes the value of r as a sequence of records.
func (r Record) Children() ([]Record, error) {
	return DecodeAll(r.Value)
}

// Decode parses the first record in b and returns it with the number of bytes consumed.
// The returned Value and Raw alias b.
func Decode(b []byte) (Record, int, error) {
	tag, n, err := decodeTag(b)
	if err != nil {
		return Record{}, 0, err
	}
	length, m, err := decodeLength(b[n:])
	if err != nil {
		return Record{}, 0, err
	}
	off := n + m
	if length > len(b)-off {
		return Record{}, 0, fmt.Errorf(
			"%w: tlv %X declares %d bytes, %d available",
			errorcodes.ErrProtocolDecode,
			tag,
			length,
			len(b)-off,
		)
	}

	return Record{Tag: tag, Value: b[off : off+length], Raw: b[:off+length]}, off + length, nil
}

// DecodeAll parses a sequence of records. It returns every complete record
// found before the end of b; a truncated or malformed tail is reported as an
// error alongside the records parsed so far.
func DecodeAll(b []byte) ([]Record, error) {
	var out []Record
	for len(b) > 0 {
		r, n, err := Decode(b)
		if err != nil {
			return out, err
		}
		out = append(out, r)
		b = b[n:]
	}

	return out, nil
}

// Find returns the first record with tag.
func Find(records []Record, tag uint32) (Record, bool) {
	for _, r := range records {
		if r.Tag == tag {
			return r, true
		}
	}

	return Record{}, false
}

// Path descends through nested constructed records following tags and returns
// the value of the last one.
func Path(b []byte, tags ...uint32) ([]byte, error) {
	cur := b
	for _, tag := range tags {
		records, err := DecodeAll(cur)
		r, ok := Find(records, tag)
		if !ok {
			if err != nil {
				return nil, err
			}

			return nil, fmt.Errorf("%w: tag %X not found", errorcodes.ErrProtocolDecode, tag)
		}
		cur = r.Value
	}

	return cur, nil
}

func tagBytes(tag uint32) []byte {
	switch {
	case tag > 0xFFFFFF:
		return []byte{byte(tag >> 24), byte(tag >> 16), byte(tag >> 8), byte(tag)}
	case tag > 0xFFFF:
		return []byte{byte(tag >> 16), byte(tag >> 8), byte(tag)}
	case tag > 0xFF:
		return []byte{byte(tag >> 8), byte(tag)}
	default:
		return []byte{byte(tag)}
	}
}

func lengthBytes(n int) []byte {
	switch {
	case n < 0x80:
		return []byte{byte(n)}
	case n <= 0xFF:
		return []byte{0x81, byte(n)}
	case n <= 0xFFFF:
		return []byte{0x82, byte(n >> 8), byte(n)}
	case n <= 0xFFFFFF:
		return []byte{0x83, byte(n >> 16), byte(n >> 8), byte(n)}
	default:
		return []byte{0x84, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

func decodeTag(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("%w: empty tlv", errorcodes.ErrProtocolDecode)
	}
	tag := uint32(b[0])
	n := 1
	if b[0]&0x1F != 0x1F {
		return tag, n, nil
	}
	for {
		if n >= len(b) {
			return 0, 0, fmt.Errorf("%w: truncated tag", errorcodes.ErrProtocolDecode)
		}
		if n >= maxTagBytes {
			return 0, 0, fmt.Errorf("%w: tag longer than %d bytes", errorcodes.ErrProtocolDecode, maxTagBytes)
		}
		tag = tag<<8 | uint32(b[n])
		n++
		if b[n-1]&0x80 == 0 {
			return tag, n, nil
		}
	}
}

func decodeLength(b []byte) (int, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("%w: missing length", errorcodes.ErrProtocolDecode)
	}
	first := b[0]
	if first < 0x80 {
		return int(first), 1, nil
	}
	count := int(first & 0x7F)
	if count == 0 || count > 4 {
		return 0, 0, fmt.Errorf("%w: unsupported length form %02X", errorcodes.ErrProtocolDecode, first)
	}
	if len(b) < 1+count {
		return 0, 0, fmt.Errorf("%w: truncated length", errorcodes.ErrProtocolDecode)
	}
	length := 0
	for _, x := range b[1 : 1+count] {
		length = length<<8 | int(x)
	}
	if length < 0 {
		return 0, 0, fmt.Errorf("%w: length overflow", errorcodes.ErrProtocolDecode)
	}

	return length, 1 + count, nil
}
