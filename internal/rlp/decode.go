// Package rlp implements the slice of the RLP wire format this bridge
// actually speaks: a signed Ethereum transaction is a flat list of byte
// strings, and the contract-address preimage is a two-element nested
// list. Decoding is limited to the flat-list shape; there is no
// reflection-driven struct codec because nothing here decodes into
// structs.
package rlp

// DecodeBytesList decodes raw as one top-level RLP list whose every
// element is a byte string, returning the payload bytes of each element
// in order. The whole input must be consumed by the list; elements that
// are themselves lists, non-canonical encodings, and truncated payloads
// are rejected.
func DecodeBytesList(raw []byte) ([][]byte, error) {
	c := cursor{data: raw}
	end, err := c.enterList()
	if err != nil {
		return nil, err
	}
	if end != len(raw) {
		return nil, ErrTrailingBytes
	}
	var out [][]byte
	for c.pos < end {
		b, err := c.readString(end)
		if err != nil {
			return nil, err
		}
		out = append(out, append([]byte(nil), b...))
	}
	return out, nil
}

// cursor walks raw RLP bytes left to right.
type cursor struct {
	data []byte
	pos  int
}

// enterList consumes a list header at the cursor and returns the
// exclusive end offset of the list payload.
func (c *cursor) enterList() (int, error) {
	if c.pos >= len(c.data) {
		return 0, ErrTruncated
	}
	prefix := c.data[c.pos]
	if prefix < 0xc0 {
		return 0, ErrNotList
	}
	size, headerLen, err := c.payloadSize(prefix, 0xc0, 0xf7)
	if err != nil {
		return 0, err
	}
	c.pos += headerLen
	end := c.pos + size
	if end > len(c.data) {
		return 0, ErrTruncated
	}
	return end, nil
}

// readString consumes one byte-string element, failing on a nested list
// or anything that reads past limit.
func (c *cursor) readString(limit int) ([]byte, error) {
	if c.pos >= limit {
		return nil, ErrTruncated
	}
	prefix := c.data[c.pos]
	if prefix >= 0xc0 {
		return nil, ErrNotString
	}
	if prefix <= 0x7f {
		b := c.data[c.pos : c.pos+1]
		c.pos++
		return b, nil
	}
	size, headerLen, err := c.payloadSize(prefix, 0x80, 0xb7)
	if err != nil {
		return nil, err
	}
	start := c.pos + headerLen
	end := start + size
	if end > limit {
		return nil, ErrTruncated
	}
	if size == 1 && c.data[start] <= 0x7f {
		// A single byte below 0x80 must be encoded as itself.
		return nil, ErrNonCanonical
	}
	c.pos = end
	return c.data[start:end], nil
}

// payloadSize decodes the short/long size forms shared by strings and
// lists. base is the short-form tag (0x80 or 0xc0), longBase the last
// short-form tag (0xb7 or 0xf7).
func (c *cursor) payloadSize(prefix, base, longBase byte) (size, headerLen int, err error) {
	if prefix <= longBase {
		return int(prefix - base), 1, nil
	}
	lenOfLen := int(prefix - longBase)
	if c.pos+1+lenOfLen > len(c.data) {
		return 0, 0, ErrTruncated
	}
	sizeBytes := c.data[c.pos+1 : c.pos+1+lenOfLen]
	if sizeBytes[0] == 0 {
		return 0, 0, ErrNonCanonical
	}
	var n uint64
	for _, b := range sizeBytes {
		n = (n << 8) | uint64(b)
	}
	if n <= 55 {
		// Payloads of 55 bytes or less must use the short form.
		return 0, 0, ErrNonCanonical
	}
	if n > uint64(len(c.data)) {
		return 0, 0, ErrTruncated
	}
	return int(n), 1 + lenOfLen, nil
}
