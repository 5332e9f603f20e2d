package sct

import (
	"golang.org/x/crypto/cryptobyte"
)

// maxFramedEntry is the largest value a u16 length prefix can carry.
const maxFramedEntry = 65535

// WriteFramed serializes a sequence of byte strings as
// {u16 total length, (u16 length, bytes)*}. This is both the TLS SCT-list
// extension encoding and the collated-blob file format.
func WriteFramed(values [][]byte) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(outer *cryptobyte.Builder) {
		for _, v := range values {
			outer.AddUint16LengthPrefixed(func(inner *cryptobyte.Builder) {
				inner.AddBytes(v)
			})
		}
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, parseErrorf("framing: %v", err)
	}
	return out, nil
}

// ReadFramed decodes a framed blob back into its entries. The outer length
// must cover the remainder of the input exactly and every inner length must
// be satisfied; anything else is a *ParseError.
func ReadFramed(b []byte) ([][]byte, error) {
	s := cryptobyte.String(b)

	var list cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&list) {
		return nil, parseErrorf("framed blob too short for declared length")
	}
	if !s.Empty() {
		return nil, parseErrorf("%d bytes after framed list", len(s))
	}

	var out [][]byte
	for !list.Empty() {
		var entry cryptobyte.String
		if !list.ReadUint16LengthPrefixed(&entry) {
			return nil, parseErrorf("framed entry length exceeds remaining %d bytes", len(list))
		}
		out = append(out, append([]byte{}, entry...))
	}
	return out, nil
}
