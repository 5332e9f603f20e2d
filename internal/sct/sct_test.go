package sct

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func rawSCT(t *testing.T, extensions, signature []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteByte(0) // v1
	logID := bytes.Repeat([]byte{0xAB}, LogIDSize)
	buf.Write(logID)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], 1700000000000)
	buf.Write(ts[:])

	var extLen [2]byte
	binary.BigEndian.PutUint16(extLen[:], uint16(len(extensions)))
	buf.Write(extLen[:])
	buf.Write(extensions)

	buf.WriteByte(HashSHA256)
	buf.WriteByte(SigAlgECDSA)

	var sigLen [2]byte
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(signature)))
	buf.Write(sigLen[:])
	buf.Write(signature)

	return buf.Bytes()
}

func TestParse(t *testing.T) {
	raw := rawSCT(t, []byte{0x01, 0x02}, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	want := &SCT{
		Version:    0,
		Timestamp:  1700000000000,
		Extensions: []byte{0x01, 0x02},
		HashAlg:    HashSHA256,
		SigAlg:     SigAlgECDSA,
		Signature:  []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	copy(want.LogID[:], bytes.Repeat([]byte{0xAB}, LogIDSize))

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRoundTrip(t *testing.T) {
	raw := rawSCT(t, []byte("ext"), []byte("signature-bytes"))

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	encoded, err := parsed.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error: %v", err)
	}
	if !bytes.Equal(raw, encoded) {
		t.Errorf("Bytes() = %x, want %x", encoded, raw)
	}
}

func TestParseMalformed(t *testing.T) {
	valid := rawSCT(t, []byte{0x01}, []byte{0x02, 0x03})

	truncatedExt := rawSCT(t, nil, nil)
	binary.BigEndian.PutUint16(truncatedExt[1+LogIDSize+8:], 500)

	overlongSig := rawSCT(t, nil, []byte{0x01})
	binary.BigEndian.PutUint16(overlongSig[len(overlongSig)-3:], 500)

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"truncated header", valid[:minSCTSize-1]},
		{"missing extension length", valid[:minSCTSize]},
		{"extension length exceeds input", truncatedExt},
		{"signature length exceeds input", overlongSig},
		{"trailing garbage", append(append([]byte{}, valid...), 0xFF)},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err == nil {
			t.Errorf("Parse(%s) = %+v, want error", tt.name, got)
			continue
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("Parse(%s) error type %T, want *ParseError", tt.name, err)
		}
	}
}

func TestSignedInput(t *testing.T) {
	s := &SCT{
		Timestamp:  0x0102030405060708,
		Extensions: []byte{0xEE},
	}
	certDER := []byte{0xC0, 0xC1, 0xC2}

	got, err := SignedInput(s, certDER)
	if err != nil {
		t.Fatalf("SignedInput() error: %v", err)
	}

	want := []byte{
		0,                                              // version
		0,                                              // certificate_timestamp
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, // timestamp
		0x00, 0x00, // x509_entry
		0x00, 0x00, 0x03, 0xC0, 0xC1, 0xC2, // u24-prefixed DER
		0x00, 0x01, 0xEE, // u16-prefixed extensions
	}
	if !bytes.Equal(got, want) {
		t.Errorf("SignedInput() = %x, want %x", got, want)
	}
}

func TestInFuture(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	past := &SCT{Timestamp: 1700000000000 - 1}
	if past.InFuture(now) {
		t.Error("past SCT reported as future")
	}

	future := &SCT{Timestamp: 1700000000000 + 60000}
	if !future.InFuture(now) {
		t.Error("future SCT not reported as future")
	}
}
