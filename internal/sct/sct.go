// Package sct implements the RFC 6962 SignedCertificateTimestamp wire
// format: parsing raw SCT blobs, rebuilding the exact byte sequence a log
// signed, and the 16-bit length-prefixed framing shared by the TLS SCT-list
// extension and the on-disk collated blob.
package sct

import (
	"fmt"
	"time"

	"golang.org/x/crypto/cryptobyte"
)

// LogIDSize is the fixed size of a CT log identifier.
const LogIDSize = 32

// ExtensionType is the TLS extension number carrying an SCT list (RFC 6962 §3.3.1).
const ExtensionType = 18

// Signature algorithm identifiers from the TLS SignatureAndHashAlgorithm
// registry, as used in digitally-signed SCTs.
const (
	HashSHA256  = 4
	SigAlgRSA   = 1
	SigAlgECDSA = 3
)

const (
	versionV1            = 0
	sigTypeCertTimestamp = 0
	entryTypeX509        = 0
)

// SCT holds the decoded fields of one SignedCertificateTimestamp.
type SCT struct {
	Version    byte
	LogID      [LogIDSize]byte
	Timestamp  uint64 // milliseconds since the Unix epoch
	Extensions []byte
	HashAlg    byte
	SigAlg     byte
	Signature  []byte
}

// Time returns the SCT timestamp as a time.Time.
func (s *SCT) Time() time.Time {
	return time.UnixMilli(int64(s.Timestamp))
}

// InFuture reports whether the SCT claims a timestamp later than now.
// Such SCTs must not be served or accepted.
func (s *SCT) InFuture(now time.Time) bool {
	return s.Time().After(now)
}

// ParseError describes why a raw SCT blob could not be decoded.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "malformed SCT: " + e.Reason
}

func parseErrorf(format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

const minSCTSize = 1 + LogIDSize + 8

// Parse decodes a raw SCT. The declared lengths must consume the input
// exactly; truncated input or trailing bytes yield a *ParseError, never a
// panic or partially filled fields.
func Parse(b []byte) (*SCT, error) {
	if len(b) < minSCTSize {
		return nil, parseErrorf("%d bytes is too small for the fixed header", len(b))
	}

	s := cryptobyte.String(b)
	out := &SCT{}

	if !s.ReadUint8(&out.Version) {
		return nil, parseErrorf("missing version")
	}
	if !s.CopyBytes(out.LogID[:]) {
		return nil, parseErrorf("missing log id")
	}
	if !s.ReadUint64(&out.Timestamp) {
		return nil, parseErrorf("missing timestamp")
	}

	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) {
		return nil, parseErrorf("extension length exceeds remaining %d bytes", len(s))
	}
	out.Extensions = append([]byte{}, exts...)

	if !s.ReadUint8(&out.HashAlg) || !s.ReadUint8(&out.SigAlg) {
		return nil, parseErrorf("missing signature algorithms")
	}

	var sig cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&sig) {
		return nil, parseErrorf("signature length exceeds remaining %d bytes", len(s))
	}
	out.Signature = append([]byte{}, sig...)

	if !s.Empty() {
		return nil, parseErrorf("%d trailing bytes after signature", len(s))
	}
	return out, nil
}

// Bytes re-encodes the SCT into its wire form. Parse(s.Bytes()) yields an
// equal SCT for any value Parse accepted.
func (s *SCT) Bytes() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(s.Version)
	b.AddBytes(s.LogID[:])
	b.AddUint64(s.Timestamp)
	b.AddUint16LengthPrefixed(func(c *cryptobyte.Builder) {
		c.AddBytes(s.Extensions)
	})
	b.AddUint8(s.HashAlg)
	b.AddUint8(s.SigAlg)
	b.AddUint16LengthPrefixed(func(c *cryptobyte.Builder) {
		c.AddBytes(s.Signature)
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, parseErrorf("encoding: %v", err)
	}
	return out, nil
}

// SignedInput rebuilds the exact byte sequence the issuing log signed for an
// X.509 certificate entry: {v1, certificate_timestamp, timestamp, x509_entry,
// u24-prefixed leaf DER, u16-prefixed extensions}. Any divergence from the
// log's serialization surfaces as a signature verification failure.
func SignedInput(s *SCT, certDER []byte) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(versionV1)
	b.AddUint8(sigTypeCertTimestamp)
	b.AddUint64(s.Timestamp)
	b.AddUint16(entryTypeX509)
	b.AddUint24LengthPrefixed(func(c *cryptobyte.Builder) {
		c.AddBytes(certDER)
	})
	b.AddUint16LengthPrefixed(func(c *cryptobyte.Builder) {
		c.AddBytes(s.Extensions)
	})
	return b.Bytes()
}
