// Package certs handles certificate chain identity and I/O for the SCT
// store: fingerprints, PEM chain files, and extraction of SCT lists embedded
// in leaf certificates and stapled OCSP responses.
package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/cryptobyte"
	asn1ct "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/crypto/ocsp"
)

// Chain is a parsed certificate chain, leaf first.
type Chain struct {
	Certs []*x509.Certificate
}

// Leaf returns the end-entity certificate.
func (c *Chain) Leaf() *x509.Certificate {
	return c.Certs[0]
}

// Fingerprint is the stable identity key for a certificate: lowercase hex of
// the SHA-256 digest of the leaf DER.
func (c *Chain) Fingerprint() string {
	return FingerprintDER(c.Leaf().Raw)
}

func FingerprintDER(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// ParseChainPEM decodes a PEM bundle into a chain. The first CERTIFICATE
// block is the leaf.
func ParseChainPEM(data []byte) (*Chain, error) {
	var chain Chain
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "parsing certificate")
		}
		chain.Certs = append(chain.Certs, cert)
	}
	if len(chain.Certs) == 0 {
		return nil, errors.New("no certificates in PEM data")
	}
	return &chain, nil
}

// LoadChainFile reads a PEM chain from disk.
func LoadChainFile(path string) (*Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading chain %s", path)
	}
	chain, err := ParseChainPEM(data)
	if err != nil {
		return nil, errors.Wrapf(err, "chain %s", path)
	}
	return chain, nil
}

// WriteChainFile writes the chain as a PEM bundle, leaf first.
func WriteChainFile(path string, chain *Chain) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	for _, cert := range chain.Certs {
		if err := pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}); err != nil {
			f.Close()
			return errors.Wrapf(err, "writing %s", path)
		}
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}

// RFC 6962 embedded-SCT extension OIDs.
var (
	oidCertSCTList = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 2}
	oidOCSPSCTList = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 5}
)

// EmbeddedSCTList returns the raw framed SCT list from the leaf
// certificate's SCT extension, or nil if the certificate carries none. The
// extension value is an ASN.1 OCTET STRING wrapping the TLS-encoded list.
func EmbeddedSCTList(cert *x509.Certificate) ([]byte, error) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidCertSCTList) {
			continue
		}
		return unwrapOctetString(ext.Value)
	}
	return nil, nil
}

// StapledSCTList returns the raw framed SCT list embedded in a DER OCSP
// response's singleExtensions, or nil if absent.
func StapledSCTList(raw []byte) ([]byte, error) {
	resp, err := ocsp.ParseResponse(raw, nil)
	if err != nil {
		return nil, errors.Wrap(err, "parsing OCSP response")
	}
	for _, ext := range resp.Extensions {
		if !ext.Id.Equal(oidOCSPSCTList) {
			continue
		}
		return unwrapOctetString(ext.Value)
	}
	return nil, nil
}

func unwrapOctetString(value []byte) ([]byte, error) {
	var inner cryptobyte.String
	s := cryptobyte.String(value)
	if !s.ReadASN1(&inner, asn1ct.OCTET_STRING) || !s.Empty() {
		return nil, errors.New("SCT list extension is not a single OCTET STRING")
	}
	return append([]byte{}, inner...), nil
}
