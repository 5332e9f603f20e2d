// Package cttrust holds the set of Certificate Transparency logs this
// instance knows about and verifies SCT signatures against their public keys.
package cttrust

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ctkeeper/ctkeeper/internal/sct"
)

// TrustStatus marks whether the operator trusts a configured log. Logs with
// no explicit status default to trusted, matching the behavior of the log
// configuration database's unset audit_status column.
type TrustStatus int

const (
	TrustUnset TrustStatus = iota
	Trusted
	Distrusted
)

// LogEntry is one configured log: a 32-byte id, the key used to verify its
// SCT signatures, and the submission URL. Immutable after configuration load.
type LogEntry struct {
	LogID     [sct.LogIDSize]byte
	PublicKey crypto.PublicKey
	URL       string
	Trust     TrustStatus
}

// Trusted reports whether SCTs from this log should be fetched and served.
func (e *LogEntry) Trusted() bool {
	return e.Trust != Distrusted
}

// ErrUnknownLog means no configured log matched the SCT's log id. An
// unrecognized log is not necessarily malicious, just unverifiable, so this
// is tracked separately from a signature mismatch.
var ErrUnknownLog = errors.New("no configured log matches SCT log id")

// VerificationError is a signature mismatch against a known log's key.
type VerificationError struct {
	LogID [sct.LogIDSize]byte
	Err   error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("SCT signature invalid for log %s: %v",
		hex.EncodeToString(e.LogID[:8]), e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Registry is the immutable set of configured logs, looked up by exact
// log-id match. Construct once at startup and share.
type Registry struct {
	entries map[[sct.LogIDSize]byte]*LogEntry
	logger  zerolog.Logger
}

func NewRegistry(entries []*LogEntry, logger zerolog.Logger) *Registry {
	m := make(map[[sct.LogIDSize]byte]*LogEntry, len(entries))
	for _, e := range entries {
		m[e.LogID] = e
	}
	return &Registry{entries: m, logger: logger}
}

// Len returns the number of configured logs.
func (r *Registry) Len() int { return len(r.entries) }

// Lookup returns the entry for a log id, if configured.
func (r *Registry) Lookup(id [sct.LogIDSize]byte) (*LogEntry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// TrustedURLs returns the submission URLs of all logs not marked distrusted.
func (r *Registry) TrustedURLs() []string {
	var urls []string
	for _, e := range r.entries {
		if e.Trusted() && e.URL != "" {
			urls = append(urls, e.URL)
		}
	}
	return urls
}

// Verify checks s.Signature over signedInput against the matching log's
// public key. It returns nil on success, ErrUnknownLog when no entry matches
// (including when the registry is empty), and *VerificationError on mismatch.
func (r *Registry) Verify(s *sct.SCT, signedInput []byte) error {
	entry, ok := r.Lookup(s.LogID)
	if !ok {
		return ErrUnknownLog
	}

	if err := verifySignature(entry.PublicKey, s.SigAlg, signedInput, s.Signature); err != nil {
		r.logger.Debug().
			Str("log_id", hex.EncodeToString(s.LogID[:8])).
			Err(err).
			Msg("SCT signature verification failed")
		return &VerificationError{LogID: s.LogID, Err: err}
	}
	return nil
}

func verifySignature(pub crypto.PublicKey, sigAlg byte, input, signature []byte) error {
	digest := sha256.Sum256(input)

	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		if sigAlg != sct.SigAlgECDSA {
			return errors.Errorf("signature algorithm %d does not match ECDSA log key", sigAlg)
		}
		if !ecdsa.VerifyASN1(key, digest[:], signature) {
			return errors.New("ECDSA verification failed")
		}
		return nil
	case *rsa.PublicKey:
		if sigAlg != sct.SigAlgRSA {
			return errors.Errorf("signature algorithm %d does not match RSA log key", sigAlg)
		}
		return errors.Wrap(rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature),
			"RSA verification failed")
	default:
		return errors.Errorf("unsupported log key type %T", pub)
	}
}

// LogIDForKey derives a log id as the SHA-256 digest of the DER-encoded
// SubjectPublicKeyInfo, the same derivation CT logs use for their own ids.
func LogIDForKey(pub crypto.PublicKey) ([sct.LogIDSize]byte, error) {
	var id [sct.LogIDSize]byte
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return id, errors.Wrap(err, "encoding public key")
	}
	id = sha256.Sum256(der)
	return id, nil
}
