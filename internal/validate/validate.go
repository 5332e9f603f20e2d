// Package validate aggregates the SCTs a TLS peer delivered over the three
// possible channels during one handshake and decides whether the connection
// carries at least one trustworthy attestation.
package validate

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ctkeeper/ctkeeper/internal/audit"
	"github.com/ctkeeper/ctkeeper/internal/certs"
	"github.com/ctkeeper/ctkeeper/internal/cttrust"
	"github.com/ctkeeper/ctkeeper/internal/sct"
)

// Channel identifies how an SCT list reached this side of the handshake.
type Channel int

const (
	ChannelCertExtension Channel = iota // embedded in the certificate
	ChannelTLSExtension                 // signed_certificate_timestamp extension
	ChannelOCSPStaple                   // embedded in the stapled OCSP response
	numChannels
)

func (c Channel) String() string {
	switch c {
	case ChannelCertExtension:
		return "certificate-extension"
	case ChannelTLSExtension:
		return "tls-extension"
	case ChannelOCSPStaple:
		return "ocsp-staple"
	default:
		return "unknown"
	}
}

// connPhase is the per-connection progression. Channels may fire in any
// order, or not at all; validation runs once, post-handshake.
type connPhase int

const (
	phaseIdle connPhase = iota
	phaseExtensionsReceived
	phaseValidated
)

// ConnState collects what one connection's handshake delivered.
type ConnState struct {
	phase    connPhase
	channels [numChannels][]byte
	ctAware  bool
}

func NewConnState() *ConnState {
	return &ConnState{}
}

// Receive records raw SCT-list bytes from one channel. Receiving data makes
// the peer CT-aware.
func (c *ConnState) Receive(ch Channel, data []byte) {
	if len(data) == 0 {
		return
	}
	c.channels[ch] = append([]byte{}, data...)
	c.ctAware = true
	c.phase = phaseExtensionsReceived
}

// MarkCTAware flags the peer as participating in the SCT exchange without
// delivering bytes; needed for resumed handshakes where the extension
// callbacks do not re-fire but a debug hook still observes the extension.
func (c *ConnState) MarkCTAware() {
	c.ctAware = true
}

// CTAware reports whether the peer participated via any channel.
func (c *ConnState) CTAware() bool {
	return c.ctAware
}

func (c *ConnState) hasData() bool {
	for _, b := range c.channels {
		if len(b) > 0 {
			return true
		}
	}
	return false
}

// Verdict is the validation outcome for one distinct observation.
type Verdict int

const (
	// VerdictMissing means no channel delivered any SCT.
	VerdictMissing Verdict = iota
	// VerdictPass means at least one SCT verified against a known log.
	VerdictPass
	// VerdictFail means verification failures with zero successes.
	VerdictFail
	// VerdictUnknownOnly means every SCT came from an unrecognized log:
	// provisionally accepted but flagged for the policy layer.
	VerdictUnknownOnly
)

func (v Verdict) String() string {
	switch v {
	case VerdictMissing:
		return "missing-sct"
	case VerdictPass:
		return "pass"
	case VerdictFail:
		return "fail"
	case VerdictUnknownOnly:
		return "unknown-logs-only"
	default:
		return "invalid"
	}
}

// Result reports a validation plus its tallies. Tallies are zero on a cache
// hit; the verdict is authoritative either way.
type Result struct {
	Verdict Verdict
	Cached  bool
	Valid   int
	Invalid int
	Unknown int
}

// Validator turns aggregated connection state into verdicts, memoizing per
// distinct (certificate, SCT-set) observation.
type Validator struct {
	registry *cttrust.Registry
	cache    *Cache
	auditor  *audit.Writer
	logger   zerolog.Logger
	now      func() time.Time
}

// NewValidator wires the validator. auditor may be nil to disable the audit
// trail.
func NewValidator(registry *cttrust.Registry, cache *Cache, auditor *audit.Writer, logger zerolog.Logger) *Validator {
	return &Validator{
		registry: registry,
		cache:    cache,
		auditor:  auditor,
		logger:   logger,
		now:      time.Now,
	}
}

// Validate runs once per connection after every channel has had its chance
// to fire. The chain is the peer's certificate chain, leaf first.
func (v *Validator) Validate(conn *ConnState, chain *certs.Chain) (Result, error) {
	if conn.phase == phaseValidated {
		return Result{}, errors.New("connection already validated")
	}
	conn.phase = phaseValidated

	if !conn.hasData() {
		verdicts.WithLabelValues(VerdictMissing.String()).Inc()
		return Result{Verdict: VerdictMissing}, nil
	}

	fp := chain.Fingerprint()
	key := cacheKey(fp, conn.channels[:])

	if verdict, ok := v.cache.Get(key); ok {
		verdicts.WithLabelValues(verdict.String()).Inc()
		return Result{Verdict: verdict, Cached: true}, nil
	}

	raws, err := v.decodeChannels(conn, fp)
	if err != nil {
		// Zero decodable SCTs despite non-empty channel data is an
		// internal-consistency failure, not a tolerable anomaly.
		verdict, _ := v.cache.PutIfAbsent(key, VerdictFail)
		verdicts.WithLabelValues(verdict.String()).Inc()
		return Result{Verdict: verdict}, err
	}

	res, accepted := v.verifyAll(raws, chain, fp)

	verdict, first := v.cache.PutIfAbsent(key, res.Verdict)
	res.Verdict = verdict

	if first && v.auditor != nil &&
		(verdict == VerdictPass || verdict == VerdictUnknownOnly) {
		v.auditor.Record(chain, accepted)
	}

	verdicts.WithLabelValues(verdict.String()).Inc()
	return res, nil
}

func (v *Validator) decodeChannels(conn *ConnState, fp string) ([][]byte, error) {
	var raws [][]byte
	for ch, blob := range conn.channels {
		if len(blob) == 0 {
			continue
		}
		entries, err := sct.ReadFramed(blob)
		if err != nil {
			v.logger.Warn().Str("fingerprint", fp).
				Stringer("channel", Channel(ch)).Err(err).
				Msg("undecodable SCT list")
			continue
		}
		raws = append(raws, entries...)
	}
	if len(raws) == 0 {
		return nil, errors.New("channels delivered data but no SCT could be decoded")
	}
	return raws, nil
}

// verifyAll parses and verifies each SCT, tallying outcomes. A single
// verified SCT passes the connection; failures without a single success fail
// it; all-unknown is flagged for the policy layer. accepted holds the raw
// SCTs worth auditing: everything that parsed, is not from the future, and
// did not fail verification outright.
func (v *Validator) verifyAll(raws [][]byte, chain *certs.Chain, fp string) (Result, [][]byte) {
	var res Result
	var accepted [][]byte
	now := v.now()
	leafDER := chain.Leaf().Raw

	for _, raw := range raws {
		parsed, err := sct.Parse(raw)
		if err != nil {
			v.logger.Warn().Str("fingerprint", fp).Err(err).Msg("rejecting malformed SCT")
			res.Invalid++
			continue
		}
		if parsed.InFuture(now) {
			v.logger.Warn().Str("fingerprint", fp).Time("sct_time", parsed.Time()).
				Msg("rejecting SCT with future timestamp")
			res.Invalid++
			continue
		}

		input, err := sct.SignedInput(parsed, leafDER)
		if err != nil {
			res.Invalid++
			continue
		}

		switch err := v.registry.Verify(parsed, input); {
		case err == nil:
			res.Valid++
			accepted = append(accepted, raw)
		case errors.Is(err, cttrust.ErrUnknownLog):
			res.Unknown++
			accepted = append(accepted, raw)
		default:
			v.logger.Warn().Str("fingerprint", fp).Err(err).Msg("SCT failed verification")
			res.Invalid++
		}
	}

	switch {
	case res.Valid > 0:
		res.Verdict = VerdictPass
	case res.Invalid > 0:
		res.Verdict = VerdictFail
	default:
		res.Verdict = VerdictUnknownOnly
	}
	return res, accepted
}
