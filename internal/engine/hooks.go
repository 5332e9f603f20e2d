package engine

import (
	"github.com/ctkeeper/ctkeeper/internal/certs"
	"github.com/ctkeeper/ctkeeper/internal/config"
	"github.com/ctkeeper/ctkeeper/internal/sct"
	"github.com/ctkeeper/ctkeeper/internal/validate"
)

// TLSExtensionType is the extension code point the host registers its
// callbacks under: ServerExtension bytes go out in this extension, and
// OnPeerExtension receives what the peer sent in it
// (signed_certificate_timestamp, RFC 6962 §3.3.1).
const TLSExtensionType = sct.ExtensionType

// Decision is the engine's ruling on a finished handshake.
type Decision struct {
	Allow  bool
	Result validate.Result
}

// Peer-awareness status strings, mirroring what a fronting server would
// expose as a connection variable.
const (
	PeerAware   = "peer-aware"
	PeerUnaware = "peer-unaware"
)

// NewConnState returns the per-connection SCT accumulator a TLS host feeds
// from its handshake callbacks.
func (e *Engine) NewConnState() *validate.ConnState {
	return validate.NewConnState()
}

// ServerExtension returns the collated SCT blob to send in the ServerHello
// for the certificate with the given fingerprint. The bytes are already in
// TLS SCT-list framing.
func (e *Engine) ServerExtension(fp string) ([]byte, error) {
	return e.store.Collated(fp)
}

// OnPeerExtension records the SCT list a client-side handshake received in
// the peer's signed_certificate_timestamp extension.
func (e *Engine) OnPeerExtension(conn *validate.ConnState, data []byte) {
	conn.Receive(validate.ChannelTLSExtension, data)
}

// OnCertificate extracts the embedded SCT list, if any, from the peer's leaf
// certificate.
func (e *Engine) OnCertificate(conn *validate.ConnState, chain *certs.Chain) error {
	list, err := certs.EmbeddedSCTList(chain.Leaf())
	if err != nil {
		return err
	}
	if list != nil {
		conn.Receive(validate.ChannelCertExtension, list)
	}
	return nil
}

// OnOCSPStaple extracts the SCT list, if any, from a stapled DER OCSP
// response.
func (e *Engine) OnOCSPStaple(conn *validate.ConnState, raw []byte) error {
	list, err := certs.StapledSCTList(raw)
	if err != nil {
		return err
	}
	if list != nil {
		conn.Receive(validate.ChannelOCSPStaple, list)
	}
	return nil
}

// OnHandshakeDone validates everything the connection collected and applies
// the configured enforcement mode. In collect mode a failing connection is
// logged and allowed; in require mode missing or failing SCTs refuse the
// connection.
func (e *Engine) OnHandshakeDone(conn *validate.ConnState, chain *certs.Chain) (Decision, error) {
	if e.cfg.Enforcement == config.EnforceOff {
		return Decision{Allow: true}, nil
	}

	res, err := e.validator.Validate(conn, chain)
	if err != nil {
		e.logger.Error().Str("fingerprint", chain.Fingerprint()).Err(err).
			Msg("SCT validation error")
		if e.cfg.Enforcement == config.EnforceRequire {
			return Decision{Result: res}, err
		}
		return Decision{Allow: true, Result: res}, nil
	}

	allow := true
	if e.cfg.Enforcement == config.EnforceRequire {
		switch res.Verdict {
		case validate.VerdictMissing, validate.VerdictFail:
			allow = false
		}
	}

	evt := e.logger.Info()
	if !allow {
		evt = e.logger.Warn()
	}
	evt.Str("fingerprint", chain.Fingerprint()).
		Stringer("verdict", res.Verdict).
		Bool("cached", res.Cached).
		Str("peer", PeerStatus(conn)).
		Msg("SCT validation")

	return Decision{Allow: allow, Result: res}, nil
}

// PeerStatus reports whether the peer showed any CT awareness during the
// handshake.
func PeerStatus(conn *validate.ConnState) string {
	if conn.CTAware() {
		return PeerAware
	}
	return PeerUnaware
}
