package validate

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ctkeeper/ctkeeper/internal/certs"
	"github.com/ctkeeper/ctkeeper/internal/cttrust"
	"github.com/ctkeeper/ctkeeper/internal/sct"
)

type fixture struct {
	key      *ecdsa.PrivateKey
	entry    *cttrust.LogEntry
	registry *cttrust.Registry
	chain    *certs.Chain
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating log key: %v", err)
	}
	id, err := cttrust.LogIDForKey(key.Public())
	if err != nil {
		t.Fatalf("LogIDForKey: %v", err)
	}
	entry := &cttrust.LogEntry{LogID: id, PublicKey: key.Public(), Trust: cttrust.Trusted}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating cert key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(11),
		Subject:      pkix.Name{CommonName: "validate.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, certKey.Public(), certKey)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}

	return &fixture{
		key:      key,
		entry:    entry,
		registry: cttrust.NewRegistry([]*cttrust.LogEntry{entry}, zerolog.Nop()),
		chain:    &certs.Chain{Certs: []*x509.Certificate{cert}},
	}
}

// signedRawSCT returns the TLS-encoded bytes of an SCT signed by the
// fixture's log over the fixture's leaf.
func (f *fixture) signedRawSCT(t *testing.T, timestamp uint64) []byte {
	t.Helper()

	s := &sct.SCT{
		LogID:     f.entry.LogID,
		Timestamp: timestamp,
		HashAlg:   sct.HashSHA256,
		SigAlg:    sct.SigAlgECDSA,
	}
	input, err := sct.SignedInput(s, f.chain.Leaf().Raw)
	if err != nil {
		t.Fatalf("SignedInput: %v", err)
	}
	digest := sha256.Sum256(input)
	sig, err := ecdsa.SignASN1(rand.Reader, f.key, digest[:])
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	s.Signature = sig

	raw, err := s.Bytes()
	if err != nil {
		t.Fatalf("encoding SCT: %v", err)
	}
	return raw
}

func framed(t *testing.T, scts ...[]byte) []byte {
	t.Helper()
	blob, err := sct.WriteFramed(scts)
	if err != nil {
		t.Fatalf("WriteFramed: %v", err)
	}
	return blob
}

func newTestValidator(t *testing.T, reg *cttrust.Registry) *Validator {
	t.Helper()
	cache, err := NewCache(16)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return NewValidator(reg, cache, nil, zerolog.Nop())
}

func pastMillis() uint64 {
	return uint64(time.Now().Add(-time.Hour).UnixMilli())
}

func TestValidatePass(t *testing.T) {
	f := newFixture(t)
	v := newTestValidator(t, f.registry)

	conn := NewConnState()
	conn.Receive(ChannelTLSExtension, framed(t, f.signedRawSCT(t, pastMillis())))

	res, err := v.Validate(conn, f.chain)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if res.Verdict != VerdictPass || res.Valid != 1 {
		t.Errorf("Validate() = %+v, want pass with 1 valid SCT", res)
	}
	if !conn.CTAware() {
		t.Error("peer delivering SCTs should be CT-aware")
	}
}

func TestValidateOneSuccessOutweighsFailures(t *testing.T) {
	f := newFixture(t)
	v := newTestValidator(t, f.registry)

	good := f.signedRawSCT(t, pastMillis())
	bad := f.signedRawSCT(t, pastMillis())
	bad[len(bad)-1] ^= 0x01 // corrupt the signature

	conn := NewConnState()
	conn.Receive(ChannelTLSExtension, framed(t, bad, good))

	res, err := v.Validate(conn, f.chain)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if res.Verdict != VerdictPass || res.Valid != 1 || res.Invalid != 1 {
		t.Errorf("Validate() = %+v, want pass with one valid and one invalid", res)
	}
}

func TestValidateFail(t *testing.T) {
	f := newFixture(t)
	v := newTestValidator(t, f.registry)

	bad := f.signedRawSCT(t, pastMillis())
	bad[len(bad)-1] ^= 0x01

	conn := NewConnState()
	conn.Receive(ChannelCertExtension, framed(t, bad))

	res, err := v.Validate(conn, f.chain)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if res.Verdict != VerdictFail {
		t.Errorf("verdict = %v, want fail", res.Verdict)
	}
}

func TestValidateFutureTimestampFails(t *testing.T) {
	f := newFixture(t)
	v := newTestValidator(t, f.registry)

	future := f.signedRawSCT(t, uint64(time.Now().Add(time.Hour).UnixMilli()))

	conn := NewConnState()
	conn.Receive(ChannelOCSPStaple, framed(t, future))

	res, err := v.Validate(conn, f.chain)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if res.Verdict != VerdictFail || res.Invalid != 1 {
		t.Errorf("Validate() = %+v, want fail on future timestamp", res)
	}
}

func TestValidateUnknownLogsOnly(t *testing.T) {
	f := newFixture(t)
	empty := cttrust.NewRegistry(nil, zerolog.Nop())
	v := newTestValidator(t, empty)

	conn := NewConnState()
	conn.Receive(ChannelTLSExtension, framed(t, f.signedRawSCT(t, pastMillis())))

	res, err := v.Validate(conn, f.chain)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if res.Verdict != VerdictUnknownOnly || res.Unknown != 1 {
		t.Errorf("Validate() = %+v, want unknown-logs-only", res)
	}
}

func TestValidateMissingSCT(t *testing.T) {
	f := newFixture(t)
	v := newTestValidator(t, f.registry)

	res, err := v.Validate(NewConnState(), f.chain)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if res.Verdict != VerdictMissing {
		t.Errorf("verdict = %v, want missing-sct", res.Verdict)
	}
}

func TestValidateUndecodableChannelIsHardFailure(t *testing.T) {
	f := newFixture(t)
	v := newTestValidator(t, f.registry)

	conn := NewConnState()
	conn.Receive(ChannelTLSExtension, []byte{0xFF, 0xFF, 0x01}) // bogus framing

	res, err := v.Validate(conn, f.chain)
	if err == nil {
		t.Fatal("Validate() with undecodable channel data should report an error")
	}
	if res.Verdict != VerdictFail {
		t.Errorf("verdict = %v, want fail", res.Verdict)
	}
}

func TestValidateCacheHit(t *testing.T) {
	f := newFixture(t)
	v := newTestValidator(t, f.registry)

	blob := framed(t, f.signedRawSCT(t, pastMillis()))

	first := NewConnState()
	first.Receive(ChannelTLSExtension, blob)
	res1, err := v.Validate(first, f.chain)
	if err != nil {
		t.Fatalf("first Validate() error: %v", err)
	}
	if res1.Cached {
		t.Fatal("first validation must not be a cache hit")
	}

	second := NewConnState()
	second.Receive(ChannelTLSExtension, blob)
	res2, err := v.Validate(second, f.chain)
	if err != nil {
		t.Fatalf("second Validate() error: %v", err)
	}
	if !res2.Cached {
		t.Fatal("second identical observation must hit the cache")
	}
	if res2.Verdict != res1.Verdict {
		t.Errorf("cached verdict %v differs from original %v", res2.Verdict, res1.Verdict)
	}
	if res2.Valid != 0 || res2.Invalid != 0 || res2.Unknown != 0 {
		t.Errorf("cache hit performed verification work: %+v", res2)
	}
}

func TestValidateTwice(t *testing.T) {
	f := newFixture(t)
	v := newTestValidator(t, f.registry)

	conn := NewConnState()
	conn.Receive(ChannelTLSExtension, framed(t, f.signedRawSCT(t, pastMillis())))
	if _, err := v.Validate(conn, f.chain); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if _, err := v.Validate(conn, f.chain); err == nil {
		t.Error("validating the same connection twice should error")
	}
}

func TestPutIfAbsentFirstWriterWins(t *testing.T) {
	cache, err := NewCache(16)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	key := cacheKey("fp", [][]byte{[]byte("blob")})

	got, first := cache.PutIfAbsent(key, VerdictPass)
	if !first || got != VerdictPass {
		t.Fatalf("first insert = (%v, %v), want (pass, true)", got, first)
	}

	got, first = cache.PutIfAbsent(key, VerdictFail)
	if first || got != VerdictPass {
		t.Errorf("racing insert = (%v, %v), want first writer's (pass, false)", got, first)
	}
}

func TestCacheKeyDistinguishesChannelSplits(t *testing.T) {
	a := cacheKey("fp", [][]byte{[]byte("ab"), []byte("c")})
	b := cacheKey("fp", [][]byte{[]byte("a"), []byte("bc")})
	if a == b {
		t.Error("cache key must distinguish how bytes are split across channels")
	}
}
