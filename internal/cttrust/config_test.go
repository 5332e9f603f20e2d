package cttrust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func writeKeyPEM(t *testing.T, dir, name string) (string, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}
	path := filepath.Join(dir, name)
	data := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}
	return path, key
}

func TestEntryFromPEMFile(t *testing.T) {
	dir := t.TempDir()
	path, key := writeKeyPEM(t, dir, "log.pem")

	entry, err := EntryFromPEMFile(path, "https://log.test/", TrustUnset)
	if err != nil {
		t.Fatalf("EntryFromPEMFile() error: %v", err)
	}

	wantID, err := LogIDForKey(key.Public())
	if err != nil {
		t.Fatalf("LogIDForKey: %v", err)
	}
	if entry.LogID != wantID {
		t.Errorf("LogID = %x, want %x", entry.LogID, wantID)
	}
	if !entry.Trusted() {
		t.Error("entry with unset status should default to trusted")
	}
}

func TestLoadDB(t *testing.T) {
	dir := t.TempDir()
	keyA, _ := writeKeyPEM(t, dir, "a.pem")
	keyB, _ := writeKeyPEM(t, dir, "b.pem")

	dbPath := filepath.Join(dir, "logconfig.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE loginfo (
		id INTEGER PRIMARY KEY,
		public_key TEXT,
		audit_status TEXT,
		url TEXT
	)`); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO loginfo (public_key, audit_status, url) VALUES
		(?, NULL, 'https://a.test/'),
		(?, 'F', 'https://b.test/')`, keyA, keyB); err != nil {
		t.Fatalf("inserting rows: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("closing db: %v", err)
	}

	entries, err := LoadDB(dbPath)
	if err != nil {
		t.Fatalf("LoadDB() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("LoadDB() returned %d entries, want 2", len(entries))
	}
	if entries[0].Trust != TrustUnset || !entries[0].Trusted() {
		t.Errorf("first entry trust = %v, want unset (trusted)", entries[0].Trust)
	}
	if entries[1].Trust != Distrusted || entries[1].Trusted() {
		t.Errorf("second entry trust = %v, want distrusted", entries[1].Trust)
	}
	if entries[0].URL != "https://a.test/" {
		t.Errorf("first entry URL = %q", entries[0].URL)
	}
}

func TestTrustFromAuditStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    TrustStatus
		wantErr bool
	}{
		{"", TrustUnset, false},
		{"T", Trusted, false},
		{"t", Trusted, false},
		{"F", Distrusted, false},
		{" f ", Distrusted, false},
		{"maybe", TrustUnset, true},
	}

	for _, tt := range tests {
		got, err := trustFromAuditStatus(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("trustFromAuditStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("trustFromAuditStatus(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
