package cttrust

import (
	"crypto"
	"crypto/x509"
	"database/sql"
	"encoding/base64"
	"encoding/pem"
	"os"
	"strings"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// ParsePublicKeyPEM decodes a PEM "PUBLIC KEY" block into a key usable as a
// log verification key.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parsing public key")
	}
	return pub, nil
}

// EntryFromPEMFile builds a LogEntry from a public key file, deriving the
// log id from the key.
func EntryFromPEMFile(path, url string, trust TrustStatus) (*LogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading log public key %s", path)
	}
	pub, err := ParsePublicKeyPEM(data)
	if err != nil {
		return nil, errors.Wrapf(err, "log public key %s", path)
	}
	id, err := LogIDForKey(pub)
	if err != nil {
		return nil, err
	}
	return &LogEntry{LogID: id, PublicKey: pub, URL: url, Trust: trust}, nil
}

// EntryFromDERKey builds a LogEntry from a base64 DER SubjectPublicKeyInfo,
// the encoding the public CT log list uses.
func EntryFromDERKey(keyB64, url string, trust TrustStatus) (*LogEntry, error) {
	der, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, errors.Wrap(err, "decoding base64 log key")
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "parsing log key")
	}
	id, err := LogIDForKey(pub)
	if err != nil {
		return nil, err
	}
	return &LogEntry{LogID: id, PublicKey: pub, URL: url, Trust: trust}, nil
}

func trustFromAuditStatus(status string) (TrustStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "":
		return TrustUnset, nil
	case "T":
		return Trusted, nil
	case "F":
		return Distrusted, nil
	default:
		return TrustUnset, errors.Errorf("audit status %q not valid", status)
	}
}

// LoadDB reads log entries from a SQLite log-configuration database. The
// loginfo table carries one row per log: a record id, a public key PEM file
// path, an audit status ('T' trusted, 'F' distrusted, NULL unset) and the
// log's submission URL. Key file paths are resolved relative to the caller's
// working directory.
func LoadDB(path string) ([]*LogEntry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening log config db %s", path)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, public_key, audit_status, url FROM loginfo`)
	if err != nil {
		return nil, errors.Wrapf(err, "reading loginfo from %s", path)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var id int64
		var keyFile, auditStatus, url sql.NullString
		if err := rows.Scan(&id, &keyFile, &auditStatus, &url); err != nil {
			return nil, errors.Wrap(err, "scanning loginfo row")
		}

		trust, err := trustFromAuditStatus(auditStatus.String)
		if err != nil {
			return nil, errors.Wrapf(err, "loginfo record %d", id)
		}
		if !keyFile.Valid || keyFile.String == "" {
			return nil, errors.Errorf("loginfo record %d has no public key file", id)
		}

		entry, err := EntryFromPEMFile(keyFile.String, url.String, trust)
		if err != nil {
			return nil, errors.Wrapf(err, "loginfo record %d", id)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating loginfo rows")
	}
	return entries, nil
}
