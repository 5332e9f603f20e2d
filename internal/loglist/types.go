package loglist

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ctkeeper/ctkeeper/internal/sct"
)

// CT log list v3 schema: https://www.gstatic.com/ct/log_list/v3/log_list_schema.json

type LogList struct {
	Version   string     `json:"version"`
	Operators []Operator `json:"operators"`
}

type Operator struct {
	Name  string   `json:"name"`
	Email []string `json:"email"`
	Logs  []Log    `json:"logs"`
}

type Log struct {
	Description      string            `json:"description"`
	LogID            string            `json:"log_id"`
	Key              string            `json:"key"`
	URL              string            `json:"url"`
	MMD              int               `json:"mmd"`
	State            LogState          `json:"state"`
	TemporalInterval *TemporalInterval `json:"temporal_interval,omitempty"`
}

type LogState struct {
	Usable    *StateInfo    `json:"usable,omitempty"`
	ReadOnly  *ReadOnlyInfo `json:"readonly,omitempty"`
	Retired   *StateInfo    `json:"retired,omitempty"`
	Qualified *StateInfo    `json:"qualified,omitempty"`
	Pending   *StateInfo    `json:"pending,omitempty"`
	Rejected  *StateInfo    `json:"rejected,omitempty"`
}

type StateInfo struct {
	Timestamp time.Time `json:"timestamp"`
}

type ReadOnlyInfo struct {
	Timestamp     time.Time `json:"timestamp"`
	FinalTreeSize int64     `json:"final_tree_size"`
}

type TemporalInterval struct {
	StartInclusive time.Time `json:"start_inclusive"`
	EndExclusive   time.Time `json:"end_exclusive"`
}

// Usable reports whether the log is accepting submissions.
func (l *Log) Usable() bool {
	return l.State.Usable != nil || l.State.Qualified != nil
}

// FullURL normalizes the log URL to an https:// prefix and trailing slash.
func (l *Log) FullURL() string {
	url := l.URL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	if len(url) > 0 && url[len(url)-1] != '/' {
		url += "/"
	}
	return url
}

// KeyDER decodes the log's base64 SubjectPublicKeyInfo.
func (l *Log) KeyDER() ([]byte, error) {
	der, err := base64.StdEncoding.DecodeString(l.Key)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding key of log %q", l.Description)
	}
	return der, nil
}

// LogIDBytes decodes the declared log id and cross-checks it against the
// SHA-256 digest of the key. A mismatch means the list entry is corrupt.
func (l *Log) LogIDBytes() ([sct.LogIDSize]byte, error) {
	var id [sct.LogIDSize]byte

	raw, err := base64.StdEncoding.DecodeString(l.LogID)
	if err != nil {
		return id, errors.Wrapf(err, "decoding log id of %q", l.Description)
	}
	if len(raw) != sct.LogIDSize {
		return id, errors.Errorf("log id of %q is %d bytes, want %d", l.Description, len(raw), sct.LogIDSize)
	}
	copy(id[:], raw)

	der, err := l.KeyDER()
	if err != nil {
		return id, err
	}
	if sha256.Sum256(der) != id {
		return id, errors.Errorf("log id of %q does not match its key digest", l.Description)
	}
	return id, nil
}
