// Package audit appends framed (certificate chain, accepted SCTs) records to
// a per-process file for later offline verification. It is a best-effort
// sink: a write failure disables the writer for the rest of the process and
// never fails a connection.
package audit

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ctkeeper/ctkeeper/internal/certs"
)

// Record tags. Consumers resynchronize on these; there are no other
// separators in the stream.
const (
	TagServerStart uint16 = 1
	TagCertStart   uint16 = 2
	TagSCTStart    uint16 = 3
)

// maxElementSize is the largest payload a u16 length prefix can frame.
const maxElementSize = 1<<16 - 1

// Writer appends audit records to one file per process. Safe for concurrent
// use; the lock covers only the buffered write of one record.
type Writer struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	dir      string
	disabled bool
	records  int
	logger   zerolog.Logger
}

// NewWriter opens the active audit file for this process inside dir.
func NewWriter(dir string, logger zerolog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating audit dir %s", dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("audit_%d.tmp", os.Getpid()))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening audit file %s", path)
	}
	return &Writer{f: f, path: path, dir: dir, logger: logger}, nil
}

// Record appends one audit record: SERVER_START, then each certificate of
// the chain leaf first, then each accepted raw SCT. On any write error the
// writer closes its file and ignores all further records.
func (w *Writer) Record(chain *certs.Chain, scts [][]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.disabled {
		return
	}

	// Every element must fit its u16 length prefix; an oversized one would
	// corrupt the stream for all records after it, so the whole record is
	// skipped instead.
	for _, cert := range chain.Certs {
		if len(cert.Raw) > maxElementSize {
			w.logger.Warn().Str("fingerprint", chain.Fingerprint()).
				Int("bytes", len(cert.Raw)).
				Msg("certificate too large for audit framing, record skipped")
			return
		}
	}
	for _, raw := range scts {
		if len(raw) > maxElementSize {
			w.logger.Warn().Str("fingerprint", chain.Fingerprint()).
				Int("bytes", len(raw)).
				Msg("SCT too large for audit framing, record skipped")
			return
		}
	}

	buf := appendTag(nil, TagServerStart)
	for _, cert := range chain.Certs {
		buf = appendTag(buf, TagCertStart)
		buf = appendSized(buf, cert.Raw)
	}
	for _, raw := range scts {
		buf = appendTag(buf, TagSCTStart)
		buf = appendSized(buf, raw)
	}

	if _, err := w.f.Write(buf); err != nil {
		w.logger.Error().Err(err).Msg("audit write failed, disabling audit for this process")
		w.f.Close()
		w.disabled = true
		return
	}
	w.records++
	recordsWritten.Inc()
}

// Close finalizes the audit file: renamed to a permanent name when at least
// one record was written, deleted otherwise so consumers never see empty
// files.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.disabled {
		if err := w.f.Close(); err != nil {
			w.logger.Error().Err(err).Msg("closing audit file")
		}
		w.disabled = true
	}

	if w.records == 0 {
		if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrap(err, "removing empty audit file")
		}
		return nil
	}

	final := filepath.Join(w.dir, fmt.Sprintf("audit_%d_%d.out", os.Getpid(), time.Now().Unix()))
	if err := os.Rename(w.path, final); err != nil {
		return errors.Wrap(err, "renaming audit file")
	}
	w.logger.Info().Str("file", final).Int("records", w.records).Msg("audit file finalized")
	return nil
}

func appendTag(buf []byte, tag uint16) []byte {
	return binary.BigEndian.AppendUint16(buf, tag)
}

func appendSized(buf, data []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(data)))
	return append(buf, data...)
}
