// Package store maintains the on-disk SCT state: one directory per
// certificate fingerprint holding the certificate chain, the trusted-log
// record, per-log SCT files and the collated blob served during handshakes.
package store

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ctkeeper/ctkeeper/internal/certs"
	"github.com/ctkeeper/ctkeeper/internal/sct"
)

const (
	chainFileName    = "servercerts.pem"
	logsFileName     = "logs"
	collatedFileName = "collated"
	lockFileName     = ".collated.lock"

	sctSuffix = ".sct"

	// autoPrefix marks SCT files this engine fetched itself. Files without
	// the prefix are admin-supplied and survive every refresh.
	autoPrefix = "AUTO_"
)

// Store owns the SCT directory tree rooted at one configured directory.
type Store struct {
	root    string
	fetcher Fetcher
	maxAge  time.Duration
	lock    *fileLock
	logger  zerolog.Logger
}

func New(root string, fetcher Fetcher, maxAge time.Duration, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, storageErr("mkdir", root, err)
	}
	return &Store{
		root:    root,
		fetcher: fetcher,
		maxAge:  maxAge,
		lock:    newFileLock(filepath.Join(root, lockFileName)),
		logger:  logger,
	}, nil
}

func (s *Store) certDir(fp string) string {
	return filepath.Join(s.root, fp)
}

// AddCertificate creates the fingerprint directory for a chain and writes
// the PEM bundle once. Called at server certificate load time.
func (s *Store) AddCertificate(chain *certs.Chain) (string, error) {
	fp := chain.Fingerprint()
	dir := s.certDir(fp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", storageErr("mkdir", dir, err)
	}

	chainPath := filepath.Join(dir, chainFileName)
	if _, err := os.Stat(chainPath); err == nil {
		return fp, nil
	}
	if err := certs.WriteChainFile(chainPath, chain); err != nil {
		return "", storageErr("write", chainPath, err)
	}
	s.logger.Info().Str("fingerprint", fp).Msg("registered certificate")
	return fp, nil
}

// Fingerprints lists every certificate directory currently in the store.
func (s *Store) Fingerprints() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, storageErr("readdir", s.root, err)
	}
	var fps []string
	for _, e := range entries {
		if e.IsDir() {
			fps = append(fps, e.Name())
		}
	}
	sort.Strings(fps)
	return fps, nil
}

// urlSanitizer maps the characters that cannot appear in filenames.
var urlSanitizer = strings.NewReplacer(
	":", "-", "/", "-", "\\", "-", "*", "-",
	"?", "-", "<", "-", ">", "-", "\"", "-", "|", "-",
)

// AutoSCTName derives the per-log SCT filename for a log URL:
// AUTO_<host>_<port>_<path>.sct with unsafe characters replaced.
func AutoSCTName(logURL string) (string, error) {
	u, err := url.Parse(logURL)
	if err != nil {
		return "", errors.Wrapf(err, "parsing log URL %q", logURL)
	}
	port := u.Port()
	if port == "" {
		if u.Scheme == "http" {
			port = "80"
		} else {
			port = "443"
		}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return autoPrefix + urlSanitizer.Replace(u.Hostname()) + "_" + port + "_" +
		urlSanitizer.Replace(path) + sctSuffix, nil
}

// Refresh runs the full refresh pass for one certificate: diff the trusted
// log set against the last recorded one, drop SCT files of removed logs,
// fetch missing or stale SCTs, and collate everything valid into a fresh
// blob. An error aborts this certificate only.
func (s *Store) Refresh(ctx context.Context, fp string, trustedURLs []string) error {
	dir := s.certDir(fp)
	if _, err := os.Stat(dir); err != nil {
		return storageErr("stat", dir, err)
	}

	logger := s.logger.With().Str("fingerprint", fp).Logger()

	if err := s.diffLogSet(dir, trustedURLs, logger); err != nil {
		return err
	}

	certFile := filepath.Join(dir, chainFileName)
	for _, u := range trustedURLs {
		if err := s.fetchIfStale(ctx, dir, certFile, u, logger); err != nil {
			refreshPasses.WithLabelValues("fetch_error").Inc()
			return err
		}
	}

	if err := s.collate(dir, logger); err != nil {
		refreshPasses.WithLabelValues("error").Inc()
		return err
	}
	refreshPasses.WithLabelValues("ok").Inc()
	return nil
}

// diffLogSet reconciles on-disk AUTO SCT files with the configured log set
// and persists the new set. With no previous record every AUTO file is
// removed: nothing is trusted until proven.
func (s *Store) diffLogSet(dir string, trustedURLs []string, logger zerolog.Logger) error {
	logsPath := filepath.Join(dir, logsFileName)

	prev, err := readLogList(logsPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.removeAutoFiles(dir, logger); err != nil {
			return err
		}
	case err != nil:
		return storageErr("read", logsPath, err)
	default:
		current := make(map[string]bool, len(trustedURLs))
		for _, u := range trustedURLs {
			current[u] = true
		}
		for _, old := range prev {
			if current[old] {
				continue
			}
			name, err := AutoSCTName(old)
			if err != nil {
				logger.Warn().Str("log_url", old).Err(err).Msg("cannot derive SCT filename for removed log")
				continue
			}
			p := filepath.Join(dir, name)
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				return storageErr("remove", p, err)
			}
			logger.Info().Str("log_url", old).Msg("removed SCT of no-longer-trusted log")
		}
	}

	if err := writeLogList(logsPath, trustedURLs); err != nil {
		return storageErr("write", logsPath, err)
	}
	return nil
}

func (s *Store) removeAutoFiles(dir string, logger zerolog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return storageErr("readdir", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, autoPrefix) || !strings.HasSuffix(name, sctSuffix) {
			continue
		}
		p := filepath.Join(dir, name)
		if err := os.Remove(p); err != nil {
			return storageErr("remove", p, err)
		}
		logger.Info().Str("file", name).Msg("removed auto-fetched SCT: no trusted-log record")
	}
	return nil
}

func (s *Store) fetchIfStale(ctx context.Context, dir, certFile, logURL string, logger zerolog.Logger) error {
	name, err := AutoSCTName(logURL)
	if err != nil {
		return &FetchError{LogURL: logURL, Err: err}
	}
	p := filepath.Join(dir, name)

	if fi, err := os.Stat(p); err == nil && time.Since(fi.ModTime()) < s.maxAge {
		return nil
	}

	tmp := p + ".tmp"
	if err := s.fetcher.Fetch(ctx, logURL, certFile, tmp); err != nil {
		os.Remove(tmp)
		fetchFailures.Inc()
		logger.Error().Str("log_url", logURL).Err(err).Msg("SCT fetch failed, keeping prior file")
		return &FetchError{LogURL: logURL, Err: err}
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return storageErr("rename", p, err)
	}
	logger.Info().Str("log_url", logURL).Str("file", name).Msg("fetched fresh SCT")
	return nil
}

// collate reads every .sct file in the directory, drops SCTs with a future
// timestamp, and atomically replaces the collated blob. The blob is
// rewritten even when nothing changed so its mtime doubles as a liveness
// signal for the pipeline.
func (s *Store) collate(dir string, logger zerolog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return storageErr("readdir", dir, err)
	}

	now := time.Now()
	var valid [][]byte
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, sctSuffix) {
			continue
		}
		p := filepath.Join(dir, name)
		raw, err := os.ReadFile(p)
		if err != nil {
			return storageErr("read", p, err)
		}
		parsed, err := sct.Parse(raw)
		if err != nil {
			logger.Warn().Str("file", name).Err(err).Msg("skipping unparseable SCT file")
			continue
		}
		if parsed.InFuture(now) {
			logger.Warn().Str("file", name).Time("sct_time", parsed.Time()).
				Msg("skipping SCT with future timestamp")
			continue
		}
		valid = append(valid, raw)
	}

	blob, err := sct.WriteFramed(valid)
	if err != nil {
		return errors.Wrap(err, "collating SCTs")
	}

	collatedPath := filepath.Join(dir, collatedFileName)
	tmp := collatedPath + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return storageErr("write", tmp, err)
	}

	// Swap under the cross-process lock so concurrent readers never see a
	// partially written blob.
	err = s.lock.Exclusive(func() error {
		if err := os.Remove(collatedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return storageErr("remove", collatedPath, err)
		}
		if err := os.Rename(tmp, collatedPath); err != nil {
			return storageErr("rename", collatedPath, err)
		}
		return nil
	})
	if err != nil {
		os.Remove(tmp)
		return err
	}

	collatedSCTs.Set(float64(len(valid)))
	logger.Debug().Int("scts", len(valid)).Msg("collated blob rebuilt")
	return nil
}

// Collated returns the wire-ready SCT list for a fingerprint, read under the
// shared cross-process lock. A missing blob reports os.ErrNotExist.
func (s *Store) Collated(fp string) ([]byte, error) {
	var blob []byte
	p := filepath.Join(s.certDir(fp), collatedFileName)
	err := s.lock.Shared(func() error {
		var err error
		blob, err = os.ReadFile(p)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reading collated blob for %s", fp)
	}
	return blob, nil
}

// RefreshAll refreshes every certificate in the store with a bounded worker
// pool. Per-certificate failures are isolated and reported together; one
// broken certificate never stalls the others.
func (s *Store) RefreshAll(ctx context.Context, trustedURLs []string, workers int) []error {
	fps, err := s.Fingerprints()
	if err != nil {
		return []error{err}
	}

	var mu sync.Mutex
	var errs []error

	wp := workerpool.New(workers)
	for _, fp := range fps {
		fp := fp
		wp.Submit(func() {
			if err := s.Refresh(ctx, fp, trustedURLs); err != nil {
				s.logger.Error().Str("fingerprint", fp).Err(err).Msg("refresh failed")
				mu.Lock()
				errs = append(errs, errors.Wrapf(err, "certificate %s", fp))
				mu.Unlock()
			}
		})
	}
	wp.StopWait()
	return errs
}

func readLogList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			urls = append(urls, line)
		}
	}
	return urls, nil
}

func writeLogList(path string, urls []string) error {
	var b strings.Builder
	for _, u := range urls {
		b.WriteString(u)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
