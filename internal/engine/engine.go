// Package engine assembles the SCT lifecycle components behind the two
// surfaces a TLS host cares about: a background refresher that keeps
// collated SCT blobs fresh on disk, and per-connection hooks that collect
// and validate the peer's SCTs.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ctkeeper/ctkeeper/internal/audit"
	"github.com/ctkeeper/ctkeeper/internal/certs"
	"github.com/ctkeeper/ctkeeper/internal/config"
	"github.com/ctkeeper/ctkeeper/internal/cttrust"
	"github.com/ctkeeper/ctkeeper/internal/loglist"
	"github.com/ctkeeper/ctkeeper/internal/store"
	"github.com/ctkeeper/ctkeeper/internal/validate"
)

type Engine struct {
	cfg       *config.Config
	registry  *cttrust.Registry
	store     *store.Store
	validator *validate.Validator
	auditor   *audit.Writer
	logger    zerolog.Logger

	// fetchURLs is the trusted log URL set used for every refresh pass,
	// fixed at startup.
	fetchURLs []string
}

// New builds an engine from a validated configuration. Log trust sources
// (static entries, the loginfo database, the public log list) are resolved
// here once; any failure is fatal.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Engine, error) {
	entries, err := loadLogEntries(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	registry := cttrust.NewRegistry(entries, logger)
	logger.Info().Int("logs", registry.Len()).
		Int("fetch_urls", len(registry.TrustedURLs())).
		Msg("log trust configured")

	st, err := store.New(cfg.StorageDir, &store.CommandFetcher{Command: cfg.FetchCommand}, cfg.MaxSCTAge.Std(), logger)
	if err != nil {
		return nil, err
	}

	var auditor *audit.Writer
	if cfg.AuditDir != "" && cfg.Enforcement != config.EnforceOff {
		auditor, err = audit.NewWriter(cfg.AuditDir, logger)
		if err != nil {
			return nil, err
		}
	}

	cache, err := validate.NewCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		registry:  registry,
		store:     st,
		validator: validate.NewValidator(registry, cache, auditor, logger),
		auditor:   auditor,
		logger:    logger,
		fetchURLs: registry.TrustedURLs(),
	}, nil
}

func loadLogEntries(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]*cttrust.LogEntry, error) {
	var entries []*cttrust.LogEntry

	for _, sl := range cfg.StaticLogs {
		trust := cttrust.Trusted
		if sl.Distrusted {
			trust = cttrust.Distrusted
		}
		var (
			entry *cttrust.LogEntry
			err   error
		)
		if sl.KeyFile != "" {
			entry, err = cttrust.EntryFromPEMFile(sl.KeyFile, sl.URL, trust)
		} else {
			entry, err = cttrust.EntryFromDERKey(sl.PublicKey, sl.URL, trust)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "static log %s", sl.URL)
		}
		entries = append(entries, entry)
	}

	if cfg.LogConfigDB != "" {
		dbEntries, err := cttrust.LoadDB(cfg.LogConfigDB)
		if err != nil {
			return nil, errors.Wrap(err, "loading log config database")
		}
		entries = append(entries, dbEntries...)
	}

	if len(cfg.LogURLs) > 0 {
		list, err := fetchLogList(ctx, cfg)
		if err != nil {
			return nil, err
		}
		resolved, unresolved, err := loglist.Resolve(list, cfg.LogURLs)
		if err != nil {
			return nil, errors.Wrap(err, "resolving configured log URLs")
		}
		if len(unresolved) > 0 {
			return nil, errors.Errorf("configured log URLs not present in the log list: %v", unresolved)
		}
		entries = append(entries, resolved...)
	}

	if len(entries) == 0 {
		logger.Warn().Msg("no log trust configured; every SCT will verify as unknown")
	}
	return entries, nil
}

func fetchLogList(ctx context.Context, cfg *config.Config) (*loglist.LogList, error) {
	if cfg.LogListFile != "" {
		return loglist.ReadFile(cfg.LogListFile)
	}
	url := cfg.LogListURL
	if url == "" {
		url = loglist.DefaultLogListURL
	}
	return loglist.NewFetcher(30 * time.Second).Fetch(ctx, url)
}

// AddCertificate registers a server certificate chain with the store and
// returns its fingerprint.
func (e *Engine) AddCertificate(chain *certs.Chain) (string, error) {
	return e.store.AddCertificate(chain)
}

// RefreshOnce runs a single refresh pass over every stored certificate.
// Per-certificate failures are logged and do not stop the pass.
func (e *Engine) RefreshOnce(ctx context.Context) []error {
	errs := e.store.RefreshAll(ctx, e.fetchURLs, e.cfg.Workers)
	for _, err := range errs {
		e.logger.Error().Err(err).Msg("certificate refresh failed")
	}
	return errs
}

// Run performs an initial refresh pass and then keeps refreshing on the
// configured interval until the context is cancelled. A first pass that
// fails and leaves no collated SCTs at all is fatal: a server that cannot
// offer any SCT should not start.
func (e *Engine) Run(ctx context.Context) error {
	if errs := e.RefreshOnce(ctx); len(errs) > 0 && !e.anyCollated() {
		return errors.Errorf("initial refresh failed with no collated SCTs available (%d errors, first: %v)", len(errs), errs[0])
	}

	ticker := time.NewTicker(e.cfg.RefreshInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.RefreshOnce(ctx)
		}
	}
}

func (e *Engine) anyCollated() bool {
	fps, err := e.store.Fingerprints()
	if err != nil {
		return false
	}
	for _, fp := range fps {
		if blob, err := e.store.Collated(fp); err == nil && len(blob) > 0 {
			return true
		}
	}
	return false
}

// Close flushes and finalizes the audit trail. Call once at shutdown, after
// Run has returned.
func (e *Engine) Close() error {
	if e.auditor == nil {
		return nil
	}
	return e.auditor.Close()
}
