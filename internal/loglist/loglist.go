// Package loglist resolves operator-configured log URLs against the public
// CT log list, yielding the (log id, public key) pairs the trust registry
// verifies SCT signatures with. It never discovers logs on its own: only
// logs the operator named are resolved.
package loglist

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/ctkeeper/ctkeeper/internal/cttrust"
)

const DefaultLogListURL = "https://www.gstatic.com/ct/log_list/v3/log_list.json"

const maxLogListSize = 4 << 20

type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch downloads and decodes a log list from a URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*LogList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("User-Agent", "ctkeeper")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching log list")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLogListSize))
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}
	return decode(body)
}

// ReadFile decodes a log list from a local file, for deployments that pin a
// vetted copy instead of fetching over the network.
func ReadFile(path string) (*LogList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading log list %s", path)
	}
	return decode(data)
}

func decode(data []byte) (*LogList, error) {
	var list LogList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errors.Wrap(err, "parsing log list JSON")
	}
	return &list, nil
}

// Resolve maps configured log URLs to trust registry entries using the log
// list's key material. URLs are matched after normalization. Unresolved URLs
// are returned separately so the caller can decide whether they are fatal.
func Resolve(list *LogList, urls []string) (entries []*cttrust.LogEntry, unresolved []string, err error) {
	byURL := make(map[string]*Log)
	for i := range list.Operators {
		op := &list.Operators[i]
		for j := range op.Logs {
			l := &op.Logs[j]
			byURL[l.FullURL()] = l
		}
	}

	for _, u := range urls {
		l, ok := byURL[normalizeURL(u)]
		if !ok {
			unresolved = append(unresolved, u)
			continue
		}
		if _, err := l.LogIDBytes(); err != nil {
			return nil, nil, err
		}
		// A retired or rejected log still verifies old SCTs, but no new
		// submissions go to it.
		trust := cttrust.TrustUnset
		if !l.Usable() {
			trust = cttrust.Distrusted
		}
		entry, err := cttrust.EntryFromDERKey(l.Key, l.FullURL(), trust)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "log %q", l.Description)
		}
		entries = append(entries, entry)
	}
	return entries, unresolved, nil
}

func normalizeURL(u string) string {
	return (&Log{URL: u}).FullURL()
}
