// Package ctclient submits certificate chains to a CT log's add-chain
// endpoint and returns the log's SCT in raw TLS encoding.
package ctclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/cryptobyte"

	"github.com/ctkeeper/ctkeeper/internal/certs"
	"github.com/ctkeeper/ctkeeper/internal/sct"
)

const maxResponseSize = 1 << 20

type Client struct {
	baseURL    string
	httpClient *http.Client
	retries    int
}

func New(baseURL string, timeout time.Duration, retries int) *Client {
	if len(baseURL) > 0 && baseURL[len(baseURL)-1] != '/' {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retries: retries,
	}
}

type addChainRequest struct {
	Chain []string `json:"chain"`
}

// addChainResponse is the RFC 6962 §4.1 JSON body. The signature field is
// the base64 DigitallySigned struct: hash alg, sig alg, u16-prefixed
// signature bytes.
type addChainResponse struct {
	SCTVersion uint8  `json:"sct_version"`
	ID         string `json:"id"`
	Timestamp  uint64 `json:"timestamp"`
	Extensions string `json:"extensions"`
	Signature  string `json:"signature"`
}

// AddChain submits the chain, leaf first, and returns the raw TLS-encoded
// SCT the log issued for it.
func (c *Client) AddChain(ctx context.Context, chain *certs.Chain) ([]byte, error) {
	req := addChainRequest{}
	for _, cert := range chain.Certs {
		req.Chain = append(req.Chain, base64.StdEncoding.EncodeToString(cert.Raw))
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encoding add-chain request")
	}

	body, err := c.postWithRetry(ctx, c.baseURL+"ct/v1/add-chain", payload)
	if err != nil {
		return nil, errors.Wrap(err, "add-chain")
	}

	var resp addChainResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "parsing add-chain response")
	}
	return assembleSCT(&resp)
}

func (c *Client) postWithRetry(ctx context.Context, url string, payload []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		body, err := c.post(ctx, url, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}

	return nil, errors.Wrapf(lastErr, "all %d retries exhausted", c.retries)
}

func (c *Client) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sct-fetch")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

// assembleSCT rebuilds the wire form: the JSON response splits the SCT into
// fields but the DigitallySigned struct arrives intact, so the raw SCT is a
// straight reassembly. The result is parsed once to confirm the log sent a
// well-formed SCT.
func assembleSCT(resp *addChainResponse) ([]byte, error) {
	id, err := base64.StdEncoding.DecodeString(resp.ID)
	if err != nil {
		return nil, errors.Wrap(err, "decoding log id")
	}
	if len(id) != sct.LogIDSize {
		return nil, errors.Errorf("log id is %d bytes, want %d", len(id), sct.LogIDSize)
	}
	ext, err := base64.StdEncoding.DecodeString(resp.Extensions)
	if err != nil {
		return nil, errors.Wrap(err, "decoding extensions")
	}
	sig, err := base64.StdEncoding.DecodeString(resp.Signature)
	if err != nil {
		return nil, errors.Wrap(err, "decoding signature")
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(resp.SCTVersion)
	b.AddBytes(id)
	b.AddUint64(resp.Timestamp)
	b.AddUint16LengthPrefixed(func(c *cryptobyte.Builder) {
		c.AddBytes(ext)
	})
	b.AddBytes(sig)

	raw, err := b.Bytes()
	if err != nil {
		return nil, errors.Wrap(err, "assembling SCT")
	}
	if _, err := sct.Parse(raw); err != nil {
		return nil, errors.Wrap(err, "log returned a malformed SCT")
	}
	return raw, nil
}
