// Package forward sends packed observations to the collector's ingest
// endpoint on a best-effort basis: it never retries and never blocks its
// caller past its own request timeout.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds how long one forward attempt may take before
// it's abandoned; the extraction loop must never stall waiting on the
// collector.
const DefaultTimeout = 2 * time.Second

// Forwarder posts packed observation blobs to one collector endpoint.
type Forwarder struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// New returns a Forwarder posting to url (typically the collector's
// /exp/store endpoint).
func New(url string, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{
		url:    url,
		client: &http.Client{Timeout: DefaultTimeout},
		log:    log,
	}
}

// Send posts blob and logs (but does not return) any failure: a non-202
// response or a transport error. Intended to be called via `go`, fire
// and forget, from the extraction loop.
func (f *Forwarder) Send(blob []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(blob))
	if err != nil {
		f.log.Warn("forward: build request failed", "error", err)
		return
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("forward: send failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		f.log.Warn("forward: surprising response", "status", resp.StatusCode)
		return
	}
}

// Endpoint builds the conventional /exp/store URL for a collector
// listening at baseURL (e.g. "http://localhost:9429").
func Endpoint(baseURL string) string {
	return fmt.Sprintf("%s/exp/store", baseURL)
}
