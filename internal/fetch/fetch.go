// Package fetch downloads remote plugin archives over HTTP.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	slogcontext "github.com/veqryn/slog-context"
	"ocm.software/open-component-model/bindings/go/blob"
	"ocm.software/open-component-model/bindings/go/blob/direct"

	"ocm.software/open-component-model/pluginhub/internal/failure"
)

// DefaultTimeout bounds a download when none is configured.
const DefaultTimeout = 30 * time.Second

const userAgent = "pluginhub"

// Options configure a Fetcher.
type Options struct {
	// Timeout bounds the whole download, body included.
	Timeout time.Duration
	// Client overrides the HTTP client. Its Timeout is left as is.
	Client *http.Client
}

// Fetcher performs HTTP GETs of http and https URIs.
type Fetcher struct {
	client *http.Client
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: &userAgentTransport{base: http.DefaultTransport, userAgent: userAgent},
		}
	}
	return &Fetcher{client: client}
}

// userAgentTransport wraps an http.RoundTripper and injects a User-Agent header.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// Fetch starts a download of uri. The returned blob streams the response body and can
// be read once; closing its reader closes the response.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (blob.ReadOnlyBlob, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, failure.InvalidInput("invalid uri %q: %v", uri, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, failure.InvalidInput("unsupported uri scheme %q, only http and https are allowed", u.Scheme)
	}
	if u.Host == "" {
		return nil, failure.InvalidInput("uri %q has no host", uri)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, failure.Fetch(uri, err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, failure.Fetch(uri, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, failure.Fetch(uri, fmt.Errorf("unexpected status %s", resp.Status))
	}

	slogcontext.FromCtx(ctx).DebugContext(ctx, "fetched remote content",
		"uri", uri, "status", resp.StatusCode, "contentLength", resp.ContentLength, "elapsed", time.Since(start))
	return direct.NewFromHTTPResponse(resp), nil
}
