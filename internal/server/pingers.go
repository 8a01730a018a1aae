package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// funcPinger adapts a Ping method value to the Pinger interface.
type funcPinger struct {
	name string
	ping func(ctx context.Context) error
}

// NewPinger wraps ping under the given name. *backend.Client.Ping and
// *rag.QdrantStore.Ping fit directly.
func NewPinger(name string, ping func(ctx context.Context) error) Pinger {
	return &funcPinger{name: name, ping: ping}
}

// Name returns the dependency label used in readiness responses.
func (p *funcPinger) Name() string { return p.name }

// Ping runs the wrapped probe.
func (p *funcPinger) Ping(ctx context.Context) error {
	if err := p.ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// HTTPPinger probes a model backend with a zero-cost GET (a model listing
// endpoint) instead of a generate call, so readiness checks burn no tokens.
type HTTPPinger struct {
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
	// url is the endpoint to GET.
	url string
	// header is sent with every probe (API keys).
	header http.Header
	// client performs the probe; the context carries the timeout.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger. header may be nil.
func NewHTTPPinger(name, url string, header http.Header) *HTTPPinger {
	return &HTTPPinger{name: name, url: url, header: header, client: &http.Client{}}
}

// Name returns the backend label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping returns nil when the endpoint answers 2xx.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", p.name, err)
	}
	for k, vs := range p.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", p.name, resp.StatusCode)
	}
	return nil
}
