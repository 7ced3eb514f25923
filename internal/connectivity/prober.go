// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package connectivity

import (
	"context"
	"io"
	"net/http"
)

// Prober checks whether the remote is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) bool {
	return f(ctx)
}

// HTTPProber treats any HTTP response below 500 from URL as online.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber returns a prober for url using http.DefaultClient.
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{URL: url, Client: http.DefaultClient}
}

// Probe issues a GET against the probe URL.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, http.NoBody)
	if err != nil {
		return false
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusInternalServerError
}
