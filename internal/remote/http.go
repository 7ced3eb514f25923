// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/metrics"
	"github.com/tomtom215/outpost/internal/models"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns t.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	// BaseURL is the API root; records live under BaseURL/records.
	BaseURL string

	// Timeout bounds every call, including reading the response.
	Timeout time.Duration

	// Tokens supplies bearer tokens. Nil sends no Authorization header.
	Tokens TokenSource

	// HTTPClient overrides the transport. Nil uses a client with no timeout
	// of its own; Timeout is applied per call through the context.
	HTTPClient *http.Client
}

// HTTPClient talks to a REST system of record:
//
//	POST   /records/{type}        create, 201 {"id": ..., "payload": {...}}
//	PATCH  /records/{type}/{id}   merge patch, 200 {"id": ..., "payload": {...}}
//	DELETE /records/{type}/{id}   204
//	GET    /records/{type}/{id}   200 {"id": ..., "payload": {...}}
//
// Error responses carry {"error": "message"}.
type HTTPClient struct {
	base    *url.URL
	timeout time.Duration
	tokens  TokenSource
	client  *http.Client
}

// NewHTTPClient validates cfg and returns a client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote base URL %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPClient{base: base, timeout: timeout, tokens: cfg.Tokens, client: hc}, nil
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, entityType string, payload models.Payload) (Result, error) {
	if payload == nil {
		payload = models.Payload{}
	}
	return c.do(ctx, "create", http.MethodPost, c.recordURL(entityType, ""), payload)
}

// Update implements Client.
func (c *HTTPClient) Update(ctx context.Context, entityType, id string, patch models.Payload) (Result, error) {
	return c.do(ctx, "update", http.MethodPatch, c.recordURL(entityType, id), patch)
}

// Delete implements Client.
func (c *HTTPClient) Delete(ctx context.Context, entityType, id string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, c.recordURL(entityType, id), nil)
	return err
}

// Get implements Fetcher.
func (c *HTTPClient) Get(ctx context.Context, entityType, id string) (Result, error) {
	return c.do(ctx, "get", http.MethodGet, c.recordURL(entityType, id), nil)
}

func (c *HTTPClient) recordURL(entityType, id string) string {
	u := *c.base
	u.Path = u.Path + "/records/" + url.PathEscape(entityType)
	if id != "" {
		u.Path += "/" + url.PathEscape(id)
	}
	return u.String()
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *HTTPClient) do(ctx context.Context, op, method, target string, body models.Payload) (res Result, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordRemoteCall(op, string(StatusOf(err)), time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Result{}, &Error{Status: StatusValidation, Message: "encode payload", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return Result{}, &Error{Status: StatusValidation, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return Result{}, &Error{Status: StatusAuth, Message: "obtain token", Err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, transportError(err)
	}

	status := ClassifyHTTP(resp.StatusCode)
	if status != StatusOK {
		var eb errorBody
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		logging.Debug().
			Str("op", op).
			Int("code", resp.StatusCode).
			Str("status", string(status)).
			Msg("Remote call failed")
		return Result{}, &Error{Status: status, Code: resp.StatusCode, Message: msg}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return Result{}, nil
	}
	if err := json.Unmarshal(data, &res); err != nil {
		// The outcome of an unreadable 2xx is unknown, so it stays queued.
		return Result{}, &Error{Status: StatusTransient, Code: resp.StatusCode, Message: "decode response", Err: err}
	}
	return res, nil
}
