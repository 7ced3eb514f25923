// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/outpost/internal/models"
)

func setupServer(t *testing.T, tokens *TokenManager) (*Memory, *httptest.Server) {
	t.Helper()
	mem := NewMemory()
	srv := httptest.NewServer(NewServer(mem, tokens).Handler())
	t.Cleanup(srv.Close)
	return mem, srv
}

func newClient(t *testing.T, baseURL string, tokens TokenSource) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(HTTPConfig{BaseURL: baseURL, Timeout: 2 * time.Second, Tokens: tokens})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return c
}

func TestHTTPClient_CRUD(t *testing.T) {
	mem, srv := setupServer(t, nil)
	c := newClient(t, srv.URL, nil)
	ctx := context.Background()

	res, err := c.Create(ctx, "task", models.Payload{"title": "A"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.ID != "r1" || res.Payload["title"] != "A" {
		t.Errorf("Create result = %+v", res)
	}

	res, err = c.Update(ctx, "task", "r1", models.Payload{"done": true})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Payload["done"] != true || res.Payload["title"] != "A" {
		t.Errorf("Update result = %+v", res)
	}

	res, err = c.Get(ctx, "task", "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Payload["done"] != true {
		t.Errorf("Get result = %+v", res)
	}

	if err := c.Delete(ctx, "task", "r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mem.Len("task") != 0 {
		t.Errorf("remote still has %d records", mem.Len("task"))
	}
}

func TestHTTPClient_ClassifiesErrors(t *testing.T) {
	mem, srv := setupServer(t, nil)
	c := newClient(t, srv.URL, nil)
	ctx := context.Background()

	_, err := c.Update(ctx, "task", "nope", models.Payload{"a": 1})
	if StatusOf(err) != StatusNotFound {
		t.Errorf("update missing = %v, want not_found", err)
	}

	mem.FailNext("create", StatusConflict, 1)
	_, err = c.Create(ctx, "task", models.Payload{})
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Status != StatusConflict || rerr.Code != http.StatusConflict {
		t.Errorf("conflict err = %v", err)
	}

	mem.Validate = func(string, models.Payload) error { return errors.New("title required") }
	_, err = c.Create(ctx, "task", models.Payload{})
	if !errors.As(err, &rerr) || rerr.Status != StatusValidation || rerr.Message != "title required" {
		t.Errorf("validation err = %v", err)
	}
}

func TestHTTPClient_Auth(t *testing.T) {
	tokens, err := NewTokenManager(testSecret, "device-1", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	_, srv := setupServer(t, tokens)
	ctx := context.Background()

	anon := newClient(t, srv.URL, nil)
	if _, err := anon.Create(ctx, "task", nil); StatusOf(err) != StatusAuth {
		t.Errorf("anonymous create = %v, want auth", err)
	}

	authed := newClient(t, srv.URL, tokens)
	if _, err := authed.Create(ctx, "task", nil); err != nil {
		t.Errorf("authenticated create: %v", err)
	}

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200 without a token", resp.StatusCode)
	}
}

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) {
	return "", errors.New("refresh token revoked")
}

func TestHTTPClient_TokenSourceFailure(t *testing.T) {
	_, srv := setupServer(t, nil)
	c := newClient(t, srv.URL, failingTokens{})

	if _, err := c.Create(context.Background(), "task", nil); StatusOf(err) != StatusAuth {
		t.Errorf("err = %v, want auth", err)
	}
}

func TestHTTPClient_Transient(t *testing.T) {
	ctx := context.Background()

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"upstream down"}`))
		}))
		defer srv.Close()

		_, err := newClient(t, srv.URL, nil).Create(ctx, "task", nil)
		var rerr *Error
		if !errors.As(err, &rerr) || rerr.Status != StatusTransient || rerr.Message != "upstream down" {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.Create(ctx, "task", nil); StatusOf(err) != StatusTransient {
			t.Errorf("err = %v, want transient", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		if err := newClient(t, url, nil).Delete(ctx, "task", "r1"); StatusOf(err) != StatusTransient {
			t.Errorf("err = %v, want transient", err)
		}
	})

	t.Run("unreadable success body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("<html>"))
		}))
		defer srv.Close()

		if _, err := newClient(t, srv.URL, nil).Create(ctx, "task", nil); StatusOf(err) != StatusTransient {
			t.Errorf("err = %v, want transient", err)
		}
	})
}

func TestNewHTTPClient_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "/relative"} {
		if _, err := NewHTTPClient(HTTPConfig{BaseURL: u}); err == nil {
			t.Errorf("NewHTTPClient(%q) should fail", u)
		}
	}
}

func TestServer_RejectsNonObjectBody(t *testing.T) {
	_, srv := setupServer(t, nil)

	resp, err := http.Post(srv.URL+"/records/task", "application/json", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
