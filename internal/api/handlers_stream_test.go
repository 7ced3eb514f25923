// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/outpost/internal/models"
	ws "github.com/tomtom215/outpost/internal/websocket"
)

func dialStream(t *testing.T, f *fixture, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/outcomes/ws"
	return websocket.DefaultDialer.Dial(url, header)
}

func TestOutcomeStream(t *testing.T) {
	f := setup(t, true, nil)
	conn, _, err := dialStream(t, f, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for f.hub.GetClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client was not registered")
		}
		time.Sleep(time.Millisecond)
	}

	f.hub.BroadcastOutcome(models.Outcome{
		Kind:       models.OutcomeRejected,
		ActionKind: models.ActionCreate,
		TargetType: "task",
		TargetID:   "tmp_1",
		UserFacing: true,
	})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg struct {
		Type string         `json:"type"`
		Data models.Outcome `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != ws.MessageTypeOutcome || msg.Data.TargetID != "tmp_1" || !msg.Data.UserFacing {
		t.Errorf("message = %+v", msg)
	}

	// Application level ping.
	if err := conn.WriteJSON(ws.Message{Type: ws.MessageTypePing}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var pong ws.Message
	if err := conn.ReadJSON(&pong); err != nil || pong.Type != ws.MessageTypePong {
		t.Errorf("pong = %+v, err %v", pong, err)
	}
}

func TestOutcomeStream_Origin(t *testing.T) {
	f := setup(t, true, nil)

	conn, _, err := dialStream(t, f, "http://localhost:5173")
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()

	_, resp, err := dialStream(t, f, "http://evil.example")
	if err == nil {
		t.Fatal("disallowed origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(Dependencies{AllowedOrigins: []string{"http://localhost:*", "https://app.example.com"}})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"https://app.example.com", true},
		{"https://other.example.com", false},
		{"http://localhost.evil:80", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/outcomes/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
