// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package remote

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenManager_RoundTrip(t *testing.T) {
	m, err := NewTokenManager(testSecret, "device-1", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	token, err := m.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Device != "device-1" || claims.Subject != "device-1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenManager_ShortSecret(t *testing.T) {
	_, err := NewTokenManager("short", "d", time.Hour)
	if !errors.Is(err, ErrSecretTooShort) {
		t.Errorf("err = %v, want ErrSecretTooShort", err)
	}
}

func TestTokenManager_WrongSecret(t *testing.T) {
	a, _ := NewTokenManager(testSecret, "d", time.Hour)
	b, _ := NewTokenManager(strings.Repeat("x", 32), "d", time.Hour)

	token, _ := a.GenerateToken()
	if _, err := b.ValidateToken(token); err == nil {
		t.Error("token signed with another secret validated")
	}
}

func TestTokenManager_Expired(t *testing.T) {
	m, _ := NewTokenManager(testSecret, "d", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _ := m.GenerateToken()

	m.now = time.Now
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("expired token validated")
	}
}
