// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// minSecretLength is the shortest HMAC secret accepted.
const minSecretLength = 32

// ErrSecretTooShort is returned for secrets under 32 bytes.
var ErrSecretTooShort = fmt.Errorf("token secret must be at least %d bytes", minSecretLength)

// Claims are the JWT claims carried by device tokens.
type Claims struct {
	Device string `json:"device"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 device tokens. It is the
// TokenSource for HTTPClient and the verifier for Server.
type TokenManager struct {
	secret  []byte
	device  string
	timeout time.Duration
	now     func() time.Time
}

// NewTokenManager creates a manager for device, issuing tokens valid for
// timeout.
func NewTokenManager(secret, device string, timeout time.Duration) (*TokenManager, error) {
	if len(secret) < minSecretLength {
		return nil, ErrSecretTooShort
	}
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &TokenManager{
		secret:  []byte(secret),
		device:  device,
		timeout: timeout,
		now:     time.Now,
	}, nil
}

// GenerateToken signs a new token for the manager's device.
func (m *TokenManager) GenerateToken() (string, error) {
	now := m.now()
	claims := &Claims{
		Device: m.device,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   m.device,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Token implements TokenSource.
func (m *TokenManager) Token(context.Context) (string, error) {
	return m.GenerateToken()
}

// ValidateToken verifies signature, algorithm and expiry and returns the claims.
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
