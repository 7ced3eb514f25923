// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
)

// MockService is a suture.Service whose failures the test controls.
type MockService struct {
	name       string
	startCount atomic.Int32
	failCount  atomic.Int32
	maxFails   int32
}

func NewMockService(name string) *MockService {
	return &MockService{name: name}
}

// Serve fails maxFails times, then runs until ctx is canceled.
func (m *MockService) Serve(ctx context.Context) error {
	m.startCount.Add(1)
	if m.maxFails > 0 && m.failCount.Add(1) <= m.maxFails {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

// SetFailCount must be called before the service is added to a tree.
func (m *MockService) SetFailCount(n int) {
	m.maxFails = int32(n)
}

func (m *MockService) StartCount() int32 {
	return m.startCount.Load()
}

func (m *MockService) String() string {
	return m.name
}
