// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package events carries sync outcomes from the engine to the application.
//
// Outcomes are published on an in-process Watermill GoChannel under the
// TopicOutcomes topic. Subscribers receive decoded models.Outcome values;
// the engine never blocks on a slow or absent subscriber.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/models"
)

// TopicOutcomes is the topic sync outcomes are published on.
const TopicOutcomes = "sync.outcomes"

// Metadata keys set on every outcome message.
const (
	MetadataKind     = "kind"
	MetadataTargetID = "target_id"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("event bus closed")

// Config configures Bus.
type Config struct {
	// BufferSize is the per-subscriber channel buffer.
	BufferSize int64
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{BufferSize: 256}
}

// Bus publishes and fans out outcomes.
type Bus struct {
	pubsub *gochannel.GoChannel
	cfg    Config

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a Bus. Watermill logs go through the zerolog slog adapter.
func NewBus(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.BufferSize,
		}, logger),
		cfg: cfg,
	}
}

// Publish sends o to every current subscriber. Outcomes published with no
// subscriber are dropped.
func (b *Bus) Publish(o models.Outcome) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(MetadataKind, string(o.Kind))
	msg.Metadata.Set(MetadataTargetID, o.TargetID)
	return b.pubsub.Publish(TopicOutcomes, msg)
}

// Subscribe returns a channel of outcomes that closes when ctx is done or
// the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan models.Outcome, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}

	messages, err := b.pubsub.Subscribe(ctx, TopicOutcomes)
	if err != nil {
		return nil, err
	}

	out := make(chan models.Outcome, b.cfg.BufferSize)
	go func() {
		defer close(out)
		for msg := range messages {
			var o models.Outcome
			if err := json.Unmarshal(msg.Payload, &o); err != nil {
				logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping malformed outcome")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- o:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops the bus and closes every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}
