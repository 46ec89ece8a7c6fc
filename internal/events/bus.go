// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

// Package events carries data mutation notifications from importers to
// the invalidation controller over an in-process watermill bus, so
// ingestion code never calls the cache directly.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"

	"github.com/jostrander/chronocache/internal/invalidation"
	"github.com/jostrander/chronocache/internal/logging"
)

// Topics carried on the bus.
const (
	TopicDataImported = "chronocache.data.imported"
	TopicDataDeleted  = "chronocache.data.deleted"
)

// MutationApplier is the invalidation surface the bus drives.
type MutationApplier interface {
	OnDataImported(ctx context.Context, ev invalidation.MutationEvent) (int, error)
	OnDataDeleted(ctx context.Context, ev invalidation.MutationEvent) (int, error)
}

// BusConfig holds the bus tunables.
type BusConfig struct {
	// BufferSize is the per-subscriber channel buffer.
	BufferSize int64

	// CloseTimeout is how long Close waits for in-flight handlers.
	CloseTimeout time.Duration

	// Retry middleware settings, damping transient handler panics.
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
}

func (c *BusConfig) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 30 * time.Second
	}
	if c.RetryMaxRetries <= 0 {
		c.RetryMaxRetries = 3
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 100 * time.Millisecond
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 5 * time.Second
	}
	if c.RetryMultiplier <= 0 {
		c.RetryMultiplier = 2.0
	}
}

// Bus is the in-process mutation event bus. Publishing blocks until the
// invalidation handler has acknowledged the event, so an importer that
// publishes and then reads gets post-mutation aggregates.
type Bus struct {
	pubsub  *gochannel.GoChannel
	router  *message.Router
	applier MutationApplier
}

// NewBus builds the bus and registers the invalidation handlers.
func NewBus(applier MutationApplier, cfg BusConfig) (*Bus, error) {
	cfg.applyDefaults()
	logger := newWatermillLogger()

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.BufferSize,
		BlockPublishUntilSubscriberAck: true,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create event router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)
	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	b := &Bus{pubsub: pubsub, router: router, applier: applier}

	router.AddConsumerHandler("invalidate-on-import", TopicDataImported, pubsub, b.handleImported)
	router.AddConsumerHandler("invalidate-on-delete", TopicDataDeleted, pubsub, b.handleDeleted)

	return b, nil
}

// PublishDataImported announces that new data landed in the source
// store for the given scope.
func (b *Bus) PublishDataImported(ctx context.Context, ev invalidation.MutationEvent) error {
	return b.publish(ctx, TopicDataImported, ev)
}

// PublishDataDeleted announces that data was removed from the source
// store for the given scope.
func (b *Bus) PublishDataDeleted(ctx context.Context, ev invalidation.MutationEvent) error {
	return b.publish(ctx, TopicDataDeleted, ev)
}

func (b *Bus) publish(ctx context.Context, topic string, ev invalidation.MutationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode mutation event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) handleImported(msg *message.Message) error {
	return b.handleMutation(msg, "import", b.applier.OnDataImported)
}

func (b *Bus) handleDeleted(msg *message.Message) error {
	return b.handleMutation(msg, "delete", b.applier.OnDataDeleted)
}

// handleMutation decodes and applies one event. It always acks:
// malformed payloads can never succeed, and partial invalidations are
// already queued for background retry by the controller, so redelivery
// would only purge the same ranges again.
func (b *Bus) handleMutation(msg *message.Message, kind string, apply func(context.Context, invalidation.MutationEvent) (int, error)) error {
	var ev invalidation.MutationEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		logging.Error().Err(err).
			Str("message_id", msg.UUID).
			Str("kind", kind).
			Msg("Dropping undecodable mutation event")
		return nil
	}

	n, err := apply(msg.Context(), ev)
	if err != nil {
		logging.Warn().Err(err).
			Str("message_id", msg.UUID).
			Str("kind", kind).
			Str("metric", ev.Metric).
			Msg("Mutation event applied incompletely")
		return nil
	}

	logging.Debug().
		Str("message_id", msg.UUID).
		Str("kind", kind).
		Str("metric", ev.Metric).
		Int("entries", n).
		Msg("Mutation event applied")
	return nil
}

// Serve runs the router until the context is canceled. It satisfies
// suture.Service.
func (b *Bus) Serve(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running returns a channel that closes once handlers are subscribed.
// Publish before that closes is dropped by the in-memory pub/sub.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Close stops the router and the pub/sub, waiting up to CloseTimeout
// for in-flight handlers.
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return fmt.Errorf("close event router: %w", err)
	}
	if err := b.pubsub.Close(); err != nil {
		return fmt.Errorf("close event pubsub: %w", err)
	}
	return nil
}
