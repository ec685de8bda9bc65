// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package bus implements the in-process typed publish/subscribe dispatcher.
//
// Delivery runs on Watermill's gochannel transport with publish blocked until
// every subscriber acks. Each (topic, subscriber) pair owns a bounded ring
// filled by a dedicated goroutine that acks on enqueue, so per-pair publish
// order is preserved and a slow handler never stalls another subscriber. Two
// inbox policies exist for a subscriber that falls behind:
//
//   - PolicyBlock: the ack is withheld until the ring has room, which blocks
//     the publisher
//   - PolicyDropOldest: the oldest queued signal is evicted and counted on
//     the dedicated overflow counter; eviction is never silent
//
// Handler errors and panics are caught, logged, and counted; they never stop
// delivery to other subscribers and never propagate to the publisher.
//
// The bus is single-process by design. Signals not yet delivered when Close
// is called are lost; callers that need durability persist state in their own
// stores, not on the bus.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/logging"
	"github.com/sentinel-ops/sentinel/internal/metrics"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Handler processes one signal. A non-nil error is logged and counted; it is
// never retried and never reaches the publisher.
type Handler func(ctx context.Context, sig *signal.Signal) error

// Policy selects the behavior of a saturated subscriber inbox.
type Policy string

const (
	// PolicyBlock applies publisher-side backpressure when an inbox is full.
	PolicyBlock Policy = "block"

	// PolicyDropOldest evicts the oldest queued signal, trading bounded
	// staleness for a non-blocking publisher.
	PolicyDropOldest Policy = "drop_oldest"
)

// Config holds bus configuration.
type Config struct {
	// InboxSize bounds each (topic, subscriber) queue.
	InboxSize int

	// OverflowPolicy is applied when an inbox is full.
	OverflowPolicy Policy

	// CloseTimeout limits how long Close waits for in-flight handlers.
	CloseTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		InboxSize:      256,
		OverflowPolicy: PolicyBlock,
		CloseTimeout:   10 * time.Second,
	}
}

// Bus is the typed signal dispatcher. It owns no responder state.
type Bus struct {
	cfg    Config
	pubsub *gochannel.GoChannel
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]struct{}
	closed bool

	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// New creates a bus with the given configuration.
func New(cfg Config) *Bus {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultConfig().InboxSize
	}
	if cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = PolicyBlock
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultConfig().CloseTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Publish must not return before each subscriber has the signal in its
	// ring: without the ack barrier the transport hands every message to a
	// fresh goroutine and per-subscriber order is lost. The fill goroutines
	// ack on enqueue, so the barrier costs one channel handoff per
	// subscriber, not a handler invocation.
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, newWatermillLogger())

	return &Bus{
		cfg:    cfg,
		pubsub: pubsub,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]struct{}),
	}
}

// Publish validates and enqueues the signal for every subscriber of its type.
// From the publisher's perspective delivery is fire-and-forget; the only
// error paths are validation and a closed bus. Under PolicyBlock a full
// subscriber inbox applies backpressure here.
func (b *Bus) Publish(ctx context.Context, sig *signal.Signal) error {
	if sig == nil {
		return errs.Validation("signal", "nil signal")
	}
	if err := sig.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("bus closed")
	}

	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal %s: %w", sig.ID, err)
	}

	msg := message.NewMessage(sig.ID, data)
	msg.Metadata.Set("type", string(sig.Type))
	if sig.CorrelationID != "" {
		msg.Metadata.Set("correlation_id", sig.CorrelationID)
	}

	if err := b.pubsub.Publish(sig.Topic(), msg); err != nil {
		return fmt.Errorf("publish %s: %w", sig.Topic(), err)
	}

	metrics.BusSignalsPublished.WithLabelValues(sig.Topic()).Inc()
	return nil
}

// Subscribe registers a named handler for all future signals of the given
// type. Handlers for the same signal run independently; no ordering across
// subscribers is guaranteed. Per (type, subscriber) delivery is FIFO.
func (b *Bus) Subscribe(t signal.Type, name string, h Handler) error {
	if !t.Valid() {
		return errs.Validation("type", "unknown signal type %q", t)
	}
	if name == "" {
		return errs.Validation("name", "subscriber name required")
	}
	if h == nil {
		return errs.Validation("handler", "nil handler")
	}

	topic := string(t)
	key := topic + "/" + name

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus closed")
	}
	if _, dup := b.subs[key]; dup {
		b.mu.Unlock()
		return errs.Conflict(key, "subscriber already registered")
	}
	b.subs[key] = struct{}{}
	b.mu.Unlock()

	msgs, err := b.pubsub.Subscribe(b.ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", key, err)
	}

	ring := newInbox(b.cfg.InboxSize, b.cfg.OverflowPolicy == PolicyDropOldest)
	b.wg.Add(2)
	go b.fill(topic, name, msgs, ring)
	go b.drain(topic, name, ring, h)

	logging.Info().
		Str("component", "bus").
		Str("topic", topic).
		Str("subscriber", name).
		Str("policy", string(b.cfg.OverflowPolicy)).
		Msg("subscriber registered")
	return nil
}

// fill moves signals from the transport channel into the bounded ring and
// acks each one once it is enqueued. Under drop-oldest the push always
// succeeds immediately and the ring evicts; under the block policy a full
// ring makes the push wait, which withholds the ack and backpressures the
// publisher.
func (b *Bus) fill(topic, name string, msgs <-chan *message.Message, ring *inbox) {
	defer b.wg.Done()
	defer ring.close()

	for msg := range msgs {
		sig, err := decode(msg)
		if err != nil {
			logging.Error().Err(err).
				Str("component", "bus").
				Str("topic", topic).
				Str("subscriber", name).
				Msg("undecodable signal discarded")
			msg.Ack()
			continue
		}
		for _, evicted := range ring.push(sig) {
			b.dropped.Add(1)
			metrics.BusSignalsDropped.WithLabelValues(topic, name).Inc()
			overflow := &errs.OverflowError{Topic: topic, Subscriber: name}
			logging.Warn().Err(overflow).
				Str("component", "bus").
				Str("signal_id", evicted.ID).
				Msg("signal dropped from saturated inbox")
		}
		msg.Ack()
	}
}

func (b *Bus) drain(topic, name string, ring *inbox, h Handler) {
	defer b.wg.Done()

	for sig := range ring.out() {
		b.deliver(topic, name, h, sig)
	}
}

// deliver invokes the handler with failure isolation: panics are recovered,
// errors are logged and counted, and neither reaches the publisher or any
// other subscriber.
func (b *Bus) deliver(topic, name string, h Handler, sig *signal.Signal) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusHandlerErrors.WithLabelValues(topic, name).Inc()
			logging.Error().
				Str("component", "bus").
				Str("topic", topic).
				Str("subscriber", name).
				Str("signal_id", sig.ID).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	ctx := b.ctx
	if sig.CorrelationID != "" {
		ctx = logging.ContextWithCorrelationID(ctx, sig.CorrelationID)
	}

	if err := h(ctx, sig); err != nil {
		metrics.BusHandlerErrors.WithLabelValues(topic, name).Inc()
		logging.Ctx(ctx).Error().Err(err).
			Str("component", "bus").
			Str("topic", topic).
			Str("subscriber", name).
			Str("signal_id", sig.ID).
			Msg("handler failed")
		return
	}

	metrics.BusSignalsDelivered.WithLabelValues(topic, name).Inc()
}

// Dropped returns the total number of signals evicted under drop-oldest.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops delivery and waits up to CloseTimeout for in-flight handlers.
// Signals still queued in subscriber inboxes are lost: the publisher was
// already told its publish succeeded, so Close logs how the wait ended
// rather than failing.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.pubsub.Close()
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info().Str("component", "bus").Msg("bus closed")
	case <-time.After(b.cfg.CloseTimeout):
		logging.Warn().Str("component", "bus").
			Dur("timeout", b.cfg.CloseTimeout).
			Msg("bus close timed out; in-flight handlers abandoned")
	}
	return err
}

func decode(msg *message.Message) (*signal.Signal, error) {
	var sig signal.Signal
	if err := json.Unmarshal(msg.Payload, &sig); err != nil {
		return nil, fmt.Errorf("decode signal %s: %w", msg.UUID, err)
	}
	return &sig, nil
}
