// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/parkfabric/internal/envelope"
)

// Subject names the bus topics. C4 publishes applied events on
// SubjectEvents through EventSink; cmd/central's audit subscriber is
// its only subscriber. The bus is a fan-out pub/sub, not a work queue.
const (
	SubjectEvents      = "parkfabric.events"
	SubjectAdminMutate = "parkfabric.admin"
)

// Bus wraps a Watermill publisher and subscriber bound to an embedded
// or external core NATS connection. Unlike the reference JetStream
// wiring, AutoProvision/streams are irrelevant here: plain NATS
// subjects need no stream to be created ahead of time.
type Bus struct {
	pub message.Publisher
	sub message.Subscriber

	mu     sync.RWMutex
	closed bool
}

// New connects a Watermill NATS publisher and subscriber to the given
// client URL. natsURL is typically an EmbeddedServer.ClientURL() but
// may point at an external NATS deployment for multi-process setups.
func New(natsURL string) (*Bus, error) {
	logger := watermill.NopLogger{}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
	}

	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         natsURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmnats.NATSMarshaler{},
		JetStream:   wmnats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("bus: new publisher: %w", err)
	}

	sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:              natsURL,
		SubscribersCount: 1,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmnats.NATSMarshaler{},
		JetStream:        wmnats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("bus: new subscriber: %w", err)
	}

	return &Bus{pub: pub, sub: sub}, nil
}

// Publish marshals an envelope and publishes it on subject.
func (b *Bus) Publish(subject string, env *envelope.Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus: publisher closed")
	}
	b.mu.RUnlock()

	payload, err := envelope.Marshal(*env)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", string(env.Type))
	return b.pub.Publish(subject, msg)
}

// Handler processes one envelope received from the bus. A non-nil
// return nacks the message; the reference subscriber config uses no
// redelivery beyond core NATS's best-effort at-most-once semantics, so
// a nacked message is simply dropped and logged by the caller.
type Handler func(ctx context.Context, env *envelope.Envelope) error

// Subscribe runs fn for every envelope published on subject until ctx
// is canceled. It is intended to be run in its own goroutine by the
// caller (cmd/central's audit subscriber).
func (b *Bus) Subscribe(ctx context.Context, subject string, fn Handler) error {
	messages, err := b.sub.Subscribe(ctx, subject)
	if err != nil {
		return fmt.Errorf("bus: subscribe %s: %w", subject, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			env, err := envelope.Unmarshal(msg.Payload)
			if err != nil {
				msg.Nack()
				continue
			}
			if err := fn(ctx, &env); err != nil {
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}
}

// Close shuts down the publisher and subscriber.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	if err := b.pub.Close(); err != nil {
		firstErr = err
	}
	if err := b.sub.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
