// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package bridge mirrors the in-process event bus onto a NATS broker and
// republishes inbound broker traffic locally. Every local event goes out
// on <prefix>.events.<type with / rewritten to .>; messages arriving on
// those subjects come back onto the bus with source "external". An
// origin marker on outbound messages keeps an instance from consuming
// its own mirrors, so several instances can share one broker without
// echo. The broker can be external or an embedded nats-server.
package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/eventbus"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/metrics"
)

// SourceExternal is the bus source stamped on republished broker events.
const SourceExternal = "external"

const (
	metaOrigin      = "bridge_origin"
	metaEventType   = "event_type"
	metaEventSource = "event_source"

	defaultSubjectPrefix = "nexus"
	reconnectWait        = 2 * time.Second
	serverStartTimeout   = 10 * time.Second
	subscriberCloseGrace = 10 * time.Second
)

// LocalBus is the slice of the event bus the bridge needs.
type LocalBus interface {
	Publish(eventType, source string, payload map[string]any) (uuid.UUID, error)
	Subscribe(pattern string, cb eventbus.Callback, opts ...eventbus.SubscribeOption) (eventbus.SubscriptionHandle, error)
	Unsubscribe(subscriberID string) int
}

// Bridge connects the local bus to a NATS deployment.
type Bridge struct {
	cfg    config.ExternalBusConfig
	bus    LocalBus
	logger zerolog.Logger

	// id marks outbound messages so our own mirrors are dropped when
	// they come back on the inbound subscription.
	id     string
	prefix string
	url    string

	srv *server.Server // embedded broker, nil when external
	pub message.Publisher
	sub message.Subscriber

	ready     chan struct{}
	readyOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// New connects the bridge. With cfg.Embedded it first boots an
// in-process nats-server on an ephemeral localhost port; otherwise it
// dials cfg.URL. The broker connection retries in the background, so
// New succeeds even while an external broker is still coming up.
func New(cfg config.ExternalBusConfig, bus LocalBus) (*Bridge, error) {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}

	b := &Bridge{
		cfg:    cfg,
		bus:    bus,
		logger: logging.Named("bridge"),
		id:     uuid.NewString(),
		prefix: prefix,
		ready:  make(chan struct{}),
	}

	url := cfg.URL
	if cfg.Embedded {
		srv, err := startEmbedded(cfg)
		if err != nil {
			return nil, err
		}
		b.srv = srv
		url = srv.ClientURL()
		b.logger.Info().Str("url", url).Bool("jetstream", srv.JetStreamEnabled()).Msg("Embedded NATS server ready")
	}
	b.url = url

	wmLog := newWatermillLogger(b.logger)

	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         url,
		NatsOptions: b.natsOptions(),
		Marshaler:   &wmnats.NATSMarshaler{},
		JetStream:   wmnats.JetStreamConfig{Disabled: true},
	}, wmLog)
	if err != nil {
		b.stopServerWithGrace()
		return nil, errs.Wrap(errs.KindDependency, "create bridge publisher", err)
	}
	b.pub = pub

	sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:              url,
		NatsOptions:      b.natsOptions(),
		Unmarshaler:      &wmnats.NATSMarshaler{},
		SubscribersCount: 1,
		CloseTimeout:     subscriberCloseGrace,
		JetStream:        wmnats.JetStreamConfig{Disabled: true},
	}, wmLog)
	if err != nil {
		_ = pub.Close()
		b.stopServerWithGrace()
		return nil, errs.Wrap(errs.KindDependency, "create bridge subscriber", err)
	}
	b.sub = sub

	b.logger.Info().
		Str("url", url).
		Str("subject_prefix", prefix).
		Msg("External bridge ready")
	return b, nil
}

// Run mirrors the bus until ctx is cancelled. It registers the local
// subscription, then pumps inbound broker messages, re-subscribing with
// exponential backoff whenever the subscription drops.
func (b *Bridge) Run(ctx context.Context) error {
	if _, err := b.bus.Subscribe("*", b.mirror,
		eventbus.WithSubscriberID(SourceExternal),
		eventbus.WithoutSelfDelivery(),
	); err != nil {
		return err
	}
	defer b.bus.Unsubscribe(SourceExternal)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = 30 * time.Second

	for {
		err := b.pump(ctx, bo)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := bo.NextBackOff()
		metrics.BridgeErrors.WithLabelValues("in").Inc()
		b.logger.Warn().Err(err).Dur("retry_in", wait).Msg("External subscription interrupted; retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pump holds one inbound subscription open and drains it.
func (b *Bridge) pump(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	messages, err := b.sub.Subscribe(ctx, b.prefix+".events.>")
	if err != nil {
		return err
	}
	bo.Reset()
	b.readyOnce.Do(func() { close(b.ready) })

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return errs.New(errs.KindDependency, "external subscription closed")
			}
			b.handleInbound(msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// mirror forwards one local event to the broker. Runs as a bus callback;
// failures are counted and logged, never propagated into the bus.
func (b *Bridge) mirror(e eventbus.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		metrics.BridgeErrors.WithLabelValues("out").Inc()
		b.logger.Error().Err(err).Str("event_type", e.Type).Msg("Cannot encode event for the bridge")
		return
	}

	msg := message.NewMessage(e.ID.String(), data)
	msg.Metadata.Set(metaOrigin, b.id)
	msg.Metadata.Set(metaEventType, e.Type)
	msg.Metadata.Set(metaEventSource, e.Source)

	if err := b.pub.Publish(b.subjectFor(e.Type), msg); err != nil {
		metrics.BridgeErrors.WithLabelValues("out").Inc()
		b.logger.Warn().Err(err).Str("event_type", e.Type).Msg("Failed to mirror event to the broker")
		return
	}
	metrics.BridgeMessagesOut.Inc()
}

// handleInbound republishes one broker message onto the local bus.
func (b *Bridge) handleInbound(msg *message.Message) {
	defer msg.Ack()

	if msg.Metadata.Get(metaOrigin) == b.id {
		return // our own mirror coming back around
	}

	var e eventbus.Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		metrics.BridgeErrors.WithLabelValues("in").Inc()
		b.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable external message")
		return
	}
	if e.Type == "" {
		metrics.BridgeErrors.WithLabelValues("in").Inc()
		b.logger.Warn().Str("message_id", msg.UUID).Msg("Dropping external message without an event type")
		return
	}

	if _, err := b.bus.Publish(e.Type, SourceExternal, e.Payload); err != nil {
		metrics.BridgeErrors.WithLabelValues("in").Inc()
		b.logger.Warn().Err(err).Str("event_type", e.Type).Msg("Could not republish external event")
		return
	}
	metrics.BridgeMessagesIn.Inc()
}

// Close tears the bridge down: local subscription, broker ends, then
// the embedded server. Safe to call more than once.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.bus.Unsubscribe(SourceExternal)
	if err := b.sub.Close(); err != nil {
		b.logger.Warn().Err(err).Msg("Bridge subscriber close failed")
	}
	if err := b.pub.Close(); err != nil {
		b.logger.Warn().Err(err).Msg("Bridge publisher close failed")
	}
	b.stopServer(ctx)

	b.logger.Info().Msg("External bridge stopped")
	return nil
}

// ClientURL reports the broker address the bridge is connected to. For
// an embedded server this is the ephemeral address it bound.
func (b *Bridge) ClientURL() string { return b.url }

func (b *Bridge) subjectFor(eventType string) string {
	return b.prefix + ".events." + strings.ReplaceAll(eventType, "/", ".")
}

func (b *Bridge) natsOptions() []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name("nexus-bridge"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(reconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				b.logger.Warn().Err(err).Msg("NATS connection lost")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			metrics.BridgeReconnects.Inc()
			b.logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS connection restored")
		}),
	}
}

func (b *Bridge) stopServerWithGrace() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.stopServer(ctx)
}

func (b *Bridge) stopServer(ctx context.Context) {
	if b.srv == nil {
		return
	}
	b.srv.Shutdown()

	done := make(chan struct{})
	go func() {
		b.srv.WaitForShutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn().Msg("Gave up waiting for the embedded NATS server to stop")
	}
}

// startEmbedded boots an in-process nats-server on an ephemeral
// localhost port. JetStream is enabled when a store directory is
// configured so external JetStream clients can share the broker; the
// bridge itself uses plain subjects.
func startEmbedded(cfg config.ExternalBusConfig) (*server.Server, error) {
	opts := &server.Options{
		ServerName: "nexus-bus",
		Host:       "127.0.0.1",
		Port:       server.RANDOM_PORT,
		JetStream:  cfg.StoreDir != "",
		StoreDir:   cfg.StoreDir,
		NoLog:      true, // process logging belongs to zerolog
		NoSigs:     true, // the runtime owns signal handling
		MaxPayload: 8 * 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, errs.Wrap(errs.KindDependency, "create embedded nats server", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(serverStartTimeout) {
		ns.Shutdown()
		return nil, errs.New(errs.KindDependency, "embedded nats server never became ready")
	}
	return ns, nil
}
