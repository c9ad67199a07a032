package quicbus

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/tickforge/ecsengine/internal/core/observability/log"
	"github.com/tickforge/ecsengine/internal/core/transport"
	"github.com/tickforge/ecsengine/internal/core/transport/inproc"
)

// Broker is the network-facing side of quicbus: it accepts QUIC
// connections from Clients and routes their control-frame traffic through
// an in-process inproc.Bus, which already implements the subject/queue-
// group fan-out semantics. This keeps the routing logic in one place and
// lets quicbus focus on framing bytes over streams — the same layering
// the teacher uses between protocol/quic (bytes) and protocol/server.go
// (routing).
type Broker struct {
	cfg      *Config
	logger   log.Log
	listener *quic.Listener
	routes   *inproc.Bus

	closeCh chan struct{}
}

// NewBroker builds a broker bound to addr once Serve is called.
func NewBroker(cfg *Config, logger log.Log) *Broker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Broker{
		cfg:     cfg,
		logger:  logger.With(log.String("component", "quicbus.broker")),
		routes:  inproc.New(),
		closeCh: make(chan struct{}),
	}
}

// Serve listens on addr and blocks accepting connections until ctx is
// canceled or Close is called.
func (b *Broker) Serve(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	ln, err := quic.Listen(udpConn, b.cfg.TLSConfig, b.cfg.quicConfig())
	if err != nil {
		_ = udpConn.Close()
		return err
	}
	b.listener = ln
	b.logger.Info("quicbus broker listening", log.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			select {
			case <-b.closeCh:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
				b.logger.Warn("accept failed", log.Error(err))
				return err
			}
		}
		go b.handleConn(ctx, conn)
	}
}

func (b *Broker) handleConn(ctx context.Context, conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go b.handleStream(ctx, stream)
	}
}

func (b *Broker) handleStream(ctx context.Context, stream *quic.Stream) {
	defer stream.Close()
	first, err := readFrame(stream)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			b.logger.Debug("dropping stream: bad opening frame", log.Error(err))
		}
		return
	}

	switch first.Kind {
	case kindPublish:
		b.servePublishStream(ctx, stream, first)
	case kindSubscribe:
		b.serveSubscribeStream(ctx, stream, first.Subject, "", first.Durable)
	case kindQueueSubscribe:
		b.serveSubscribeStream(ctx, stream, first.Subject, first.Group, false)
	default:
		b.logger.Warn("unexpected opening frame kind", log.Int("kind", int(first.Kind)))
	}
}

func (b *Broker) servePublishStream(ctx context.Context, stream *quic.Stream, first controlFrame) {
	frame := first
	for {
		if frame.Env != nil {
			var err error
			if frame.Durable {
				err = b.routes.PublishDurable(ctx, *frame.Env)
			} else {
				err = b.routes.Publish(ctx, *frame.Env)
			}
			if err != nil {
				b.logger.Warn("route publish failed", log.Error(err))
			}
		}
		next, err := readFrame(stream)
		if err != nil {
			return
		}
		frame = next
	}
}

func (b *Broker) serveSubscribeStream(ctx context.Context, stream *quic.Stream, subject, group string, durable bool) {
	var sub transport.Subscription
	var err error
	switch {
	case group != "":
		sub, err = b.routes.QueueSubscribe(ctx, subject, group)
	case durable:
		sub, err = b.routes.SubscribeDurable(ctx, subject)
	default:
		sub, err = b.routes.Subscribe(ctx, subject)
	}
	if err != nil {
		b.logger.Warn("subscribe failed", log.Error(err), log.String("subject", subject))
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Messages():
			if !ok {
				return
			}
			if err := writeFrame(stream, controlFrame{Kind: kindPublish, Env: &env}); err != nil {
				b.logger.Debug("subscriber stream closed", log.Error(err))
				return
			}
		}
	}
}

// Close stops accepting new connections and tears down the routing bus.
func (b *Broker) Close() error {
	close(b.closeCh)
	if b.listener != nil {
		_ = b.listener.Close()
	}
	return b.routes.Close()
}
