package quicbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/tickforge/ecsengine/internal/core/observability/log"
	"github.com/tickforge/ecsengine/internal/core/transport"
	"github.com/tickforge/ecsengine/internal/core/wire"
)

// Client dials a Broker and satisfies transport.Bus over a single QUIC
// connection, opening one stream per publish target and one per
// subscription — mirroring the teacher's per-logical-channel stream usage
// in protocol/quic/connection.go, generalized to the broker's subject
// protocol instead of raw message framing.
type Client struct {
	cfg    *Config
	logger log.Log
	conn   *quic.Conn

	mu       sync.Mutex
	pubOpen  map[string]*quic.Stream // subject -> open publish stream
	closed   bool
	closeMu  sync.Mutex
	subs     []*clientSubscription
}

// Dial connects to a broker at addr.
func Dial(ctx context.Context, cfg *Config, addr string, logger log.Log) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	conn, err := quic.DialAddr(ctx, addr, insecureClientTLS(), cfg.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial quicbus broker %q: %w", addr, err)
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With(log.String("component", "quicbus.client")),
		conn:    conn,
		pubOpen: make(map[string]*quic.Stream),
	}, nil
}

func (c *Client) openPublishStream(ctx context.Context, subject string) (*quic.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.pubOpen[subject]; ok {
		return s, nil
	}
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	c.pubOpen[subject] = s
	return s, nil
}

func (c *Client) publish(ctx context.Context, env wire.Envelope, durable bool) error {
	stream, err := c.openPublishStream(ctx, env.Subject)
	if err != nil {
		return err
	}
	return writeFrame(stream, controlFrame{Kind: kindPublish, Subject: env.Subject, Durable: durable, Env: &env})
}

// Publish implements transport.Bus.
func (c *Client) Publish(ctx context.Context, env wire.Envelope) error {
	return c.publish(ctx, env, false)
}

// PublishDurable implements transport.Bus.
func (c *Client) PublishDurable(ctx context.Context, env wire.Envelope) error {
	return c.publish(ctx, env, true)
}

func (c *Client) subscribe(ctx context.Context, subject, group string, durable bool) (transport.Subscription, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	kind := kindSubscribe
	if group != "" {
		kind = kindQueueSubscribe
	}
	if err := writeFrame(stream, controlFrame{Kind: kind, Subject: subject, Group: group, Durable: durable}); err != nil {
		return nil, err
	}

	sub := &clientSubscription{
		ch:   make(chan wire.Envelope, 64),
		done: make(chan struct{}),
	}
	var unsubOnce sync.Once
	sub.unsub = func() {
		unsubOnce.Do(func() {
			close(sub.done)
			stream.CancelRead(0)
			_ = stream.Close()
		})
	}

	go func() {
		defer close(sub.ch)
		for {
			frame, err := readFrame(stream)
			if err != nil {
				return
			}
			if frame.Env == nil {
				continue
			}
			select {
			case sub.ch <- *frame.Env:
			case <-sub.done:
				return
			}
		}
	}()

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub, nil
}

// Subscribe implements transport.Bus.
func (c *Client) Subscribe(ctx context.Context, subject string) (transport.Subscription, error) {
	return c.subscribe(ctx, subject, "", false)
}

// QueueSubscribe implements transport.Bus.
func (c *Client) QueueSubscribe(ctx context.Context, subject, group string) (transport.Subscription, error) {
	return c.subscribe(ctx, subject, group, false)
}

// SubscribeDurable implements transport.Bus.
func (c *Client) SubscribeDurable(ctx context.Context, subject string) (transport.Subscription, error) {
	return c.subscribe(ctx, subject, "", true)
}

// Close closes every outstanding stream and the underlying connection.
func (c *Client) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.mu.Lock()
	for _, s := range c.subs {
		s.unsub()
	}
	for _, s := range c.pubOpen {
		_ = s.Close()
	}
	c.mu.Unlock()

	return c.conn.CloseWithError(0, "client closed")
}

type clientSubscription struct {
	ch    chan wire.Envelope
	done  chan struct{}
	unsub func()
}

func (s *clientSubscription) Messages() <-chan wire.Envelope { return s.ch }
func (s *clientSubscription) Unsubscribe() error             { s.unsub(); return nil }

var _ transport.Bus = (*Client)(nil)
